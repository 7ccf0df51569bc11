package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"mdp_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists security definitions and the channel audit log.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path. An empty path
// selects the per-user default location.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		p, err := defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		path = p
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.SecurityDefinition{}, &domain.ChannelEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// defaultDBPath resolves the database file path based on OS
func defaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "MDPFeed", "data", "mdp.db"), nil
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Security Definitions
// ======================================================================================

// UpsertSecurity creates or updates a security definition. CreatedAt of an
// existing row is preserved.
func (s *Storage) UpsertSecurity(def *domain.SecurityDefinition) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "security_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "symbol", "security_group", "asset", "updated_at"}),
	}).Create(def).Error
}

// GetSecurity retrieves a definition by security id.
func (s *Storage) GetSecurity(securityID int32) (*domain.SecurityDefinition, error) {
	var def domain.SecurityDefinition
	err := s.db.First(&def, "security_id = ?", securityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListSecurities retrieves the definitions of a channel ordered by security id.
func (s *Storage) ListSecurities(channelID int) ([]domain.SecurityDefinition, error) {
	var defs []domain.SecurityDefinition
	err := s.db.Where("channel_id = ?", channelID).Order("security_id").Find(&defs).Error
	return defs, err
}

// DeleteSecurity removes a definition.
func (s *Storage) DeleteSecurity(securityID int32) error {
	return s.db.Where("security_id = ?", securityID).Delete(&domain.SecurityDefinition{}).Error
}

// ======================================================================================
// Channel Audit Log
// ======================================================================================

// RecordChannelEvent appends an audit record.
func (s *Storage) RecordChannelEvent(ev *domain.ChannelEvent) error {
	if ev.ID == "" {
		return errors.New("channel event requires an id")
	}
	return s.db.Create(ev).Error
}

// ListChannelEvents returns the most recent audit records of a channel,
// newest first.
func (s *Storage) ListChannelEvents(channelID int, limit int) ([]domain.ChannelEvent, error) {
	var events []domain.ChannelEvent
	q := s.db.Where("channel_id = ?", channelID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}
