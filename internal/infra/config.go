package infra

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"mdp_go/internal/domain"

	"gopkg.in/yaml.v3"
)

// FeedPair holds the A and B lines of a feed as host:port multicast groups.
type FeedPair struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// Lines returns the configured lines keyed by name.
func (p FeedPair) Lines() map[string]string {
	lines := make(map[string]string, 2)
	if p.A != "" {
		lines["A"] = p.A
	}
	if p.B != "" {
		lines["B"] = p.B
	}
	return lines
}

// ChannelConfig describes the feeds of one market data channel.
type ChannelConfig struct {
	ID          int      `yaml:"id"`
	Incremental FeedPair `yaml:"incremental"`
	Snapshot    FeedPair `yaml:"snapshot"`
	Instrument  FeedPair `yaml:"instrument"`
}

// NetworkConfig holds socket settings shared by every feed line.
type NetworkConfig struct {
	Interface  string `yaml:"interface"`
	ReadBuffer int    `yaml:"read_buffer"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수로 배포 환경별 값을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`

	Network NetworkConfig `yaml:"network"`

	Queue struct {
		Size     int `yaml:"size"`
		SlotSize int `yaml:"slot_size"`
	} `yaml:"queue"`

	Recovery struct {
		SnapshotCycles         int           `yaml:"snapshot_cycles"`
		IncrementalIdleTimeout time.Duration `yaml:"incremental_idle_timeout"`
		GapStallTimeout        time.Duration `yaml:"gap_stall_timeout"`
		SnapshotCycleTimeout   time.Duration `yaml:"snapshot_cycle_timeout"`
		MonitorInterval        time.Duration `yaml:"monitor_interval"`
	} `yaml:"recovery"`

	Channels []ChannelConfig `yaml:"channels"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with every optional value set.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "mdp-feedhandler"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Status.Addr = ":8080"
	cfg.Network.ReadBuffer = 4 << 20
	cfg.Queue.Size = 1024
	cfg.Queue.SlotSize = 1500
	cfg.Recovery.SnapshotCycles = 3
	cfg.Recovery.IncrementalIdleTimeout = 30 * time.Second
	cfg.Recovery.GapStallTimeout = 2 * time.Second
	cfg.Recovery.SnapshotCycleTimeout = time.Minute
	cfg.Recovery.MonitorInterval = time.Second
	return cfg
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Queue.Size <= 0 || c.Queue.Size&(c.Queue.Size-1) != 0 {
		return &domain.ConfigError{Field: "queue.size", Err: fmt.Errorf("%w: %d", domain.ErrInvalidQueueSize, c.Queue.Size)}
	}
	if c.Queue.SlotSize < 12 || c.Queue.SlotSize > 65535 {
		return &domain.ConfigError{Field: "queue.slot_size", Err: fmt.Errorf("must be within [12, 65535], got %d", c.Queue.SlotSize)}
	}
	if c.Recovery.SnapshotCycles <= 0 {
		return &domain.ConfigError{Field: "recovery.snapshot_cycles", Err: errors.New("must be positive")}
	}
	if c.Recovery.MonitorInterval <= 0 {
		return &domain.ConfigError{Field: "recovery.monitor_interval", Err: errors.New("must be positive")}
	}

	// Channels
	if len(c.Channels) == 0 {
		return &domain.ConfigError{Field: "channels", Err: errors.New("at least one channel is required")}
	}
	seen := make(map[int]bool, len(c.Channels))
	for i, ch := range c.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if ch.ID <= 0 || seen[ch.ID] {
			return &domain.ConfigError{Field: field + ".id", Err: fmt.Errorf("invalid or duplicate channel id %d", ch.ID)}
		}
		seen[ch.ID] = true
		if len(ch.Incremental.Lines()) == 0 {
			return &domain.ConfigError{Field: field + ".incremental", Err: errors.New("at least one line is required")}
		}
		if len(ch.Snapshot.Lines()) == 0 {
			return &domain.ConfigError{Field: field + ".snapshot", Err: errors.New("at least one line is required")}
		}
		for _, pair := range []FeedPair{ch.Incremental, ch.Snapshot, ch.Instrument} {
			for name, addr := range pair.Lines() {
				if _, _, err := net.SplitHostPort(addr); err != nil {
					return &domain.ConfigError{Field: field, Err: fmt.Errorf("line %s: %w", name, err)}
				}
			}
		}
	}

	return nil
}

// Channel returns the configuration of channel id.
func (c *Config) Channel(id int) (ChannelConfig, error) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return ChannelConfig{}, fmt.Errorf("%w: %d", domain.ErrUnknownChannel, id)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if level := os.Getenv("MDP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if path := os.Getenv("MDP_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if iface := os.Getenv("MDP_INTERFACE"); iface != "" {
		cfg.Network.Interface = iface
	}
	if addr := os.Getenv("MDP_STATUS_ADDR"); addr != "" {
		cfg.Status.Addr = addr
	}
}
