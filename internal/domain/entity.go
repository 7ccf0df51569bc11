package domain

import (
	"time"
)

// SecurityDefinition is the persisted reference data of one instrument.
type SecurityDefinition struct {
	SecurityID    int32     `gorm:"primaryKey;autoIncrement:false" json:"security_id"`
	ChannelID     int       `json:"channel_id" gorm:"index"`
	Symbol        string    `json:"symbol" gorm:"index"`
	SecurityGroup string    `json:"security_group"`
	Asset         string    `json:"asset"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChannelEventKind classifies an audit record.
type ChannelEventKind string

const (
	ChannelEventStateChange   ChannelEventKind = "state_change"
	ChannelEventReset         ChannelEventKind = "reset"
	ChannelEventRecoveryStart ChannelEventKind = "recovery_start"
)

// ChannelEvent is an audit record of a channel transition.
type ChannelEvent struct {
	ID           string           `gorm:"primaryKey" json:"id"`
	ChannelID    int              `json:"channel_id" gorm:"index"`
	Kind         ChannelEventKind `json:"kind"`
	FromState    string           `json:"from_state"`
	ToState      string           `json:"to_state"`
	ProcessedSeq uint64           `json:"processed_seq"`
	CreatedAt    time.Time        `json:"created_at" gorm:"index"`
}
