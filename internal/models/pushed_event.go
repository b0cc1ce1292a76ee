package models

import "time"

// PushedEventsTable is the ledger table name.
const PushedEventsTable = "github_pushed_events"

// LegacyEventIDsTable is the single-key id table written by the first
// releases: event_id primary key plus a pushed_at timestamp.
const LegacyEventIDsTable = "github_pushed_event_ids"

// PushedEvent is a ledger row: one delivered or ignored event of an account.
type PushedEvent struct {
	Account     string    `json:"account" gorm:"primaryKey;type:varchar(255);not null;default:''"`
	EventID     string    `json:"event_id" gorm:"primaryKey;type:varchar(255);not null"`
	DeliveredAt time.Time `json:"delivered_at" gorm:"not null;index"`
}

// TableName specifies the table name for PushedEvent
func (PushedEvent) TableName() string {
	return PushedEventsTable
}

// LegacyPushedEvent is the single-key layout written before ledger rows
// carried an account.
type LegacyPushedEvent struct {
	EventID     string    `gorm:"primaryKey;type:varchar(255);not null"`
	DeliveredAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for LegacyPushedEvent
func (LegacyPushedEvent) TableName() string {
	return PushedEventsTable
}
