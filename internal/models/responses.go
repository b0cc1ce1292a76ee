package models

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler string            `json:"scheduler"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// StatusResponse is the operator status view. Building it never writes
// to the ledger.
type StatusResponse struct {
	TrackedAccounts  int              `json:"tracked_accounts"`
	Destinations     int              `json:"destinations"`
	AccountDelivered map[string]int64 `json:"account_delivered"`
	TotalDelivered   int64            `json:"total_delivered"`
	IntervalSeconds  float64          `json:"interval_seconds"`
	Running          bool             `json:"running"`
	Polling          bool             `json:"polling"`
	LastCycle        *time.Time       `json:"last_cycle,omitempty"`
	LastCleanup      *time.Time       `json:"last_cleanup,omitempty"`
	NextCleanup      *time.Time       `json:"next_cleanup,omitempty"`
}

// LedgerResponse describes the ledger state of one account.
type LedgerResponse struct {
	Account       string     `json:"account"`
	Delivered     int64      `json:"delivered"`
	LastDelivered *time.Time `json:"last_delivered,omitempty"`
}

// TestResponse reports the outcome of a test notification.
type TestResponse struct {
	EventID      string   `json:"event_id"`
	EventType    string   `json:"event_type"`
	Text         string   `json:"text"`
	Delivered    []string `json:"delivered"`
	Failed       []string `json:"failed,omitempty"`
	Destinations int      `json:"destinations"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
