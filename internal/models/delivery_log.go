package models

import "time"

// Delivery attempt statuses.
const (
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailure = "failure"
	DeliveryStatusIgnored = "ignored"
)

// DeliveryLog represents a log entry for a notification delivery attempt
type DeliveryLog struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeliveryID  string    `json:"delivery_id" gorm:"type:varchar(64);not null;index"`
	Account     string    `json:"account" gorm:"type:varchar(255);not null;index"`
	EventID     string    `json:"event_id" gorm:"type:varchar(255);not null;index"`
	EventType   string    `json:"event_type" gorm:"type:varchar(64)"`
	Destination string    `json:"destination" gorm:"type:varchar(255)"`
	Status      string    `json:"status" gorm:"type:varchar(50);not null"`
	ErrorMsg    string    `json:"error_msg" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for DeliveryLog
func (DeliveryLog) TableName() string {
	return "delivery_logs"
}
