package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification is one delivery record per (message, device) pair. A row is
// created at fan-out time for every device, including devices that end up
// skipped, so each device always has an addressable delivery record.
type Notification struct {
	gorm.Model
	MessageID  uint       `gorm:"not null;index" json:"messageId"`
	DeviceID   uint       `gorm:"not null;index" json:"deviceId"`
	UserID     uint       `gorm:"not null;index" json:"userId"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
}

// Deferred delivery kinds.
const (
	DeferredPostpone = "postpone"
	DeferredReminder = "reminder"
)

// DeferredDelivery schedules a future resend. Deleted on successful resend,
// retained unchanged on failure so the next sweep tick retries it.
type DeferredDelivery struct {
	gorm.Model
	NotificationID uint      `gorm:"index" json:"notificationId"` // zero for reminders
	MessageID      uint      `gorm:"not null;index" json:"messageId"`
	UserID         uint      `gorm:"not null;index" json:"userId"`
	SendAt         time.Time `gorm:"not null;index" json:"sendAt"`
	Kind           string    `gorm:"type:varchar(20);not null" json:"kind"`
}

// PostponeRequest represents a request to defer a notification resend
type PostponeRequest struct {
	SendAt time.Time `json:"sendAt"`
}

// ReminderRequest represents a request to schedule a message reminder
type ReminderRequest struct {
	UserID uint      `json:"userId"`
	SendAt time.Time `json:"sendAt"`
}
