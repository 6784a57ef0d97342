package models

import (
	"gorm.io/gorm"
)

// Execution record statuses.
const (
	ExecutionSuccess = "SUCCESS"
	ExecutionError   = "ERROR"
	ExecutionSkipped = "SKIPPED"
)

// ExecutionTypeNotification is currently the only audited entity type.
const ExecutionTypeNotification = "NOTIFICATION"

// ExecutionRecord is the append-only audit trail: one row per dispatch
// attempt, including every retry of the iOS cascade. Writes are best-effort
// and must never block or fail the dispatch itself.
type ExecutionRecord struct {
	gorm.Model
	PublicID   string `gorm:"type:varchar(36);uniqueIndex" json:"publicId"`
	Type       string `gorm:"type:varchar(30);not null" json:"type"`
	Status     string `gorm:"type:varchar(20);not null" json:"status"`
	EntityID   uint   `gorm:"index" json:"entityId"`
	Input      string `gorm:"type:text" json:"input,omitempty"`  // redacted message preview
	Output     string `gorm:"type:text" json:"output,omitempty"` // provider response JSON
	Errors     string `gorm:"type:text" json:"errors,omitempty"`
	DurationMs int64  `json:"durationMs"`
}
