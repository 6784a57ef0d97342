package models

import (
	"time"

	"gorm.io/gorm"
)

// SnoozeState is the per (user, bucket) quiet-window configuration. A bucket
// is suppressed if now is before SnoozeUntil or inside any enabled window.
type SnoozeState struct {
	gorm.Model
	UserID      uint           `gorm:"not null;index;uniqueIndex:idx_user_bucket" json:"userId"`
	BucketID    uint           `gorm:"not null;index;uniqueIndex:idx_user_bucket" json:"bucketId"`
	SnoozeUntil *time.Time     `json:"snoozeUntil,omitempty"`
	Windows     []SnoozeWindow `gorm:"foreignKey:SnoozeStateID" json:"windows,omitempty"`
}

// SnoozeWindow is a recurring quiet window. Days is a comma separated list of
// weekday names ("mon,tue,..."). Windows must not span two calendar days.
type SnoozeWindow struct {
	gorm.Model
	SnoozeStateID uint   `gorm:"not null;index" json:"snoozeStateId"`
	Days          string `gorm:"type:varchar(60)" json:"days"`
	TimeFrom      string `gorm:"type:varchar(5)" json:"timeFrom"` // "HH:MM"
	TimeTill      string `gorm:"type:varchar(5)" json:"timeTill"` // "HH:MM"
	Enabled       bool   `gorm:"default:true" json:"enabled"`
}

// SnoozeRequest represents a request to replace a user's snooze configuration
// for one bucket.
type SnoozeRequest struct {
	SnoozeUntil *time.Time            `json:"snoozeUntil,omitempty"`
	Windows     []SnoozeWindowRequest `json:"windows,omitempty"`
}

type SnoozeWindowRequest struct {
	Days     string `json:"days"`
	TimeFrom string `json:"timeFrom"`
	TimeTill string `json:"timeTill"`
	Enabled  bool   `json:"enabled"`
}
