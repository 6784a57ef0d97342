package models

import (
	"gorm.io/gorm"
)

// Delivery types control whether and how hard a message is pushed.
const (
	DeliverySilent   = "SILENT"
	DeliveryNormal   = "NORMAL"
	DeliveryCritical = "CRITICAL"
	DeliveryNoPush   = "NO_PUSH"
)

type Bucket struct {
	gorm.Model
	Name    string `gorm:"not null" json:"name"`
	OwnerID uint   `gorm:"index" json:"ownerId"`
}

// BucketUser marks a user as authorized to receive messages from a bucket.
type BucketUser struct {
	gorm.Model
	BucketID uint `gorm:"not null;index;uniqueIndex:idx_bucket_user" json:"bucketId"`
	UserID   uint `gorm:"not null;index;uniqueIndex:idx_bucket_user" json:"userId"`
}

// Message is immutable content; the delivery core only ever reads it.
type Message struct {
	gorm.Model
	PublicID     string `gorm:"type:varchar(36);uniqueIndex" json:"publicId"`
	BucketID     uint   `gorm:"not null;index" json:"bucketId"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle,omitempty"`
	Body         string `gorm:"type:text" json:"body"`
	Attachments  string `gorm:"type:text" json:"attachments,omitempty"` // JSON array of URLs
	Actions      string `gorm:"type:text" json:"actions,omitempty"`     // JSON array of action buttons
	DeliveryType string `gorm:"type:varchar(20);default:NORMAL" json:"deliveryType"`
}

// MessageAction is one rendered action button on a notification.
type MessageAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
}

// MessageRequest represents a request to create and deliver a message
type MessageRequest struct {
	BucketID      uint            `json:"bucketId"`
	Title         string          `json:"title"`
	Subtitle      string          `json:"subtitle,omitempty"`
	Body          string          `json:"body"`
	Attachments   []string        `json:"attachments,omitempty"`
	Actions       []MessageAction `json:"actions,omitempty"`
	DeliveryType  string          `json:"deliveryType,omitempty"`
	TargetUserIDs []uint          `json:"targetUserIds,omitempty"`
}
