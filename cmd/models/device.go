package models

import (
	"time"

	"gorm.io/gorm"
)

// Supported device platforms.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// UserDevice holds the transport credentials for one device of a user.
// Exactly one credential set is populated, matching Platform.
type UserDevice struct {
	gorm.Model
	UserID          uint      `gorm:"not null;index" json:"userId"`
	Platform        string    `gorm:"type:varchar(20);not null" json:"platform"`
	DeviceName      string    `gorm:"type:varchar(100)" json:"deviceName,omitempty"`
	APNSToken       string    `gorm:"index" json:"apnsToken,omitempty"`
	FCMToken        string    `gorm:"index" json:"fcmToken,omitempty"`
	WebPushEndpoint string    `gorm:"type:text" json:"webPushEndpoint,omitempty"`
	WebPushP256dh   string    `json:"webPushP256dh,omitempty"`
	WebPushAuth     string    `json:"webPushAuth,omitempty"`
	OnlyLocal       bool      `gorm:"default:false" json:"onlyLocal"`
	LastUsed        time.Time `json:"lastUsed"`
}

// DeviceRequest represents a device registration request
type DeviceRequest struct {
	UserID          uint   `json:"userId"`
	Platform        string `json:"platform"`
	DeviceName      string `json:"deviceName,omitempty"`
	APNSToken       string `json:"apnsToken,omitempty"`
	FCMToken        string `json:"fcmToken,omitempty"`
	WebPushEndpoint string `json:"webPushEndpoint,omitempty"`
	WebPushP256dh   string `json:"webPushP256dh,omitempty"`
	WebPushAuth     string `json:"webPushAuth,omitempty"`
	OnlyLocal       bool   `json:"onlyLocal"`
}
