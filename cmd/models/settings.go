package models

import (
	"gorm.io/gorm"
)

// Well-known user setting keys.
const (
	SettingUnencryptOnBigPayload = "UnencryptOnBigPayload"
	SettingLocale                = "locale"
	SettingAutoDeleteAction      = "autoDeleteAction"
	SettingAutoMarkReadAction    = "autoMarkReadAction"
	SettingAutoOpenAction        = "autoOpenAction"
	SettingDefaultSnoozeMinutes  = "defaultSnoozeMinutes"
	SettingDefaultPostponeMins   = "defaultPostponeMinutes"
)

// UserSetting is a per-user key/value setting. DeviceID zero means the value
// applies user-wide; a row with a concrete DeviceID overrides it.
type UserSetting struct {
	gorm.Model
	UserID   uint   `gorm:"not null;index;uniqueIndex:idx_user_device_key" json:"userId"`
	DeviceID uint   `gorm:"index;uniqueIndex:idx_user_device_key" json:"deviceId"`
	Key      string `gorm:"type:varchar(60);not null;uniqueIndex:idx_user_device_key" json:"key"`
	Value    string `gorm:"type:text" json:"value"`
}
