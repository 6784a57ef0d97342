package dispatch

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// Store is the persistence surface the orchestrator depends on. Narrow
// enough to fake in tests without a database.
type Store interface {
	DevicesForBucket(bucketID uint, userIDs []uint) ([]models.UserDevice, error)
	DevicesForUser(userID uint) ([]models.UserDevice, error)
	DeviceByID(id uint) (*models.UserDevice, error)
	MessageByID(id uint) (*models.Message, error)
	NotificationByID(id uint) (*models.Notification, error)
	NotificationFor(messageID, deviceID uint) (*models.Notification, error)
	CreateNotification(n *models.Notification) error
	SaveNotification(n *models.Notification) error
	SnoozeState(userID, bucketID uint) (*models.SnoozeState, error)
	Setting(userID, deviceID uint, key string) (string, bool)
}

// AuditSink records execution records. Writes are best-effort: a failing
// sink must never fail or block a dispatch.
type AuditSink interface {
	Record(rec *models.ExecutionRecord)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DevicesForBucket resolves the devices of all users authorized for the
// bucket, optionally narrowed to specific users. Ordering is deterministic
// within one dispatch: most recently used device first.
func (s *GormStore) DevicesForBucket(bucketID uint, userIDs []uint) ([]models.UserDevice, error) {
	subscribers := s.db.Model(&models.BucketUser{}).Select("user_id").Where("bucket_id = ?", bucketID)
	query := s.db.Where("user_id IN (?)", subscribers)
	if len(userIDs) > 0 {
		query = query.Where("user_id IN ?", userIDs)
	}

	var devices []models.UserDevice
	if err := query.Order("last_used DESC, id ASC").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (s *GormStore) DevicesForUser(userID uint) ([]models.UserDevice, error) {
	var devices []models.UserDevice
	err := s.db.Where("user_id = ?", userID).Order("last_used DESC, id ASC").Find(&devices).Error
	return devices, err
}

func (s *GormStore) DeviceByID(id uint) (*models.UserDevice, error) {
	var device models.UserDevice
	if err := s.db.First(&device, id).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *GormStore) MessageByID(id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *GormStore) NotificationByID(id uint) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *GormStore) NotificationFor(messageID, deviceID uint) (*models.Notification, error) {
	var n models.Notification
	err := s.db.Where("message_id = ? AND device_id = ?", messageID, deviceID).First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *GormStore) CreateNotification(n *models.Notification) error {
	return s.db.Create(n).Error
}

func (s *GormStore) SaveNotification(n *models.Notification) error {
	return s.db.Save(n).Error
}

func (s *GormStore) SnoozeState(userID, bucketID uint) (*models.SnoozeState, error) {
	var state models.SnoozeState
	err := s.db.Preload("Windows").
		Where("user_id = ? AND bucket_id = ?", userID, bucketID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Setting reads a user setting, preferring a device-specific row over the
// user-wide one (device id zero).
func (s *GormStore) Setting(userID, deviceID uint, key string) (string, bool) {
	var setting models.UserSetting
	if deviceID != 0 {
		err := s.db.Where("user_id = ? AND device_id = ? AND key = ?", userID, deviceID, key).
			First(&setting).Error
		if err == nil {
			return setting.Value, true
		}
	}
	err := s.db.Where("user_id = ? AND device_id = 0 AND key = ?", userID, key).
		First(&setting).Error
	if err != nil {
		return "", false
	}
	return setting.Value, true
}

type GormAuditSink struct {
	db *gorm.DB
}

func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: db}
}

func (s *GormAuditSink) Record(rec *models.ExecutionRecord) {
	if rec.PublicID == "" {
		rec.PublicID = uuid.New().String()
	}
	if err := s.db.Create(rec).Error; err != nil {
		// Log this error but don't fail the dispatch
		log.Printf("Error recording execution audit for entity %d: %v", rec.EntityID, err)
	}
}
