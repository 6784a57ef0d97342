package sweeper

import (
	"time"

	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindDue returns all records whose send time has passed, oldest first.
func (s *GormStore) FindDue(now time.Time) ([]models.DeferredDelivery, error) {
	var due []models.DeferredDelivery
	err := s.db.Where("send_at <= ?", now).Order("send_at ASC").Find(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (s *GormStore) Delete(id uint) error {
	return s.db.Delete(&models.DeferredDelivery{}, id).Error
}
