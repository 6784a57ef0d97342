package db

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func NewPSQLStorage(connString string) (*gorm.DB, error) {

	db, err := gorm.Open(postgres.Open(connString), &gorm.Config{})

	if err != nil {
		return nil, err
	}

	// Optional: Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)

	sqlDB.SetMaxIdleConns(25)

	return db, nil
}

// NewRedisClient connects the keyed usage-stats store.
func NewRedisClient(address, password string, dbNum int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       dbNum,
	})
}
