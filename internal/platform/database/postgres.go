package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mekongcart/api/internal/domain"
)

// Open connects to Postgres with the pool settings the API expects.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database: dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: unwrap sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates the schema for every persisted aggregate.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("database: db is required")
	}
	if err := db.AutoMigrate(
		&domain.ProductVariant{},
		&domain.CartItem{},
		&domain.Address{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.PaymentTransaction{},
	); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}
