package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// HealthRepository verifies Postgres connectivity for readiness probes.
type HealthRepository struct {
	db *gorm.DB
}

// Ping checks that the connection pool can reach the database.
func (r *HealthRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("health: unwrap sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("health: ping: %w", err)
	}
	return nil
}
