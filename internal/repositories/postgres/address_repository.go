package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mekongcart/api/internal/domain"
)

// AddressRepository reads stored shipping addresses from Postgres.
type AddressRepository struct {
	db *gorm.DB
}

// FindByID returns the address with the given id.
func (r *AddressRepository) FindByID(ctx context.Context, id uint) (domain.Address, error) {
	var addr domain.Address
	if err := session(ctx, r.db).First(&addr, id).Error; err != nil {
		return domain.Address{}, wrapError("addresses.find_by_id", err)
	}
	return addr, nil
}

// FindByIDForUpdate locks the address row so its fields cannot change between
// validation and snapshotting inside a placement transaction.
func (r *AddressRepository) FindByIDForUpdate(ctx context.Context, id uint) (domain.Address, error) {
	var addr domain.Address
	err := session(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&addr, id).Error
	if err != nil {
		return domain.Address{}, wrapError("addresses.find_by_id_for_update", err)
	}
	return addr, nil
}
