package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mekongcart/api/internal/domain"
)

// CartRepository persists cart lines in Postgres.
type CartRepository struct {
	db *gorm.DB
}

// ListByUser returns the user's cart lines ordered by insertion.
func (r *CartRepository) ListByUser(ctx context.Context, userID uint) ([]domain.CartItem, error) {
	var items []domain.CartItem
	if err := session(ctx, r.db).Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, wrapError("carts.list_by_user", err)
	}
	return items, nil
}

// ListByUserForUpdate locks the user's cart lines for the duration of the
// surrounding transaction so a concurrent placement cannot convert the same
// lines twice.
func (r *CartRepository) ListByUserForUpdate(ctx context.Context, userID uint) ([]domain.CartItem, error) {
	var items []domain.CartItem
	err := session(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, wrapError("carts.list_by_user_for_update", err)
	}
	return items, nil
}

// DeleteByUserAndVariants removes the cart lines converted into an order.
// Lines for variants outside variantIDs survive untouched.
func (r *CartRepository) DeleteByUserAndVariants(ctx context.Context, userID uint, variantIDs []uint) error {
	if len(variantIDs) == 0 {
		return nil
	}
	err := session(ctx, r.db).
		Where("user_id = ? AND variant_id IN ?", userID, variantIDs).
		Delete(&domain.CartItem{}).Error
	if err != nil {
		return wrapError("carts.delete_by_user_and_variants", err)
	}
	return nil
}
