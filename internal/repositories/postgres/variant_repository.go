package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mekongcart/api/internal/domain"
)

// VariantRepository reads catalogue variants from Postgres.
type VariantRepository struct {
	db *gorm.DB
}

// FindByIDs returns the variants matching the supplied ids. Missing ids are
// simply absent from the result; callers decide how to report them.
func (r *VariantRepository) FindByIDs(ctx context.Context, ids []uint) ([]domain.ProductVariant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var variants []domain.ProductVariant
	if err := session(ctx, r.db).Where("id IN ?", ids).Find(&variants).Error; err != nil {
		return nil, wrapError("variants.find_by_ids", err)
	}
	return variants, nil
}

// FindByIDsForUpdate locks the matching variant rows for the duration of the
// surrounding transaction. Rows are locked in ascending id order so concurrent
// placements cannot deadlock against each other.
func (r *VariantRepository) FindByIDsForUpdate(ctx context.Context, ids []uint) ([]domain.ProductVariant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var variants []domain.ProductVariant
	err := session(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&variants).Error
	if err != nil {
		return nil, wrapError("variants.find_by_ids_for_update", err)
	}
	return variants, nil
}
