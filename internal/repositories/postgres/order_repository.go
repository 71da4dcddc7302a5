package postgres

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/repositories"
)

// OrderRepository persists orders and their receipt lines in Postgres.
type OrderRepository struct {
	db *gorm.DB
}

// Insert stores the order together with its items in one create.
func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if err := session(ctx, r.db).Create(order).Error; err != nil {
		return wrapError("orders.insert", err)
	}
	return nil
}

// FindByID returns the order with its items preloaded.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (domain.Order, error) {
	var order domain.Order
	err := session(ctx, r.db).Preload("Items").First(&order, id).Error
	if err != nil {
		return domain.Order{}, wrapError("orders.find_by_id", err)
	}
	return order, nil
}

// FindByIDForUpdate locks the order row for the duration of the surrounding
// transaction. Items are loaded after the lock is held.
func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, id uint) (domain.Order, error) {
	var order domain.Order
	err := session(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, id).Error
	if err != nil {
		return domain.Order{}, wrapError("orders.find_by_id_for_update", err)
	}
	if err := session(ctx, r.db).Where("order_id = ?", id).Order("id ASC").Find(&order.Items).Error; err != nil {
		return domain.Order{}, wrapError("orders.find_by_id_for_update", err)
	}
	return order, nil
}

// UpdateStatuses writes only the status axes and the paid timestamp; receipt
// lines and totals never change after insertion.
func (r *OrderRepository) UpdateStatuses(ctx context.Context, order domain.Order) error {
	result := session(ctx, r.db).
		Model(&domain.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
			"paid_at":        order.PaidAt,
		})
	if result.Error != nil {
		return wrapError("orders.update_statuses", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.NewError("orders.update_statuses", repositories.ErrorNotFound, gorm.ErrRecordNotFound)
	}
	return nil
}

// UpdateInstructions writes the opaque payment instructions document for an order.
func (r *OrderRepository) UpdateInstructions(ctx context.Context, id uint, snapshot []byte) error {
	result := session(ctx, r.db).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Update("payment_instructions_snapshot", datatypes.JSON(snapshot))
	if result.Error != nil {
		return wrapError("orders.update_instructions", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.NewError("orders.update_instructions", repositories.ErrorNotFound, gorm.ErrRecordNotFound)
	}
	return nil
}

// List returns a page of orders plus the total row count for the filter.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, int64, error) {
	query := session(ctx, r.db).Model(&domain.Order{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PaymentStatus != nil {
		query = query.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapError("orders.list", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var orders []domain.Order
	err := query.
		Preload("Items").
		Order("created_at DESC, id DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, wrapError("orders.list", err)
	}
	return orders, total, nil
}
