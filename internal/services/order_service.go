package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/repositories"
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderUnavailable indicates the order service cannot reach its backends.
var ErrOrderUnavailable = errors.New("order service: unavailable")

var errOrderRepositoriesRequired = errors.New("order service: repositories are required")

// OrderServiceDeps wires the repositories for order reads and status mutations.
type OrderServiceDeps struct {
	Repositories repositories.Registry
	Publisher    OrderEventPublisher
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type orderService struct {
	repos     repositories.Registry
	publisher OrderEventPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Repositories == nil {
		return nil, errOrderRepositoriesRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		repos:     deps.Repositories,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// GetOrder loads an order with its receipt lines.
func (s *orderService) GetOrder(ctx context.Context, orderID uint) (domain.Order, error) {
	if orderID == 0 {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.repos.Orders().FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return order, nil
}

// ListOrders returns a page of orders matching the query, newest first.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (OrderPage, error) {
	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := repositories.OrderListFilter{
		Status:        query.Status,
		PaymentStatus: query.PaymentStatus,
		UserID:        query.UserID,
		Offset:        (page - 1) * pageSize,
		Limit:         pageSize,
	}
	orders, total, err := s.repos.Orders().List(ctx, filter)
	if err != nil {
		return OrderPage{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return OrderPage{Orders: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

// TransitionStatus applies a guarded status mutation on one or both axes.
// Validation and write happen under a row lock in one transaction, so either
// the whole change applies or none of it does.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (domain.Order, error) {
	if cmd.OrderID == 0 {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.OrderStatus == nil && cmd.PaymentStatus == nil {
		return domain.Order{}, fmt.Errorf("%w: at least one target status is required", ErrOrderInvalidInput)
	}

	var updated domain.Order
	err := s.repos.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.repos.Orders().FindByIDForUpdate(ctx, cmd.OrderID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}

		change := domain.StatusChange{
			OrderStatus:   cmd.OrderStatus,
			PaymentStatus: cmd.PaymentStatus,
		}
		if err := domain.ValidateStatusChange(order, change); err != nil {
			return err
		}

		if cmd.PaymentStatus != nil {
			if *cmd.PaymentStatus == domain.PaymentStatusPaid && order.PaymentStatus != domain.PaymentStatusPaid {
				now := s.now()
				order.PaidAt = &now
			}
			order.PaymentStatus = *cmd.PaymentStatus
		}
		if cmd.OrderStatus != nil {
			order.Status = *cmd.OrderStatus
		}

		if err := s.repos.Orders().UpdateStatuses(ctx, order); err != nil {
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.status_transitioned", map[string]any{
		"orderID":       updated.ID,
		"status":        string(updated.Status),
		"paymentStatus": string(updated.PaymentStatus),
	})
	s.publishEvent(ctx, EventOrderStatusChanged, updated)
	return updated, nil
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishOrderEvent(ctx, OrderEventMessage{
		EventType:      eventType,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethodCode),
		TotalAmountVnd: order.TotalAmount,
		OccurredAt:     s.now(),
	})
	if err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderID":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}
