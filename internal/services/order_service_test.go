package services

import (
	"context"
	"errors"
	"testing"

	"github.com/mekongcart/api/internal/domain"
)

func newOrderFixture(t *testing.T, seed domain.Order) (*stubRegistry, OrderService, *recordingPublisher) {
	t.Helper()
	reg := newStubRegistry()
	if seed.ID != 0 {
		reg.orders[seed.ID] = seed
		reg.nextOrderID = seed.ID + 1
	}
	publisher := &recordingPublisher{}
	svc, err := NewOrderService(OrderServiceDeps{
		Repositories: reg,
		Publisher:    publisher,
		Clock:        testClock,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return reg, svc, publisher
}

func TestGetOrderNotFound(t *testing.T) {
	_, svc, _ := newOrderFixture(t, domain.Order{})
	_, err := svc.GetOrder(context.Background(), 42)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrdersDefaultsPaging(t *testing.T) {
	reg, svc, _ := newOrderFixture(t, domain.Order{})
	reg.listResult = []domain.Order{{ID: 1}, {ID: 2}}
	reg.listTotal = 2

	page, err := svc.ListOrders(context.Background(), OrderListQuery{})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if reg.lastListFilter.Offset != 0 || reg.lastListFilter.Limit != 50 {
		t.Fatalf("expected default offset 0 limit 50, got %d/%d", reg.lastListFilter.Offset, reg.lastListFilter.Limit)
	}
	if page.Page != 1 || page.PageSize != 50 || page.Total != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestListOrdersComputesOffset(t *testing.T) {
	reg, svc, _ := newOrderFixture(t, domain.Order{})
	status := domain.OrderStatusPending

	_, err := svc.ListOrders(context.Background(), OrderListQuery{Status: &status, Page: 3, PageSize: 20})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if reg.lastListFilter.Offset != 40 || reg.lastListFilter.Limit != 20 {
		t.Fatalf("expected offset 40 limit 20, got %d/%d", reg.lastListFilter.Offset, reg.lastListFilter.Limit)
	}
	if reg.lastListFilter.Status == nil || *reg.lastListFilter.Status != status {
		t.Fatal("expected status filter propagated")
	}
}

func TestTransitionStatusConfirmsOrder(t *testing.T) {
	reg, svc, publisher := newOrderFixture(t, domain.Order{
		ID: 1, UserID: 7,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusUnpaid,
		PaymentMethodCode: domain.PaymentMethodCOD,
	})

	confirmed := domain.OrderStatusConfirmed
	updated, err := svc.TransitionStatus(context.Background(), TransitionCommand{OrderID: 1, OrderStatus: &confirmed})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}
	if reg.orders[1].Status != domain.OrderStatusConfirmed {
		t.Fatal("expected persisted status updated")
	}
	if len(publisher.messages) != 1 || publisher.messages[0].EventType != EventOrderStatusChanged {
		t.Fatalf("expected order.status_changed event, got %+v", publisher.messages)
	}
}

func TestTransitionStatusManualPaidStampsPaidAt(t *testing.T) {
	_, svc, _ := newOrderFixture(t, domain.Order{
		ID: 1, UserID: 7,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethodCode: domain.PaymentMethodBankTransfer,
	})

	paid := domain.PaymentStatusPaid
	updated, err := svc.TransitionStatus(context.Background(), TransitionCommand{OrderID: 1, PaymentStatus: &paid})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	want := testClock().UTC()
	if updated.PaidAt == nil || !updated.PaidAt.Equal(want) {
		t.Fatalf("expected paidAt %v, got %v", want, updated.PaidAt)
	}
}

func TestTransitionStatusRejectsManualGatewayPaid(t *testing.T) {
	reg, svc, publisher := newOrderFixture(t, domain.Order{
		ID: 1, UserID: 7,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethodCode: domain.PaymentMethodVNPay,
	})

	paid := domain.PaymentStatusPaid
	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{OrderID: 1, PaymentStatus: &paid})
	if !errors.Is(err, domain.ErrManualPaidForbidden) {
		t.Fatalf("expected ErrManualPaidForbidden, got %v", err)
	}
	if reg.orders[1].PaymentStatus != domain.PaymentStatusPending {
		t.Fatal("expected order unchanged after rejected transition")
	}
	if len(publisher.messages) != 0 {
		t.Fatal("expected no event for a rejected transition")
	}
}

func TestTransitionStatusCompletionRequiresPaid(t *testing.T) {
	_, svc, _ := newOrderFixture(t, domain.Order{
		ID: 1, UserID: 7,
		Status:            domain.OrderStatusShipped,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethodCode: domain.PaymentMethodCOD,
	})

	completed := domain.OrderStatusCompleted
	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{OrderID: 1, OrderStatus: &completed})
	if !errors.Is(err, domain.ErrCompletionRequiresPaid) {
		t.Fatalf("expected ErrCompletionRequiresPaid, got %v", err)
	}
}

func TestTransitionStatusBothAxesAtomically(t *testing.T) {
	reg, svc, _ := newOrderFixture(t, domain.Order{
		ID: 1, UserID: 7,
		Status:            domain.OrderStatusShipped,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethodCode: domain.PaymentMethodCOD,
	})

	completed := domain.OrderStatusCompleted
	paid := domain.PaymentStatusPaid
	updated, err := svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID:       1,
		OrderStatus:   &completed,
		PaymentStatus: &paid,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusCompleted || updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected completed/paid, got %s/%s", updated.Status, updated.PaymentStatus)
	}
	stored := reg.orders[1]
	if stored.Status != domain.OrderStatusCompleted || stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatal("expected both axes persisted together")
	}
}

func TestTransitionStatusRequiresATarget(t *testing.T) {
	_, svc, _ := newOrderFixture(t, domain.Order{ID: 1, Status: domain.OrderStatusPending})
	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{OrderID: 1})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestTransitionStatusUnknownOrder(t *testing.T) {
	_, svc, _ := newOrderFixture(t, domain.Order{})
	confirmed := domain.OrderStatusConfirmed
	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{OrderID: 99, OrderStatus: &confirmed})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
