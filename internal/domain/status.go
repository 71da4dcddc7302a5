package domain

import (
	"errors"
	"fmt"
	"slices"
)

// OrderStatus is the fulfillment axis of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusLegacyPaid survives in old rows for backward-compatible reads.
	// It must never be written by new code.
	OrderStatusLegacyPaid OrderStatus = "paid"
)

// PaymentStatus is the money-collection axis of an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "unpaid"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

var (
	// ErrInvalidOrderTransition signals a fulfillment-status move outside the allowed table.
	ErrInvalidOrderTransition = errors.New("order: invalid status transition")
	// ErrInvalidPaymentTransition signals a payment-status move outside the allowed table.
	ErrInvalidPaymentTransition = errors.New("order: invalid payment status transition")
	// ErrManualPaidForbidden rejects marking a gateway order paid outside the verified callback.
	ErrManualPaidForbidden = errors.New("order: gateway orders may only be marked paid by the verified callback")
	// ErrPaymentCancellationForbidden rejects cancelling payment through the generic transition entry point.
	ErrPaymentCancellationForbidden = errors.New("order: payment cancellation has a dedicated flow")
	// ErrCompletionRequiresPaid rejects completing an order whose payment is not settled.
	ErrCompletionRequiresPaid = errors.New("order: completion requires a paid order")
)

var fulfillmentTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusCompleted},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:  {PaymentStatusPending, PaymentStatusFailed},
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
}

// CanTransitionOrderStatus reports whether the fulfillment axis may move from
// current to target. Same-state writes are treated as no-ops. The legacy
// "paid" value is never a valid target.
func CanTransitionOrderStatus(current, target OrderStatus) bool {
	if target == OrderStatusLegacyPaid {
		return false
	}
	if current == target {
		return true
	}
	return slices.Contains(fulfillmentTransitions[current], target)
}

// CanTransitionPaymentStatus reports whether the payment axis may move from
// current to target. "paid" is terminal; "failed" is reachable from any state
// that is not already paid.
func CanTransitionPaymentStatus(current, target PaymentStatus) bool {
	if current == target {
		return current != PaymentStatusPaid || target == PaymentStatusPaid
	}
	if current == PaymentStatusPaid {
		return false
	}
	if target == PaymentStatusFailed {
		return true
	}
	return slices.Contains(paymentTransitions[current], target)
}

// StatusChange carries the requested targets for one status mutation. Either
// axis may be nil, but not both.
type StatusChange struct {
	OrderStatus   *OrderStatus
	PaymentStatus *PaymentStatus
	// ViaGateway marks writes originating from the verified payment callback,
	// the only path allowed to settle gateway orders.
	ViaGateway bool
}

// ValidateStatusChange checks both axes together against the current order.
// The payment axis is validated first because the completed gate depends on
// the resulting payment status. Any failure rejects the whole change.
func ValidateStatusChange(order Order, change StatusChange) error {
	if change.OrderStatus == nil && change.PaymentStatus == nil {
		return fmt.Errorf("%w: no target status supplied", ErrInvalidOrderTransition)
	}

	resultingPayment := order.PaymentStatus
	if change.PaymentStatus != nil {
		target := *change.PaymentStatus
		if target == PaymentStatusCancelled {
			return ErrPaymentCancellationForbidden
		}
		if target == PaymentStatusPaid && order.PaymentMethodCode == PaymentMethodVNPay && !change.ViaGateway {
			return ErrManualPaidForbidden
		}
		if !CanTransitionPaymentStatus(order.PaymentStatus, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentTransition, order.PaymentStatus, target)
		}
		resultingPayment = target
	}

	if change.OrderStatus != nil {
		target := *change.OrderStatus
		if !CanTransitionOrderStatus(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderTransition, order.Status, target)
		}
		if target == OrderStatusCompleted && order.Status != target && resultingPayment != PaymentStatusPaid {
			return ErrCompletionRequiresPaid
		}
	}

	return nil
}

// InitialPaymentStatus returns the payment status an order starts in for the
// given method: cash on delivery stays unpaid until staff reconcile it, the
// other methods await settlement.
func InitialPaymentStatus(method PaymentMethod) PaymentStatus {
	if method == PaymentMethodCOD {
		return PaymentStatusUnpaid
	}
	return PaymentStatusPending
}
