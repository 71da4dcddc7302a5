package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/payments"
	"github.com/mekongcart/api/internal/repositories"
)

// ErrReturnInvalidInput indicates the callback parameters are malformed.
var ErrReturnInvalidInput = errors.New("payment return service: invalid input")

// ErrReturnUnknownTxnRef indicates no payment transaction carries the callback's reference.
var ErrReturnUnknownTxnRef = errors.New("payment return service: unknown transaction reference")

// ErrReturnUnavailable indicates the service cannot reach its backends.
var ErrReturnUnavailable = errors.New("payment return service: unavailable")

// Stable protocol-violation codes surfaced to callers.
const (
	ReturnCodeInvalidMerchant  = "INVALID_MERCHANT"
	ReturnCodeInvalidSignature = "INVALID_SIGNATURE"
	ReturnCodeAmountMismatch   = "AMOUNT_MISMATCH"
)

var (
	errReturnRepositoriesRequired = errors.New("payment return service: repositories are required")
	errReturnGatewayRequired      = errors.New("payment return service: gateway is required")
)

// PaymentReturnServiceDeps wires the repositories and gateway for callback reconciliation.
type PaymentReturnServiceDeps struct {
	Repositories repositories.Registry
	Gateway      payments.Provider
	Publisher    OrderEventPublisher
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type paymentReturnService struct {
	repos     repositories.Registry
	gateway   payments.Provider
	publisher OrderEventPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewPaymentReturnService constructs a PaymentReturnService enforcing dependency validation.
func NewPaymentReturnService(deps PaymentReturnServiceDeps) (PaymentReturnService, error) {
	if deps.Repositories == nil {
		return nil, errReturnRepositoriesRequired
	}
	if deps.Gateway == nil {
		return nil, errReturnGatewayRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentReturnService{
		repos:     deps.Repositories,
		gateway:   deps.Gateway,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// HandleReturn verifies one gateway callback and drives the order to a
// terminal payment outcome exactly once. The whole reconciliation runs inside
// a single transaction holding row locks on the payment transaction and the
// order, so concurrent retries for the same reference serialise and the
// already-paid short-circuit is race free.
func (s *paymentReturnService) HandleReturn(ctx context.Context, params map[string]string) (ReturnResult, error) {
	cb := s.gateway.ParseCallback(params)
	if cb.TxnRef == "" {
		return ReturnResult{}, fmt.Errorf("%w: missing transaction reference", ErrReturnInvalidInput)
	}

	var (
		result    ReturnResult
		order     domain.Order
		eventType string
	)

	err := s.repos.RunInTx(ctx, func(ctx context.Context) error {
		txn, err := s.repos.PaymentTransactions().FindByTxnRefForUpdate(ctx, cb.TxnRef)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrReturnUnknownTxnRef
			}
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}

		order, err = s.repos.Orders().FindByIDForUpdate(ctx, txn.OrderID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrReturnUnknownTxnRef
			}
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}

		// A callback for an already-settled order is a gateway retry: count it
		// for the audit trail and return the prior outcome without touching
		// the order, the paid timestamp, or the stored raw payloads.
		if order.PaymentStatus == domain.PaymentStatusPaid {
			txn.IpnCount++
			if err := s.repos.PaymentTransactions().Update(ctx, &txn); err != nil {
				return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
			}
			result = ReturnResult{
				OrderID:     order.ID,
				Status:      domain.PaymentStatusPaid,
				Message:     "order already paid",
				AlreadyPaid: true,
			}
			return nil
		}

		// Persist the raw payload before any verification so failed callbacks
		// remain replayable for forensics.
		rawResponse, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}
		txn.RawResponse = rawResponse
		txn.IpnCount++
		signatureOk := false
		txn.SignatureOk = &signatureOk
		if err := s.repos.PaymentTransactions().Update(ctx, &txn); err != nil {
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}

		if cb.MerchantCode != s.gateway.MerchantCode() {
			result, err = s.resolveFailure(ctx, &txn, &order, cb, ReturnCodeInvalidMerchant)
			eventType = EventOrderPaymentFailed
			return err
		}

		signatureOk = s.gateway.VerifySignature(params)
		txn.SignatureOk = &signatureOk
		if !signatureOk {
			result, err = s.resolveFailure(ctx, &txn, &order, cb, ReturnCodeInvalidSignature)
			eventType = EventOrderPaymentFailed
			return err
		}

		// Amounts are compared as decimal strings of VND x 100; no float math.
		expected := strconv.FormatInt(order.TotalAmount*100, 10)
		if received, parseErr := strconv.ParseInt(cb.Amount, 10, 64); parseErr == nil {
			vnd := received / 100
			txn.AmountVndReceived = &vnd
		}
		if cb.Amount != expected {
			result, err = s.resolveFailure(ctx, &txn, &order, cb, ReturnCodeAmountMismatch)
			eventType = EventOrderPaymentFailed
			return err
		}

		if !cb.Succeeded {
			result, err = s.resolveFailure(ctx, &txn, &order, cb, "")
			eventType = EventOrderPaymentFailed
			return err
		}

		return s.resolveSuccess(ctx, &txn, &order, cb, &result, &eventType)
	})
	if err != nil {
		return ReturnResult{}, err
	}

	s.logger(ctx, "payment_return.resolved", map[string]any{
		"orderID":     result.OrderID,
		"txnRef":      cb.TxnRef,
		"status":      string(result.Status),
		"code":        result.Code,
		"alreadyPaid": result.AlreadyPaid,
	})
	if eventType != "" {
		s.publishEvent(ctx, eventType, order)
	}
	return result, nil
}

func (s *paymentReturnService) resolveSuccess(ctx context.Context, txn *domain.PaymentTransaction, order *domain.Order, cb payments.Callback, result *ReturnResult, eventType *string) error {
	confirmed := domain.OrderStatusConfirmed
	paid := domain.PaymentStatusPaid
	change := domain.StatusChange{OrderStatus: &confirmed, PaymentStatus: &paid, ViaGateway: true}
	if err := domain.ValidateStatusChange(*order, change); err != nil {
		return err
	}

	now := s.now()
	order.Status = confirmed
	order.PaymentStatus = paid
	order.PaidAt = &now
	if err := s.repos.Orders().UpdateStatuses(ctx, *order); err != nil {
		return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
	}

	txn.Status = domain.TransactionStatusPaid
	s.recordGatewayFields(txn, cb)
	if err := s.repos.PaymentTransactions().Update(ctx, txn); err != nil {
		return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
	}

	*result = ReturnResult{
		OrderID: order.ID,
		Status:  domain.PaymentStatusPaid,
		Message: "payment confirmed",
	}
	*eventType = EventOrderPaid
	return nil
}

// resolveFailure drives both the transaction and the order to failed. An
// empty code means the gateway itself declined; the response code becomes the
// recorded reason.
func (s *paymentReturnService) resolveFailure(ctx context.Context, txn *domain.PaymentTransaction, order *domain.Order, cb payments.Callback, code string) (ReturnResult, error) {
	reason := code
	if reason == "" {
		reason = cb.ResponseCode
	}

	txn.Status = domain.TransactionStatusFailed
	txn.FailReason = reason
	s.recordGatewayFields(txn, cb)
	if err := s.repos.PaymentTransactions().Update(ctx, txn); err != nil {
		return ReturnResult{}, fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
	}

	if order.PaymentStatus != domain.PaymentStatusFailed &&
		domain.CanTransitionPaymentStatus(order.PaymentStatus, domain.PaymentStatusFailed) {
		order.PaymentStatus = domain.PaymentStatusFailed
		if err := s.repos.Orders().UpdateStatuses(ctx, *order); err != nil {
			return ReturnResult{}, fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}
	}

	return ReturnResult{
		OrderID: order.ID,
		Status:  domain.PaymentStatusFailed,
		Code:    code,
		Message: "payment failed: " + reason,
	}, nil
}

func (s *paymentReturnService) recordGatewayFields(txn *domain.PaymentTransaction, cb payments.Callback) {
	txn.ResponseCode = cb.ResponseCode
	txn.BankCode = cb.BankCode
	txn.CardType = cb.CardType
	txn.GatewayTxnNo = cb.TransactionNo
	txn.PayDate = cb.PayDate
}

func (s *paymentReturnService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
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
		s.logger(ctx, "payment_return.event_publish_failed", map[string]any{
			"orderID":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}
