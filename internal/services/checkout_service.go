package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/payments"
	"github.com/mekongcart/api/internal/platform/config"
	"github.com/mekongcart/api/internal/repositories"
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutEmptyCart indicates there are no lines to price.
var ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")

// ErrCheckoutNothingPriceable indicates no requested line resolved to a positive priced quantity.
var ErrCheckoutNothingPriceable = errors.New("checkout service: no priceable lines")

// ErrCheckoutAddressNotFound indicates the referenced shipping address does not exist for the user.
var ErrCheckoutAddressNotFound = errors.New("checkout service: address not found")

// ErrCheckoutMethodNotAllowed indicates the payment method is unknown or not currently offered.
var ErrCheckoutMethodNotAllowed = errors.New("checkout service: payment method not allowed")

// ErrCheckoutUnavailable indicates the checkout service cannot reach its backends.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

var (
	errCheckoutRepositoriesRequired = errors.New("checkout service: repositories are required")
	errCheckoutPricerRequired       = errors.New("checkout service: pricer is required")
)

// CheckoutServiceDeps wires the repositories, pricer, and gateway for checkout operations.
type CheckoutServiceDeps struct {
	Repositories repositories.Registry
	Pricer       Pricer
	// Gateway may be nil when the redirect method is not configured; placement
	// then rejects that method.
	Gateway      payments.Provider
	Shipping     config.ShippingConfig
	BankTransfer config.BankTransferConfig
	Publisher    OrderEventPublisher
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type checkoutService struct {
	repos     repositories.Registry
	pricer    Pricer
	gateway   payments.Provider
	shipping  config.ShippingConfig
	bank      config.BankTransferConfig
	publisher OrderEventPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Repositories == nil {
		return nil, errCheckoutRepositoriesRequired
	}
	if deps.Pricer == nil {
		return nil, errCheckoutPricerRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		repos:     deps.Repositories,
		pricer:    deps.Pricer,
		gateway:   deps.Gateway,
		shipping:  deps.Shipping,
		bank:      deps.BankTransfer,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Preview prices the requested lines against the current catalogue and returns
// the full cost breakdown. It performs no writes and takes no locks; pricing
// anomalies surface as per-line warnings.
func (s *checkoutService) Preview(ctx context.Context, cmd PreviewCommand) (Preview, error) {
	if cmd.UserID == 0 {
		return Preview{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	items, overrides, err := s.requestedItems(ctx, cmd.UserID, cmd.Source, cmd.Items, false)
	if err != nil {
		return Preview{}, err
	}

	lines, err := s.pricer.Resolve(ctx, items, ResolveOptions{PriceOverrides: overrides})
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	addressID, snapshot, err := s.resolveAddress(ctx, cmd.UserID, cmd.AddressID, cmd.ShippingSnapshot, false)
	if err != nil {
		return Preview{}, err
	}

	preview := Preview{
		AddressID:       addressID,
		AddressSnapshot: snapshot,
		Lines:           lines,
		Totals:          s.totalsFor(lines),
		HasAnyWarning:   hasAnyWarning(lines),
		Payment:         s.paymentPreview(cmd.PaymentMethodCode),
	}

	s.logger(ctx, "checkout.preview_completed", map[string]any{
		"userID":     cmd.UserID,
		"source":     string(cmd.Source),
		"lineCount":  len(lines),
		"grandTotal": preview.Totals.GrandTotalVnd,
		"hasWarning": preview.HasAnyWarning,
	})
	return preview, nil
}

// PlaceOrder converts the requested lines into a persisted order inside one
// database transaction. Pricing is re-run under row locks; the client-supplied
// preview is never trusted. Any failure rolls back the order, its items, and
// any payment transaction together.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Placement, error) {
	if cmd.UserID == 0 {
		return Placement{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if !domain.IsKnownPaymentMethod(cmd.PaymentMethodCode) {
		return Placement{}, fmt.Errorf("%w: %q", ErrCheckoutMethodNotAllowed, cmd.PaymentMethodCode)
	}
	if cmd.PaymentMethodCode == domain.PaymentMethodVNPay && s.gateway == nil {
		return Placement{}, fmt.Errorf("%w: gateway is not configured", ErrCheckoutMethodNotAllowed)
	}

	var (
		placement Placement
		placed    domain.Order
	)

	err := s.repos.RunInTx(ctx, func(ctx context.Context) error {
		items, overrides, err := s.requestedItems(ctx, cmd.UserID, cmd.Source, cmd.Items, true)
		if err != nil {
			return err
		}

		lines, err := s.pricer.Resolve(ctx, items, ResolveOptions{ForUpdate: true, PriceOverrides: overrides})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}

		priceable := make([]PricedLine, 0, len(lines))
		for _, line := range lines {
			if line.QtyPriced > 0 {
				priceable = append(priceable, line)
			}
		}
		if len(priceable) == 0 {
			return ErrCheckoutNothingPriceable
		}

		addressID, snapshot, err := s.resolveAddress(ctx, cmd.UserID, cmd.AddressID, cmd.ShippingSnapshot, true)
		if err != nil {
			return err
		}
		if snapshot == nil {
			return fmt.Errorf("%w: shipping address is required", ErrCheckoutInvalidInput)
		}

		order := domain.Order{
			UserID:            cmd.UserID,
			AddressID:         addressID,
			Status:            domain.OrderStatusPending,
			PaymentStatus:     domain.InitialPaymentStatus(cmd.PaymentMethodCode),
			PaymentMethodCode: cmd.PaymentMethodCode,
			Note:              strings.TrimSpace(cmd.Note),
		}
		order.ApplyShipping(*snapshot)

		var subtotal int64
		converted := make([]uint, 0, len(priceable))
		for _, line := range priceable {
			order.Items = append(order.Items, domain.OrderItem{
				VariantID: line.VariantID,
				ProductID: line.ProductID,
				Quantity:  line.QtyPriced,
				Price:     line.UnitPrice,
			})
			subtotal += line.QtyPriced * line.UnitPrice
			converted = append(converted, line.VariantID)
		}

		// Totals are recomputed from the item rows being persisted, closing
		// the gap between preview and commit.
		order.ShippingFee = s.shipping.FeeFor(subtotal)
		order.TotalAmount = subtotal + order.ShippingFee - order.DiscountTotal

		if err := s.repos.Orders().Insert(ctx, &order); err != nil {
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}

		placement = Placement{
			OrderID:           order.ID,
			PaymentMethodCode: cmd.PaymentMethodCode,
			PaymentStatus:     order.PaymentStatus,
			TotalAmountVnd:    order.TotalAmount,
		}

		switch cmd.PaymentMethodCode {
		case domain.PaymentMethodCOD:
			placement.Message = "Order placed. Payment is collected on delivery."
		case domain.PaymentMethodBankTransfer:
			if err := s.attachBankTransferInstructions(ctx, &order, &placement); err != nil {
				return err
			}
		case domain.PaymentMethodVNPay:
			if err := s.createGatewayRedirect(ctx, cmd, &order, &placement); err != nil {
				return err
			}
		}

		// Cart lines are deleted last so a failure before this point leaves
		// the cart intact for retry.
		if cmd.Source == SourceCart {
			if err := s.repos.Carts().DeleteByUserAndVariants(ctx, cmd.UserID, converted); err != nil {
				return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
			}
		}

		placed = order
		return nil
	})
	if err != nil {
		return Placement{}, err
	}

	s.logger(ctx, "checkout.order_placed", map[string]any{
		"orderID":     placed.ID,
		"userID":      placed.UserID,
		"method":      string(placed.PaymentMethodCode),
		"totalAmount": placed.TotalAmount,
	})
	s.publishEvent(ctx, EventOrderPlaced, placed)

	return placement, nil
}

func (s *checkoutService) attachBankTransferInstructions(ctx context.Context, order *domain.Order, placement *Placement) error {
	instructions := BankTransferInstructions{
		ImageURL:  s.bank.InstructionsImageURL,
		Note:      s.bank.NoteFor(order.ID),
		AmountVnd: order.TotalAmount,
	}
	raw, err := json.Marshal(instructions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if err := s.repos.Orders().UpdateInstructions(ctx, order.ID, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	order.PaymentInstructionsSnapshot = raw
	placement.PaymentInstructions = &instructions
	return nil
}

func (s *checkoutService) createGatewayRedirect(ctx context.Context, cmd PlaceOrderCommand, order *domain.Order, placement *Placement) error {
	redirect, err := s.gateway.BuildPaymentURL(ctx, payments.PaymentRequest{
		OrderID:   order.ID,
		AmountVnd: order.TotalAmount,
		OrderInfo: fmt.Sprintf("Thanh toan don hang %d", order.ID),
		ClientIP:  cmd.ClientIP,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	rawRequest, err := json.Marshal(redirect.Params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	txn := domain.PaymentTransaction{
		OrderID:    order.ID,
		Provider:   string(domain.PaymentMethodVNPay),
		TxnRef:     redirect.TxnRef,
		AmountVnd:  order.TotalAmount,
		Status:     domain.TransactionStatusPending,
		RawRequest: rawRequest,
	}
	if err := s.repos.PaymentTransactions().Insert(ctx, &txn); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	placement.PaymentURL = redirect.URL
	return nil
}

// requestedItems returns the lines to price plus price-at-add overrides for
// cart lines that captured one.
func (s *checkoutService) requestedItems(ctx context.Context, userID uint, source CheckoutSource, explicit []RequestedItem, forUpdate bool) ([]RequestedItem, map[uint]int64, error) {
	switch source {
	case SourceCart:
		var (
			cartItems []domain.CartItem
			err       error
		)
		if forUpdate {
			cartItems, err = s.repos.Carts().ListByUserForUpdate(ctx, userID)
		} else {
			cartItems, err = s.repos.Carts().ListByUser(ctx, userID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if len(cartItems) == 0 {
			return nil, nil, ErrCheckoutEmptyCart
		}

		items := make([]RequestedItem, 0, len(cartItems))
		overrides := make(map[uint]int64)
		for _, ci := range cartItems {
			items = append(items, RequestedItem{VariantID: ci.VariantID, Quantity: ci.Quantity})
			if ci.PriceAtAdd != nil {
				overrides[ci.VariantID] = *ci.PriceAtAdd
			}
		}
		return items, overrides, nil

	case SourceBuyNow:
		if len(explicit) == 0 {
			return nil, nil, ErrCheckoutEmptyCart
		}
		merged := make(map[uint]int64, len(explicit))
		ordering := make([]uint, 0, len(explicit))
		for _, item := range explicit {
			if item.VariantID == 0 || item.Quantity <= 0 {
				return nil, nil, fmt.Errorf("%w: item variant and quantity must be positive", ErrCheckoutInvalidInput)
			}
			if _, seen := merged[item.VariantID]; !seen {
				ordering = append(ordering, item.VariantID)
			}
			merged[item.VariantID] += item.Quantity
		}
		items := make([]RequestedItem, 0, len(ordering))
		for _, id := range ordering {
			items = append(items, RequestedItem{VariantID: id, Quantity: merged[id]})
		}
		return items, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown source %q", ErrCheckoutInvalidInput, source)
	}
}

func (s *checkoutService) resolveAddress(ctx context.Context, userID uint, addressID *uint, snapshot *domain.ShippingSnapshot, forUpdate bool) (*uint, *domain.ShippingSnapshot, error) {
	if addressID != nil {
		var (
			addr domain.Address
			err  error
		)
		if forUpdate {
			addr, err = s.repos.Addresses().FindByIDForUpdate(ctx, *addressID)
		} else {
			addr, err = s.repos.Addresses().FindByID(ctx, *addressID)
		}
		if err != nil {
			if isRepoNotFound(err) {
				return nil, nil, ErrCheckoutAddressNotFound
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if addr.UserID != userID {
			return nil, nil, ErrCheckoutAddressNotFound
		}
		snap := domain.SnapshotOf(addr)
		return addressID, &snap, nil
	}

	if snapshot != nil {
		if strings.TrimSpace(snapshot.FullName) == "" || strings.TrimSpace(snapshot.Phone) == "" || strings.TrimSpace(snapshot.Line1) == "" {
			return nil, nil, fmt.Errorf("%w: shipping snapshot requires name, phone and address line", ErrCheckoutInvalidInput)
		}
		copied := *snapshot
		return nil, &copied, nil
	}

	return nil, nil, nil
}

func (s *checkoutService) totalsFor(lines []PricedLine) Totals {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.LineSubtotal
	}

	totals := Totals{SubtotalVnd: subtotal}
	if subtotal > 0 {
		totals.ShippingFeeVnd = s.shipping.FeeFor(subtotal)
	}
	totals.GrandTotalVnd = totals.SubtotalVnd + totals.ShippingFeeVnd - totals.DiscountTotalVnd
	return totals
}

func (s *checkoutService) paymentPreview(requested domain.PaymentMethod) PaymentPreview {
	options := []PaymentOption{
		{Code: domain.PaymentMethodCOD, Available: true},
		{Code: domain.PaymentMethodBankTransfer, Available: true},
		{Code: domain.PaymentMethodVNPay, Available: s.gateway != nil},
	}

	effective := domain.PaymentMethodCOD
	if domain.IsKnownPaymentMethod(requested) {
		if requested != domain.PaymentMethodVNPay || s.gateway != nil {
			effective = requested
		}
	}

	return PaymentPreview{Requested: requested, Effective: effective, Options: options}
}

func (s *checkoutService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
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
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderID":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func hasAnyWarning(lines []PricedLine) bool {
	for _, line := range lines {
		if len(line.Warnings) > 0 {
			return true
		}
	}
	return false
}
