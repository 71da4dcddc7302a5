package services

import (
	"context"
	"time"

	"github.com/mekongcart/api/internal/domain"
)

// LineWarning flags a pricing anomaly on a single requested line. Warnings are
// advisory; preview never fails because of them.
type LineWarning string

const (
	// WarningNotFound means the requested variant does not exist.
	WarningNotFound LineWarning = "not_found"
	// WarningInactive means the variant's product has been disabled.
	WarningInactive LineWarning = "inactive"
	// WarningLowStock means the requested quantity exceeds available stock.
	WarningLowStock LineWarning = "low_stock"
	// WarningPriceMissing means the variant has no current price.
	WarningPriceMissing LineWarning = "price_missing"
)

// RequestedItem is one (variant, quantity) pair supplied by the caller.
type RequestedItem struct {
	VariantID uint
	Quantity  int64
}

// PricedLine is one requested line resolved against the current catalogue.
type PricedLine struct {
	VariantID    uint
	ProductID    uint
	SKU          string
	Name         string
	UnitPrice    int64
	QtyRequested int64
	QtyPriced    int64
	LineSubtotal int64
	Warnings     []LineWarning
}

// Totals is the cost breakdown of a preview or placement.
type Totals struct {
	SubtotalVnd      int64
	ShippingFeeVnd   int64
	DiscountTotalVnd int64
	GrandTotalVnd    int64
}

// PaymentOption is one method the storefront can offer at checkout.
type PaymentOption struct {
	Code      domain.PaymentMethod
	Available bool
}

// PaymentPreview reports the requested method, the method that will actually
// apply, and every option the storefront supports.
type PaymentPreview struct {
	Requested domain.PaymentMethod
	Effective domain.PaymentMethod
	Options   []PaymentOption
}

// CheckoutSource selects where the requested lines come from.
type CheckoutSource string

const (
	SourceCart   CheckoutSource = "cart"
	SourceBuyNow CheckoutSource = "buy_now"
)

// PreviewCommand is the input to the read-only pricing pass.
type PreviewCommand struct {
	UserID            uint
	Source            CheckoutSource
	Items             []RequestedItem
	AddressID         *uint
	ShippingSnapshot  *domain.ShippingSnapshot
	PaymentMethodCode domain.PaymentMethod
}

// Preview is the full cost breakdown returned before commit.
type Preview struct {
	AddressID       *uint
	AddressSnapshot *domain.ShippingSnapshot
	Lines           []PricedLine
	Totals          Totals
	HasAnyWarning   bool
	Payment         PaymentPreview
}

// PlaceOrderCommand is the input to the transactional placement.
type PlaceOrderCommand struct {
	UserID            uint
	Source            CheckoutSource
	Items             []RequestedItem
	AddressID         *uint
	ShippingSnapshot  *domain.ShippingSnapshot
	PaymentMethodCode domain.PaymentMethod
	Note              string
	ClientIP          string
}

// BankTransferInstructions is the method-specific payload for manual transfers.
type BankTransferInstructions struct {
	ImageURL  string `json:"imageUrl,omitempty"`
	Note      string `json:"note"`
	AmountVnd int64  `json:"amountVnd"`
}

// Placement is the method-specific result of placing an order.
type Placement struct {
	OrderID             uint
	PaymentMethodCode   domain.PaymentMethod
	PaymentStatus       domain.PaymentStatus
	TotalAmountVnd      int64
	Message             string
	PaymentInstructions *BankTransferInstructions
	PaymentURL          string
}

// CheckoutService prices carts and converts them into orders.
type CheckoutService interface {
	Preview(ctx context.Context, cmd PreviewCommand) (Preview, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Placement, error)
}

// ReturnResult is the outcome of handling one gateway callback.
type ReturnResult struct {
	OrderID uint
	Status  domain.PaymentStatus
	// Code carries a stable protocol-violation code (invalid merchant,
	// invalid signature, amount mismatch); empty for verified callbacks.
	Code        string
	Message     string
	AlreadyPaid bool
}

// PaymentReturnService reconciles asynchronous gateway callbacks exactly once.
type PaymentReturnService interface {
	HandleReturn(ctx context.Context, params map[string]string) (ReturnResult, error)
}

// TransitionCommand requests a guarded status mutation on one or both axes.
type TransitionCommand struct {
	OrderID       uint
	OrderStatus   *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
}

// OrderListQuery narrows and pages the admin order listing.
type OrderListQuery struct {
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	UserID        *uint
	Page          int
	PageSize      int
}

// OrderPage is one page of orders plus the total match count.
type OrderPage struct {
	Orders   []domain.Order
	Total    int64
	Page     int
	PageSize int
}

// OrderService reads orders and applies guarded status transitions.
type OrderService interface {
	GetOrder(ctx context.Context, orderID uint) (domain.Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (OrderPage, error)
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (domain.Order, error)
}

// OrderEventMessage is the payload published on the order event stream.
type OrderEventMessage struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	OrderID        uint      `json:"orderId"`
	UserID         uint      `json:"userId"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"paymentStatus"`
	PaymentMethod  string    `json:"paymentMethod"`
	TotalAmountVnd int64     `json:"totalAmountVnd"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Order event types published to the stream.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEventPublisher pushes order lifecycle events to the message stream.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}
