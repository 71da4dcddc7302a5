package domain

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentMethod identifies how the customer settles an order.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery; the order stays unpaid until staff reconcile it.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodBankTransfer is a manual transfer against templated instructions.
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	// PaymentMethodVNPay is the redirect-based gateway flow with an async callback.
	PaymentMethodVNPay PaymentMethod = "VNPAY"
)

// KnownPaymentMethods lists the methods accepted at placement time.
var KnownPaymentMethods = []PaymentMethod{PaymentMethodCOD, PaymentMethodBankTransfer, PaymentMethodVNPay}

// IsKnownPaymentMethod reports whether the code is one of the accepted methods.
func IsKnownPaymentMethod(code PaymentMethod) bool {
	for _, m := range KnownPaymentMethods {
		if m == code {
			return true
		}
	}
	return false
}

// ProductVariant owns the authoritative price and stock for a sellable unit.
// Both fields are mutable by the catalog collaborator and are read under lock
// during placement.
type ProductVariant struct {
	ID        uint   `gorm:"primaryKey"`
	ProductID uint   `gorm:"index"`
	SKU       string `gorm:"size:64;uniqueIndex"`
	Name      string `gorm:"size:255"`
	Price     *int64
	Stock     int64
	IsActive  bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is one line of the user's active cart. PriceAtAdd captures the unit
// price observed when the line was added; placement prefers it over the current
// variant price when materialising order items.
type CartItem struct {
	ID         uint `gorm:"primaryKey"`
	UserID     uint `gorm:"index:idx_cart_items_user_variant,unique"`
	VariantID  uint `gorm:"index:idx_cart_items_user_variant,unique"`
	Quantity   int64
	PriceAtAdd *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Address is a saved shipping address. Orders copy its fields into flat
// shipping columns at creation time and never dereference it afterwards.
type Address struct {
	ID         uint `gorm:"primaryKey"`
	UserID     uint `gorm:"index"`
	FullName   string `gorm:"size:255"`
	Phone      string `gorm:"size:32"`
	Line1      string `gorm:"size:255"`
	Ward       string `gorm:"size:128"`
	District   string `gorm:"size:128"`
	Province   string `gorm:"size:128"`
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ShippingSnapshot carries the flat address fields copied onto an order.
type ShippingSnapshot struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	Ward     string `json:"ward"`
	District string `json:"district"`
	Province string `json:"province"`
}

// SnapshotOf flattens a saved address into the order shipping columns.
func SnapshotOf(addr Address) ShippingSnapshot {
	return ShippingSnapshot{
		FullName: addr.FullName,
		Phone:    addr.Phone,
		Line1:    addr.Line1,
		Ward:     addr.Ward,
		District: addr.District,
		Province: addr.Province,
	}
}

// Order is the central checkout entity. Status is the fulfillment axis,
// PaymentStatus the money axis; every mutation of either goes through the
// transition guards in status.go.
type Order struct {
	ID            uint `gorm:"primaryKey"`
	UserID        uint `gorm:"index"`
	AddressID     *uint
	ShippingName     string `gorm:"size:255"`
	ShippingPhone    string `gorm:"size:32"`
	ShippingLine1    string `gorm:"size:255"`
	ShippingWard     string `gorm:"size:128"`
	ShippingDistrict string `gorm:"size:128"`
	ShippingProvince string `gorm:"size:128"`
	TotalAmount   int64
	ShippingFee   int64
	DiscountTotal int64
	Status        OrderStatus   `gorm:"size:32;index"`
	PaymentStatus PaymentStatus `gorm:"size:32;index"`
	PaymentMethodCode PaymentMethod `gorm:"size:32"`
	// PaymentInstructionsSnapshot is an opaque JSON document; only the bank
	// transfer method writes it and it must round-trip byte-for-byte.
	PaymentInstructionsSnapshot datatypes.JSON
	Note      string `gorm:"size:512"`
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// Shipping reconstructs the snapshot stored on the order.
func (o Order) Shipping() ShippingSnapshot {
	return ShippingSnapshot{
		FullName: o.ShippingName,
		Phone:    o.ShippingPhone,
		Line1:    o.ShippingLine1,
		Ward:     o.ShippingWard,
		District: o.ShippingDistrict,
		Province: o.ShippingProvince,
	}
}

// ApplyShipping copies the snapshot into the flat shipping columns.
func (o *Order) ApplyShipping(snap ShippingSnapshot) {
	o.ShippingName = snap.FullName
	o.ShippingPhone = snap.Phone
	o.ShippingLine1 = snap.Line1
	o.ShippingWard = snap.Ward
	o.ShippingDistrict = snap.District
	o.ShippingProvince = snap.Province
}

// OrderItem is a permanent receipt line; rows are never updated once written.
type OrderItem struct {
	ID        uint `gorm:"primaryKey"`
	OrderID   uint `gorm:"index"`
	VariantID uint
	ProductID uint
	Quantity  int64
	Price     int64
	CreatedAt time.Time
}

// TransactionStatus is the lifecycle of a single gateway attempt.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// PaymentTransaction records one gateway round-trip for an order. Raw request
// and response payloads are append-only audit material and are never deleted.
type PaymentTransaction struct {
	ID        uint   `gorm:"primaryKey"`
	OrderID   uint   `gorm:"index"`
	Provider  string `gorm:"size:32"`
	TxnRef    string `gorm:"size:128;uniqueIndex"`
	AmountVnd         int64
	AmountVndReceived *int64
	Status            TransactionStatus `gorm:"size:32"`
	ResponseCode      string            `gorm:"size:16"`
	BankCode          string            `gorm:"size:32"`
	CardType          string            `gorm:"size:32"`
	GatewayTxnNo      string            `gorm:"size:64"`
	PayDate           string            `gorm:"size:32"`
	RawRequest        datatypes.JSON
	RawResponse       datatypes.JSON
	SignatureOk       *bool
	IpnCount          int
	FailReason        string `gorm:"size:64"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
