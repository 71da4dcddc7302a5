package payments

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRequest is returned when a payment URL cannot be built from the supplied data.
var ErrInvalidRequest = errors.New("payments: invalid request")

// PaymentRequest carries the order data needed to build a gateway redirect.
type PaymentRequest struct {
	OrderID   uint
	AmountVnd int64
	OrderInfo string
	ClientIP  string
	Locale    string
}

// PaymentURL is the signed redirect produced for the customer, together with
// the transaction reference and the exact parameter set that was signed (kept
// for the audit log).
type PaymentURL struct {
	URL    string
	TxnRef string
	Params map[string]string
}

// Callback is the normalised view of a gateway return/IPN parameter map.
type Callback struct {
	TxnRef        string
	MerchantCode  string
	Amount        string
	ResponseCode  string
	TransactionNo string
	BankCode      string
	CardType      string
	PayDate       string
	Succeeded     bool
}

// Provider is the contract the checkout pipeline uses to talk to the payment
// gateway. A single implementation exists; the interface keeps services
// testable without the gateway's canonicalisation details.
type Provider interface {
	// BuildPaymentURL assembles, canonicalises and signs the redirect URL.
	BuildPaymentURL(ctx context.Context, req PaymentRequest) (PaymentURL, error)
	// VerifySignature recomputes the HMAC over all non-hash fields and compares
	// it (case-insensitively) to the supplied hash.
	VerifySignature(params map[string]string) bool
	// ParseCallback extracts the gateway-observed fields from a callback map.
	ParseCallback(params map[string]string) Callback
	// MerchantCode returns the configured merchant identifier.
	MerchantCode() string
}

// Clock abstracts time for deterministic signing in tests.
type Clock func() time.Time
