package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	vnpVersionKey      = "vnp_Version"
	vnpCommandKey      = "vnp_Command"
	vnpTmnCodeKey      = "vnp_TmnCode"
	vnpAmountKey       = "vnp_Amount"
	vnpCurrCodeKey     = "vnp_CurrCode"
	vnpTxnRefKey       = "vnp_TxnRef"
	vnpOrderInfoKey    = "vnp_OrderInfo"
	vnpOrderTypeKey    = "vnp_OrderType"
	vnpReturnURLKey    = "vnp_ReturnUrl"
	vnpIPAddrKey       = "vnp_IpAddr"
	vnpCreateDateKey   = "vnp_CreateDate"
	vnpLocaleKey       = "vnp_Locale"
	vnpSecureHashKey   = "vnp_SecureHash"
	vnpHashTypeKey     = "vnp_SecureHashType"
	vnpResponseCodeKey = "vnp_ResponseCode"
	vnpBankCodeKey     = "vnp_BankCode"
	vnpCardTypeKey     = "vnp_CardType"
	vnpTransactionNo   = "vnp_TransactionNo"
	vnpPayDateKey      = "vnp_PayDate"

	// ResponseCodeSuccess is the gateway code for a captured payment.
	ResponseCodeSuccess = "00"

	txnRefPrefix     = "ORDER"
	createDateLayout = "20060102150405"
)

// VNPayConfig is injected at construction time; business logic never reads
// gateway settings from ambient process state.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	GatewayURL string
	// ReturnURL may contain the {orderId} placeholder, substituted per order.
	ReturnURL string
	Version   string
	Command   string
	CurrCode  string
	Locale    string
	OrderType string
	// TimeZone is the merchant-local zone used for vnp_CreateDate, e.g.
	// "Asia/Ho_Chi_Minh".
	TimeZone string
}

// VNPayProvider implements Provider against the VNPAY redirect protocol.
type VNPayProvider struct {
	cfg VNPayConfig
	now Clock
	loc *time.Location
}

// VNPayOption customises the provider.
type VNPayOption func(*VNPayProvider)

// WithVNPayClock injects a custom clock, primarily for tests.
func WithVNPayClock(now Clock) VNPayOption {
	return func(p *VNPayProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewVNPayProvider validates the configuration and applies protocol defaults.
func NewVNPayProvider(cfg VNPayConfig, opts ...VNPayOption) (*VNPayProvider, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" {
		return nil, errors.New("vnpay: merchant code is required")
	}
	if strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, errors.New("vnpay: hash secret is required")
	}
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, errors.New("vnpay: gateway url is required")
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		return nil, errors.New("vnpay: return url is required")
	}

	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Command == "" {
		cfg.Command = "pay"
	}
	if cfg.CurrCode == "" {
		cfg.CurrCode = "VND"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.TimeZone); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("vnpay: invalid time zone %q: %w", tz, err)
		}
		loc = parsed
	}

	provider := &VNPayProvider{
		cfg: cfg,
		now: time.Now,
		loc: loc,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider, nil
}

// MerchantCode implements Provider.
func (p *VNPayProvider) MerchantCode() string {
	return p.cfg.TmnCode
}

// BuildPaymentURL implements Provider. The transaction reference embeds the
// order id so the callback resolves back to the order, and the creation
// timestamp keeps it globally unique across attempts for the same order.
func (p *VNPayProvider) BuildPaymentURL(_ context.Context, req PaymentRequest) (PaymentURL, error) {
	if req.OrderID == 0 {
		return PaymentURL{}, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if req.AmountVnd <= 0 {
		return PaymentURL{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	now := p.now()
	txnRef := fmt.Sprintf("%s-%d-%d", txnRefPrefix, req.OrderID, now.Unix())

	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = p.cfg.Locale
	}

	orderInfo := strings.TrimSpace(req.OrderInfo)
	if orderInfo == "" {
		orderInfo = fmt.Sprintf("Thanh toan don hang %d", req.OrderID)
	}

	params := map[string]string{
		vnpVersionKey:    p.cfg.Version,
		vnpCommandKey:    p.cfg.Command,
		vnpTmnCodeKey:    p.cfg.TmnCode,
		vnpAmountKey:     strconv.FormatInt(req.AmountVnd*100, 10),
		vnpCurrCodeKey:   p.cfg.CurrCode,
		vnpTxnRefKey:     txnRef,
		vnpOrderInfoKey:  orderInfo,
		vnpOrderTypeKey:  p.cfg.OrderType,
		vnpReturnURLKey:  strings.ReplaceAll(p.cfg.ReturnURL, "{orderId}", strconv.FormatUint(uint64(req.OrderID), 10)),
		vnpIPAddrKey:     strings.TrimSpace(req.ClientIP),
		vnpCreateDateKey: now.In(p.loc).Format(createDateLayout),
		vnpLocaleKey:     locale,
	}

	canonical := CanonicalQuery(params)
	hash := p.sign(canonical)

	return PaymentURL{
		URL:    p.cfg.GatewayURL + "?" + canonical + "&" + vnpSecureHashKey + "=" + hash,
		TxnRef: txnRef,
		Params: params,
	}, nil
}

// VerifySignature implements Provider. The hash fields themselves are excluded
// from the signed material; any divergence there breaks interoperability with
// the gateway.
func (p *VNPayProvider) VerifySignature(params map[string]string) bool {
	provided := strings.TrimSpace(params[vnpSecureHashKey])
	if provided == "" {
		return false
	}

	filtered := make(map[string]string, len(params))
	for k, v := range params {
		if k == vnpSecureHashKey || k == vnpHashTypeKey {
			continue
		}
		filtered[k] = v
	}

	computed := p.sign(CanonicalQuery(filtered))
	return hmac.Equal([]byte(strings.ToUpper(provided)), []byte(computed))
}

// ParseCallback implements Provider.
func (p *VNPayProvider) ParseCallback(params map[string]string) Callback {
	code := strings.TrimSpace(params[vnpResponseCodeKey])
	return Callback{
		TxnRef:        strings.TrimSpace(params[vnpTxnRefKey]),
		MerchantCode:  strings.TrimSpace(params[vnpTmnCodeKey]),
		Amount:        strings.TrimSpace(params[vnpAmountKey]),
		ResponseCode:  code,
		TransactionNo: strings.TrimSpace(params[vnpTransactionNo]),
		BankCode:      strings.TrimSpace(params[vnpBankCodeKey]),
		CardType:      strings.TrimSpace(params[vnpCardTypeKey]),
		PayDate:       strings.TrimSpace(params[vnpPayDateKey]),
		Succeeded:     code == ResponseCodeSuccess,
	}
}

func (p *VNPayProvider) sign(canonical string) string {
	mac := hmac.New(sha512.New, []byte(p.cfg.HashSecret))
	_, _ = mac.Write([]byte(canonical))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// CanonicalQuery builds the deterministic query string used both for signing
// and verification: empty values dropped, keys sorted ascending by byte value,
// form-url-encoding with '+' for space, joined as k=v&k=v.
func CanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// OrderIDFromTxnRef recovers the order id embedded in a transaction reference.
func OrderIDFromTxnRef(ref string) (uint, error) {
	parts := strings.Split(strings.TrimSpace(ref), "-")
	if len(parts) != 3 || parts[0] != txnRefPrefix {
		return 0, fmt.Errorf("payments: malformed transaction reference %q", ref)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("payments: malformed transaction reference %q", ref)
	}
	return uint(id), nil
}
