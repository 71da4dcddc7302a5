package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/payments"
)

const testTxnRef = "ORDER-1-1710000000"

func newReturnFixture(t *testing.T) (*stubRegistry, PaymentReturnService, *recordingPublisher, *time.Time) {
	t.Helper()

	reg := newStubRegistry()
	reg.orders[1] = domain.Order{
		ID:                1,
		UserID:            7,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethodCode: domain.PaymentMethodVNPay,
		TotalAmount:       130000,
	}
	reg.nextOrderID = 2
	reg.txns[testTxnRef] = domain.PaymentTransaction{
		ID:        1,
		OrderID:   1,
		Provider:  string(domain.PaymentMethodVNPay),
		TxnRef:    testTxnRef,
		AmountVnd: 130000,
		Status:    domain.TransactionStatusPending,
	}
	reg.nextTxnID = 2

	now := time.Date(2024, 3, 15, 10, 45, 0, 0, time.UTC)
	publisher := &recordingPublisher{}
	svc, err := NewPaymentReturnService(PaymentReturnServiceDeps{
		Repositories: reg,
		Gateway:      newTestGateway(t),
		Publisher:    publisher,
		Clock:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPaymentReturnService returned error: %v", err)
	}
	return reg, svc, publisher, &now
}

func signReturnParams(params map[string]string) string {
	mac := hmac.New(sha512.New, []byte("s3cr3t-key"))
	mac.Write([]byte(payments.CanonicalQuery(params)))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func signedCallback(amount, responseCode string, mutate func(map[string]string)) map[string]string {
	params := map[string]string{
		"vnp_TmnCode":       "MEKONG01",
		"vnp_TxnRef":        testTxnRef,
		"vnp_Amount":        amount,
		"vnp_ResponseCode":  responseCode,
		"vnp_TransactionNo": "14226112",
		"vnp_BankCode":      "NCB",
		"vnp_CardType":      "ATM",
		"vnp_PayDate":       "20240315174501",
	}
	if mutate != nil {
		mutate(params)
	}
	params["vnp_SecureHash"] = signReturnParams(params)
	return params
}

func TestHandleReturnConfirmsPayment(t *testing.T) {
	reg, svc, publisher, now := newReturnFixture(t)

	result, err := svc.HandleReturn(context.Background(), signedCallback("13000000", "00", nil))
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Status != domain.PaymentStatusPaid || result.Code != "" || result.AlreadyPaid {
		t.Fatalf("unexpected result %+v", result)
	}

	order := reg.orders[1]
	if order.Status != domain.OrderStatusConfirmed || order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected confirmed/paid, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(*now) {
		t.Fatalf("expected paidAt %v, got %v", now, order.PaidAt)
	}

	txn := reg.txns[testTxnRef]
	if txn.Status != domain.TransactionStatusPaid {
		t.Fatalf("expected txn paid, got %s", txn.Status)
	}
	if txn.SignatureOk == nil || !*txn.SignatureOk {
		t.Fatal("expected signature flag true")
	}
	if txn.IpnCount != 1 {
		t.Fatalf("expected ipn count 1, got %d", txn.IpnCount)
	}
	if len(txn.RawResponse) == 0 {
		t.Fatal("expected raw callback persisted")
	}
	if txn.GatewayTxnNo != "14226112" || txn.BankCode != "NCB" {
		t.Fatalf("expected gateway fields recorded, got %+v", txn)
	}

	if len(publisher.messages) != 1 || publisher.messages[0].EventType != EventOrderPaid {
		t.Fatalf("expected order.paid event, got %+v", publisher.messages)
	}
}

func TestHandleReturnReplayIsIdempotent(t *testing.T) {
	reg, svc, publisher, now := newReturnFixture(t)
	params := signedCallback("13000000", "00", nil)

	if _, err := svc.HandleReturn(context.Background(), params); err != nil {
		t.Fatalf("first HandleReturn returned error: %v", err)
	}
	firstPaidAt := *reg.orders[1].PaidAt
	firstRaw := string(reg.txns[testTxnRef].RawResponse)

	// A gateway retry arrives later; the recorded outcome must not move.
	*now = now.Add(10 * time.Minute)
	result, err := svc.HandleReturn(context.Background(), params)
	if err != nil {
		t.Fatalf("replay HandleReturn returned error: %v", err)
	}
	if !result.AlreadyPaid || result.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected already-paid short circuit, got %+v", result)
	}

	order := reg.orders[1]
	if !order.PaidAt.Equal(firstPaidAt) {
		t.Fatalf("paidAt moved on replay: %v -> %v", firstPaidAt, order.PaidAt)
	}
	txn := reg.txns[testTxnRef]
	if txn.IpnCount != 2 {
		t.Fatalf("expected replay counted, got ipn count %d", txn.IpnCount)
	}
	if string(txn.RawResponse) != firstRaw {
		t.Fatal("expected original raw callback preserved on replay")
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected no event for the replay, got %d", len(publisher.messages))
	}
}

func TestHandleReturnTamperedAmountFailsSignatureFirst(t *testing.T) {
	reg, svc, _, _ := newReturnFixture(t)

	params := signedCallback("13000000", "00", nil)
	params["vnp_Amount"] = "99000000"

	result, err := svc.HandleReturn(context.Background(), params)
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Code != ReturnCodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE before any amount comparison, got %q", result.Code)
	}
	if result.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}

	order := reg.orders[1]
	if order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected order payment failed, got %s", order.PaymentStatus)
	}
	txn := reg.txns[testTxnRef]
	if txn.Status != domain.TransactionStatusFailed || txn.FailReason != ReturnCodeInvalidSignature {
		t.Fatalf("expected failed txn with signature reason, got %+v", txn)
	}
	if txn.SignatureOk == nil || *txn.SignatureOk {
		t.Fatal("expected signature flag false")
	}
}

func TestHandleReturnAmountMismatch(t *testing.T) {
	reg, svc, _, _ := newReturnFixture(t)

	// Correctly signed, but for the wrong amount.
	result, err := svc.HandleReturn(context.Background(), signedCallback("12000000", "00", nil))
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Code != ReturnCodeAmountMismatch {
		t.Fatalf("expected AMOUNT_MISMATCH, got %q", result.Code)
	}

	txn := reg.txns[testTxnRef]
	if txn.AmountVndReceived == nil || *txn.AmountVndReceived != 120000 {
		t.Fatalf("expected received amount 120000 recorded, got %v", txn.AmountVndReceived)
	}
	if txn.SignatureOk == nil || !*txn.SignatureOk {
		t.Fatal("expected signature flag true for a correctly signed mismatch")
	}
}

func TestHandleReturnMerchantMismatch(t *testing.T) {
	reg, svc, _, _ := newReturnFixture(t)

	result, err := svc.HandleReturn(context.Background(), signedCallback("13000000", "00", func(params map[string]string) {
		params["vnp_TmnCode"] = "OTHER"
	}))
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Code != ReturnCodeInvalidMerchant {
		t.Fatalf("expected INVALID_MERCHANT, got %q", result.Code)
	}
	if reg.orders[1].PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected order payment failed, got %s", reg.orders[1].PaymentStatus)
	}
}

func TestHandleReturnGatewayDecline(t *testing.T) {
	reg, svc, publisher, _ := newReturnFixture(t)

	result, err := svc.HandleReturn(context.Background(), signedCallback("13000000", "24", nil))
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Status != domain.PaymentStatusFailed || result.Code != "" {
		t.Fatalf("expected decline without protocol code, got %+v", result)
	}
	if !strings.Contains(result.Message, "24") {
		t.Fatalf("expected response code in the message, got %q", result.Message)
	}

	txn := reg.txns[testTxnRef]
	if txn.FailReason != "24" {
		t.Fatalf("expected response code as fail reason, got %q", txn.FailReason)
	}
	if reg.orders[1].PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected order payment failed, got %s", reg.orders[1].PaymentStatus)
	}
	if len(publisher.messages) != 1 || publisher.messages[0].EventType != EventOrderPaymentFailed {
		t.Fatalf("expected order.payment_failed event, got %+v", publisher.messages)
	}
}

func TestHandleReturnUnknownTxnRef(t *testing.T) {
	reg, svc, _, _ := newReturnFixture(t)

	_, err := svc.HandleReturn(context.Background(), signedCallback("13000000", "00", func(params map[string]string) {
		params["vnp_TxnRef"] = "ORDER-9-1710000000"
	}))
	if !errors.Is(err, ErrReturnUnknownTxnRef) {
		t.Fatalf("expected ErrReturnUnknownTxnRef, got %v", err)
	}
	if reg.orders[1].PaymentStatus != domain.PaymentStatusPending {
		t.Fatal("expected no mutation for an unknown reference")
	}
	if reg.txns[testTxnRef].IpnCount != 0 {
		t.Fatal("expected stored transaction untouched")
	}
}

func TestHandleReturnMissingTxnRef(t *testing.T) {
	_, svc, _, _ := newReturnFixture(t)
	_, err := svc.HandleReturn(context.Background(), map[string]string{"vnp_ResponseCode": "00"})
	if !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput, got %v", err)
	}
}
