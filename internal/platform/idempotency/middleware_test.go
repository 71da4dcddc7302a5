package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
}

func TestMemoryStoreReserveLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := fixedClock()

	res, err := store.Reserve(ctx, "key-1", "fp-1", now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}

	res, err = store.Reserve(ctx, "key-1", "fp-1", now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("expected pending for duplicate in-flight key, got %v", res.State)
	}

	if _, err := store.Reserve(ctx, "key-1", "fp-other", now, time.Hour); err != ErrFingerprintMismatch {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Body: []byte(`{"orderId":1}`)}
	if err := store.SaveResponse(ctx, "key-1", "fp-1", resp, now, time.Hour); err != nil {
		t.Fatalf("SaveResponse returned error: %v", err)
	}

	res, err = store.Reserve(ctx, "key-1", "fp-1", now.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %v", res.State)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"orderId":1}` {
		t.Fatalf("unexpected stored record %+v", res.Record)
	}
}

func TestMemoryStoreExpiredRecordIsReplaced(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := fixedClock()

	if _, err := store.Reserve(ctx, "key-1", "fp-1", now, time.Minute); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	res, err := store.Reserve(ctx, "key-1", "fp-2", now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("expected expired record replaced, got %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation after expiry, got %v", res.State)
	}
}

func TestMemoryStoreReleaseDropsOnlyPendingReservation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := fixedClock()

	if _, err := store.Reserve(ctx, "key-1", "fp-1", now, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := store.Release(ctx, "key-1", "fp-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	res, err := store.Reserve(ctx, "key-1", "fp-1", now, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected key retryable after release, got %v / %v", res.State, err)
	}

	// A completed record survives release.
	if err := store.SaveResponse(ctx, "key-1", "fp-1", Response{Status: http.StatusOK}, now, time.Hour); err != nil {
		t.Fatalf("SaveResponse returned error: %v", err)
	}
	if err := store.Release(ctx, "key-1", "fp-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	res, err = store.Reserve(ctx, "key-1", "fp-1", now, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed record preserved, got %v / %v", res.State, err)
	}
}

func newGuardedHandler(store Store, calls *int) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":7}`))
	})
	return Middleware(store, WithClock(fixedClock))(handler)
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := newGuardedHandler(store, &calls)

	body := `{"userId":7}`
	first := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(body))
	first.Header.Set(defaultHeaderName, "abc-123")
	firstRec := httptest.NewRecorder()
	handler.ServeHTTP(firstRec, first)

	if firstRec.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("expected first request handled, got status %d calls %d", firstRec.Code, calls)
	}

	retry := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(body))
	retry.Header.Set(defaultHeaderName, "abc-123")
	retryRec := httptest.NewRecorder()
	handler.ServeHTTP(retryRec, retry)

	if calls != 1 {
		t.Fatalf("expected handler not re-invoked, got %d calls", calls)
	}
	if retryRec.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", retryRec.Code)
	}
	if retryRec.Header().Get(replayHeaderName) != "true" {
		t.Fatal("expected replay marker header")
	}
	if retryRec.Body.String() != `{"orderId":7}` {
		t.Fatalf("expected replayed body, got %q", retryRec.Body.String())
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := newGuardedHandler(store, &calls)

	first := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{"userId":7}`))
	first.Header.Set(defaultHeaderName, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{"userId":8}`))
	second.Header.Set(defaultHeaderName, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, second)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for fingerprint mismatch, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler called once, got %d", calls)
	}
}

func TestMiddlewareConflictWhileInFlight(t *testing.T) {
	store := NewMemoryStore()
	// Seed a pending reservation as if another replica is mid-request.
	fingerprint := requestFingerprint(httptest.NewRequest(http.MethodPost, "/checkout/place", nil), []byte(`{"userId":7}`))
	if _, err := store.Reserve(context.Background(), "abc-123", fingerprint, fixedClock(), time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	calls := 0
	handler := newGuardedHandler(store, &calls)
	req := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{"userId":7}`))
	req.Header.Set(defaultHeaderName, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight duplicate, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatal("expected handler not invoked")
	}
}

func TestMiddlewareSkipsUnguardedTraffic(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := newGuardedHandler(store, &calls)

	// GET requests pass through untouched.
	get := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	get.Header.Set(defaultHeaderName, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), get)

	// So do mutations without a key.
	post := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{}`))
	handler.ServeHTTP(httptest.NewRecorder(), post)

	if calls != 2 {
		t.Fatalf("expected both requests handled directly, got %d", calls)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no reservations recorded, got %d", len(store.records))
	}
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	handler := Middleware(store, WithClock(fixedClock))(failing)

	req := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{"userId":7}`))
	req.Header.Set(defaultHeaderName, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	// The key must be retryable after a 5xx.
	retry := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{"userId":7}`))
	retry.Header.Set(defaultHeaderName, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), retry)

	if calls != 2 {
		t.Fatalf("expected both attempts to reach the handler, got %d", calls)
	}
}

func TestMiddlewareBodyStillReadableByHandler(t *testing.T) {
	store := NewMemoryStore()
	var seen string
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := readAndRestoreBody(r)
		seen = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(`{"userId":7}`))
	req.Header.Set(defaultHeaderName, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != `{"userId":7}` {
		t.Fatalf("expected handler to read the restored body, got %q", seen)
	}
}
