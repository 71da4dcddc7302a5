package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/services"
)

type stubCheckoutService struct {
	preview     services.Preview
	previewErr  error
	placement   services.Placement
	placeErr    error
	lastPreview services.PreviewCommand
	lastPlace   services.PlaceOrderCommand
}

func (s *stubCheckoutService) Preview(_ context.Context, cmd services.PreviewCommand) (services.Preview, error) {
	s.lastPreview = cmd
	return s.preview, s.previewErr
}

func (s *stubCheckoutService) PlaceOrder(_ context.Context, cmd services.PlaceOrderCommand) (services.Placement, error) {
	s.lastPlace = cmd
	return s.placement, s.placeErr
}

type stubOrderService struct {
	order         domain.Order
	getErr        error
	page          services.OrderPage
	listErr       error
	transitioned  domain.Order
	transitionErr error
	lastQuery     services.OrderListQuery
	lastCmd       services.TransitionCommand
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID uint) (domain.Order, error) {
	return s.order, s.getErr
}

func (s *stubOrderService) ListOrders(_ context.Context, query services.OrderListQuery) (services.OrderPage, error) {
	s.lastQuery = query
	return s.page, s.listErr
}

func (s *stubOrderService) TransitionStatus(_ context.Context, cmd services.TransitionCommand) (domain.Order, error) {
	s.lastCmd = cmd
	return s.transitioned, s.transitionErr
}

type stubReturnService struct {
	result     services.ReturnResult
	err        error
	lastParams map[string]string
}

func (s *stubReturnService) HandleReturn(_ context.Context, params map[string]string) (services.ReturnResult, error) {
	s.lastParams = params
	return s.result, s.err
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope %q: %v", rec.Body.String(), err)
	}
	return envelope
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}
