package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/platform/httpx"
	"github.com/mekongcart/api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the preview and placement endpoints.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers over the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/preview", h.preview)
	r.Post("/place", h.place)
}

type checkoutItemRequest struct {
	VariantID uint  `json:"variantId"`
	Quantity  int64 `json:"quantity"`
}

type shippingSnapshotPayload struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	Province string `json:"province,omitempty"`
}

type checkoutRequest struct {
	UserID            uint                     `json:"userId"`
	Source            string                   `json:"source"`
	Items             []checkoutItemRequest    `json:"items,omitempty"`
	AddressID         *uint                    `json:"addressId,omitempty"`
	ShippingSnapshot  *shippingSnapshotPayload `json:"shippingSnapshot,omitempty"`
	PaymentMethodCode string                   `json:"paymentMethodCode,omitempty"`
	Note              string                   `json:"note,omitempty"`
}

type pricedLineResponse struct {
	VariantID    uint     `json:"variantId"`
	ProductID    uint     `json:"productId,omitempty"`
	SKU          string   `json:"sku,omitempty"`
	Name         string   `json:"name,omitempty"`
	UnitPrice    int64    `json:"unitPrice"`
	QtyRequested int64    `json:"qtyRequested"`
	QtyPriced    int64    `json:"qtyPriced"`
	LineSubtotal int64    `json:"lineSubtotal"`
	Warnings     []string `json:"warnings,omitempty"`
}

type totalsResponse struct {
	Subtotal      int64 `json:"subtotal"`
	ShippingFee   int64 `json:"shippingFee"`
	DiscountTotal int64 `json:"discountTotal"`
	GrandTotal    int64 `json:"grandTotal"`
}

type paymentOptionResponse struct {
	Code      string `json:"code"`
	Available bool   `json:"available"`
}

type paymentPreviewResponse struct {
	Requested string                  `json:"requested,omitempty"`
	Effective string                  `json:"effective"`
	Options   []paymentOptionResponse `json:"options"`
}

type previewResponse struct {
	AddressID       *uint                    `json:"addressId,omitempty"`
	AddressSnapshot *shippingSnapshotPayload `json:"addressSnapshot,omitempty"`
	Lines           []pricedLineResponse     `json:"lines"`
	Totals          totalsResponse           `json:"totals"`
	HasAnyWarning   bool                     `json:"hasAnyWarning"`
	Payment         paymentPreviewResponse   `json:"payment"`
}

type placementResponse struct {
	OrderID             uint                               `json:"orderId"`
	PaymentMethodCode   string                             `json:"paymentMethodCode"`
	PaymentStatus       string                             `json:"paymentStatus"`
	TotalAmount         int64                              `json:"totalAmount"`
	Message             string                             `json:"message,omitempty"`
	PaymentInstructions *services.BankTransferInstructions `json:"paymentInstructions,omitempty"`
	PaymentURL          string                             `json:"paymentUrl,omitempty"`
}

func (h *CheckoutHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := h.decodeRequest(ctx, w, r)
	if !ok {
		return
	}

	preview, err := h.checkout.Preview(ctx, services.PreviewCommand{
		UserID:            req.UserID,
		Source:            services.CheckoutSource(strings.TrimSpace(req.Source)),
		Items:             toRequestedItems(req.Items),
		AddressID:         req.AddressID,
		ShippingSnapshot:  toDomainSnapshot(req.ShippingSnapshot),
		PaymentMethodCode: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethodCode)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toPreviewResponse(preview))
}

func (h *CheckoutHandlers) place(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := h.decodeRequest(ctx, w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.PaymentMethodCode) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", "paymentMethodCode is required", http.StatusBadRequest))
		return
	}

	placement, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:            req.UserID,
		Source:            services.CheckoutSource(strings.TrimSpace(req.Source)),
		Items:             toRequestedItems(req.Items),
		AddressID:         req.AddressID,
		ShippingSnapshot:  toDomainSnapshot(req.ShippingSnapshot),
		PaymentMethodCode: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethodCode)),
		Note:              req.Note,
		ClientIP:          clientIP(r),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placementResponse{
		OrderID:             placement.OrderID,
		PaymentMethodCode:   string(placement.PaymentMethodCode),
		PaymentStatus:       string(placement.PaymentStatus),
		TotalAmount:         placement.TotalAmountVnd,
		Message:             placement.Message,
		PaymentInstructions: placement.PaymentInstructions,
		PaymentURL:          placement.PaymentURL,
	})
}

func (h *CheckoutHandlers) decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (checkoutRequest, bool) {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), status))
		return checkoutRequest{}, false
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", "request body must be valid JSON", http.StatusBadRequest))
		return checkoutRequest{}, false
	}
	return req, true
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("EMPTY_CART", "no items to check out", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNothingPriceable):
		httpx.WriteError(ctx, w, httpx.NewError("NOTHING_PRICEABLE", "no requested line could be priced", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("ADDRESS_NOT_FOUND", "shipping address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutMethodNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("PAYMENT_METHOD_NOT_ALLOWED", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "checkout backend unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("INTERNAL_ERROR", "unexpected error", http.StatusInternalServerError))
	}
}

func toRequestedItems(items []checkoutItemRequest) []services.RequestedItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]services.RequestedItem, 0, len(items))
	for _, item := range items {
		out = append(out, services.RequestedItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return out
}

func toDomainSnapshot(snap *shippingSnapshotPayload) *domain.ShippingSnapshot {
	if snap == nil {
		return nil
	}
	return &domain.ShippingSnapshot{
		FullName: snap.FullName,
		Phone:    snap.Phone,
		Line1:    snap.Line1,
		Ward:     snap.Ward,
		District: snap.District,
		Province: snap.Province,
	}
}

func fromDomainSnapshot(snap *domain.ShippingSnapshot) *shippingSnapshotPayload {
	if snap == nil {
		return nil
	}
	return &shippingSnapshotPayload{
		FullName: snap.FullName,
		Phone:    snap.Phone,
		Line1:    snap.Line1,
		Ward:     snap.Ward,
		District: snap.District,
		Province: snap.Province,
	}
}

func toPreviewResponse(preview services.Preview) previewResponse {
	lines := make([]pricedLineResponse, 0, len(preview.Lines))
	for _, line := range preview.Lines {
		warnings := make([]string, 0, len(line.Warnings))
		for _, warning := range line.Warnings {
			warnings = append(warnings, string(warning))
		}
		lines = append(lines, pricedLineResponse{
			VariantID:    line.VariantID,
			ProductID:    line.ProductID,
			SKU:          line.SKU,
			Name:         line.Name,
			UnitPrice:    line.UnitPrice,
			QtyRequested: line.QtyRequested,
			QtyPriced:    line.QtyPriced,
			LineSubtotal: line.LineSubtotal,
			Warnings:     warnings,
		})
	}

	options := make([]paymentOptionResponse, 0, len(preview.Payment.Options))
	for _, option := range preview.Payment.Options {
		options = append(options, paymentOptionResponse{Code: string(option.Code), Available: option.Available})
	}

	return previewResponse{
		AddressID:       preview.AddressID,
		AddressSnapshot: fromDomainSnapshot(preview.AddressSnapshot),
		Lines:           lines,
		Totals: totalsResponse{
			Subtotal:      preview.Totals.SubtotalVnd,
			ShippingFee:   preview.Totals.ShippingFeeVnd,
			DiscountTotal: preview.Totals.DiscountTotalVnd,
			GrandTotal:    preview.Totals.GrandTotalVnd,
		},
		HasAnyWarning: preview.HasAnyWarning,
		Payment: paymentPreviewResponse{
			Requested: string(preview.Payment.Requested),
			Effective: string(preview.Payment.Effective),
			Options:   options,
		},
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
