package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/platform/httpx"
	"github.com/mekongcart/api/internal/platform/pagination"
	"github.com/mekongcart/api/internal/services"
)

const maxStatusRequestBody = 4 * 1024

// OrderHandlers exposes order reads and the guarded admin status mutation.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers over the order service.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the customer-facing order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.getOrder)
}

// AdminRoutes registers the staff-facing listing and status endpoints.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Patch("/orders/{orderID}/status", h.transitionStatus)
}

type orderItemResponse struct {
	VariantID uint  `json:"variantId"`
	ProductID uint  `json:"productId,omitempty"`
	Quantity  int64 `json:"quantity"`
	Price     int64 `json:"price"`
}

type orderResponse struct {
	OrderID             uint                     `json:"orderId"`
	UserID              uint                     `json:"userId"`
	Status              string                   `json:"status"`
	PaymentStatus       string                   `json:"paymentStatus"`
	PaymentMethodCode   string                   `json:"paymentMethodCode"`
	TotalAmount         int64                    `json:"totalAmount"`
	ShippingFee         int64                    `json:"shippingFee"`
	DiscountTotal       int64                    `json:"discountTotal"`
	Shipping            *shippingSnapshotPayload `json:"shipping,omitempty"`
	Note                string                   `json:"note,omitempty"`
	PaymentInstructions json.RawMessage          `json:"paymentInstructions,omitempty"`
	PaidAt              string                   `json:"paidAt,omitempty"`
	CreatedAt           string                   `json:"createdAt,omitempty"`
	Items               []orderItemResponse      `json:"items"`
}

type orderListResponse struct {
	Orders   []orderResponse `json:"orders"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

type statusTransitionRequest struct {
	OrderStatus   *string `json:"orderStatus,omitempty"`
	PaymentStatus *string `json:"paymentStatus,omitempty"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := parseOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.OrderListQuery{Page: params.Page, PageSize: params.PageSize}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.OrderStatus(raw)
		query.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("paymentStatus")); raw != "" {
		status := domain.PaymentStatus(raw)
		query.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("userId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", "userId must be a positive integer", http.StatusBadRequest))
			return
		}
		userID := uint(id)
		query.UserID = &userID
	}

	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderResponse, 0, len(page.Orders))
	for _, order := range page.Orders {
		orders = append(orders, toOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:   orders,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := parseOrderID(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxStatusRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), http.StatusBadRequest))
		return
	}
	var req statusTransitionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.OrderStatus == nil && req.PaymentStatus == nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", "orderStatus or paymentStatus is required", http.StatusBadRequest))
		return
	}

	cmd := services.TransitionCommand{OrderID: orderID}
	if req.OrderStatus != nil {
		status := domain.OrderStatus(strings.TrimSpace(*req.OrderStatus))
		cmd.OrderStatus = &status
	}
	if req.PaymentStatus != nil {
		status := domain.PaymentStatus(strings.TrimSpace(*req.PaymentStatus))
		cmd.PaymentStatus = &status
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func parseOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderID"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", "order id must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return uint(id), true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound))
	case errors.Is(err, domain.ErrManualPaidForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_PAYMENT_STATUS_TRANSITION", err.Error(), http.StatusConflict))
	case errors.Is(err, domain.ErrPaymentCancellationForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_PAYMENT_STATUS_TRANSITION", err.Error(), http.StatusConflict))
	case errors.Is(err, domain.ErrInvalidPaymentTransition):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_PAYMENT_STATUS_TRANSITION", err.Error(), http.StatusConflict))
	case errors.Is(err, domain.ErrCompletionRequiresPaid):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_ORDER_STATUS_TRANSITION", err.Error(), http.StatusConflict))
	case errors.Is(err, domain.ErrInvalidOrderTransition):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_ORDER_STATUS_TRANSITION", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "order backend unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("INTERNAL_ERROR", "unexpected error", http.StatusInternalServerError))
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			VariantID: item.VariantID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	shipping := order.Shipping()
	resp := orderResponse{
		OrderID:           order.ID,
		UserID:            order.UserID,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethodCode: string(order.PaymentMethodCode),
		TotalAmount:       order.TotalAmount,
		ShippingFee:       order.ShippingFee,
		DiscountTotal:     order.DiscountTotal,
		Shipping:          fromDomainSnapshot(&shipping),
		Note:              order.Note,
		PaidAt:            formatTimePtr(order.PaidAt),
		CreatedAt:         formatTime(order.CreatedAt),
		Items:             items,
	}
	if len(order.PaymentInstructionsSnapshot) > 0 {
		resp.PaymentInstructions = json.RawMessage(order.PaymentInstructionsSnapshot)
	}
	return resp
}
