package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mekongcart/api/internal/platform/httpx"
	"github.com/mekongcart/api/internal/services"
)

const maxReturnRequestBody = 32 * 1024

// PaymentHandlers exposes the gateway return/IPN endpoint.
type PaymentHandlers struct {
	returns services.PaymentReturnService
}

// NewPaymentHandlers constructs payment handlers over the return service.
func NewPaymentHandlers(returns services.PaymentReturnService) *PaymentHandlers {
	return &PaymentHandlers{returns: returns}
}

// Routes registers payment endpoints under the provided router. The gateway
// redirects browsers with GET and retries server-to-server with POST, so both
// verbs accept the same parameter map.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/vnpay/return", h.handleReturn)
	r.Post("/vnpay/return", h.handleReturn)
}

type returnResponse struct {
	Status      string `json:"status"`
	OrderID     uint   `json:"orderId"`
	Message     string `json:"message,omitempty"`
	AlreadyPaid bool   `json:"alreadyPaid,omitempty"`
}

func (h *PaymentHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "payment return service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := callbackParams(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.returns.HandleReturn(ctx, params)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	// Protocol violations resolve the order to failed and surface their code.
	if result.Code != "" {
		httpx.WriteError(ctx, w, httpx.NewError(result.Code, result.Message, http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{
		Status:      string(result.Status),
		OrderID:     result.OrderID,
		Message:     result.Message,
		AlreadyPaid: result.AlreadyPaid,
	})
}

// callbackParams flattens the gateway parameters from the query string and,
// for POST retries, a JSON object body. Body values win on key collision.
func callbackParams(r *http.Request) (map[string]string, error) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	if r.Method == http.MethodPost && r.Body != nil {
		body, err := readLimitedBody(r, maxReturnRequestBody)
		if err != nil && !errors.Is(err, errEmptyBody) {
			return nil, err
		}
		if len(body) > 0 {
			var flat map[string]any
			if err := json.Unmarshal(body, &flat); err != nil {
				return nil, errors.New("request body must be a flat JSON object")
			}
			for key, value := range flat {
				if s, ok := value.(string); ok {
					params[key] = s
				}
			}
		}
	}

	if len(params) == 0 {
		return nil, errors.New("callback parameters are required")
	}
	return params, nil
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_INPUT", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnUnknownTxnRef):
		httpx.WriteError(ctx, w, httpx.NewError("UNKNOWN_TXN_REF", "no transaction matches the supplied reference", http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("SERVICE_UNAVAILABLE", "payment backend unavailable", http.StatusServiceUnavailable))
	default:
		message := strings.TrimSpace(err.Error())
		if message == "" {
			message = "unexpected error"
		}
		httpx.WriteError(ctx, w, httpx.NewError("INTERNAL_ERROR", message, http.StatusInternalServerError))
	}
}
