package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/transport"
	"github.com/frahmantamala/payment-gateway/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.NewBaseHandler(logger),
		PaymentService: paymentService,
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	user, ok := errors.UserFromContext(r.Context())
	if !ok {
		h.Logger.Error("CreatePayment: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.PaymentService.ProcessOrderPayment(r.Context(), req.OrderID, req.GatewayName)
	if err != nil {
		logger.From(r.Context()).Error("CreatePayment: service error", "error", err, "order_id", req.OrderID, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	logger.From(r.Context()).Info("CreatePayment: payment processed",
		"order_id", req.OrderID,
		"payment_id", result.Payment.ID,
		"status", result.Payment.Status,
		"attempts", len(result.Attempts),
		"user_id", user.ID)

	status := http.StatusCreated
	if result.Pending() {
		status = http.StatusAccepted
	}
	h.WriteJSON(w, status, ToProcessPaymentResponse(result))
}

// GetPayment handles GET /api/v1/payments/{paymentID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	p, err := h.PaymentService.GetPaymentStatus(r.Context(), paymentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToPaymentResponse(p))
}

// GetOrderPayments handles GET /api/v1/payments/order/{orderID}
func (h *Handler) GetOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	payments, err := h.PaymentService.GetPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID,
		"payments": ToPaymentResponses(payments),
	})
}

// RefundPayment handles POST /api/v1/payments/{paymentID}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := errors.UserFromContext(r.Context())
	if !ok {
		h.Logger.Error("RefundPayment: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	paymentID := chi.URLParam(r, "paymentID")

	var req RefundRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Logger.Error("RefundPayment: failed to parse request body", "error", err)
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	ctx := logger.WithPayment(r.Context(), paymentID, "")
	p, err := h.PaymentService.RefundPaymentByID(ctx, paymentID, req.Amount, req.Reason)
	if err != nil {
		logger.From(ctx).Error("RefundPayment: service error", "error", err, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	logger.From(ctx).Info("RefundPayment: payment refunded",
		"gateway", p.GatewayName,
		"amount", p.RefundedAmount.Decimal.String(),
		"user_id", user.ID)

	h.WriteJSON(w, http.StatusOK, ToPaymentResponse(p))
}
