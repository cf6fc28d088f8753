package payment

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/payment-gateway/internal"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/transport"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

// HandleGatewayWebhook handles POST /api/v1/payments/webhooks/{gateway}. The body is
// passed to the adapter untouched since signatures cover the raw bytes.
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		h.logger.Error("failed to read webhook body", "gateway", gateway, "error", err)
		h.HandleError(w, errors.NewValidationError("unreadable request body", errors.ErrCodeWebhookRejected))
		return
	}
	if len(body) > maxWebhookBody {
		h.HandleError(w, errors.NewValidationError("webhook body too large", errors.ErrCodeWebhookRejected))
		return
	}

	h.logger.Info("received payment webhook", "gateway", gateway, "size", len(body))

	result, err := h.paymentService.HandleWebhook(r.Context(), gateway, &types.WebhookPayload{
		Headers: r.Header.Clone(),
		Body:    body,
	})
	if err != nil {
		h.logger.Error("failed to process payment webhook", "gateway", gateway, "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.logger.Info("payment webhook processed",
		"gateway", gateway,
		"matched", result.Matched,
		"payment_id", result.PaymentID,
		"status", result.Status,
		"applied", result.Applied)

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "accepted",
		"result": result,
	})
}
