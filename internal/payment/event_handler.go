package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payment-gateway/internal/core/events"
)

// EventHandler writes operator-facing log lines for payment events that need a
// human to look at them.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

func (h *EventHandler) HandleReconciliationRequired(ctx context.Context, event events.Event) error {
	reconEvent, ok := event.(*events.ReconciliationRequiredEvent)
	if !ok {
		h.logger.Error("invalid event type for reconciliation handler", "event_type", event.EventType())
		return fmt.Errorf("expected ReconciliationRequiredEvent, got %T", event)
	}

	h.logger.Error("payment requires reconciliation",
		"payment_id", reconEvent.PaymentID,
		"order_id", reconEvent.OrderID,
		"gateway", reconEvent.GatewayName,
		"provider_order_id", reconEvent.ProviderOrderID,
		"reason", reconEvent.Reason,
		"event_id", reconEvent.EventID())
	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failedEvent, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Warn("payment attempt failed",
		"payment_id", failedEvent.PaymentID,
		"order_id", failedEvent.OrderID,
		"gateway", failedEvent.GatewayName,
		"reason", failedEvent.FailureReason,
		"event_id", failedEvent.EventID())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeReconciliationRequired, h.HandleReconciliationRequired)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypeReconciliationRequired, events.EventTypePaymentFailed})
}
