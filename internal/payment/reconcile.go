package payment

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/core/events"
)

// WebhookResult describes what a provider notification did. Matched is false when
// no payment carries the notified transaction id; Applied is false when the status
// was left alone.
type WebhookResult struct {
	Matched       bool   `json:"matched"`
	PaymentID     string `json:"payment_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Applied       bool   `json:"applied"`
}

const (
	webhookApplied   = "applied"
	webhookIgnored   = "ignored"
	webhookUnmatched = "unmatched"
	webhookRejected  = "rejected"
	webhookError     = "error"
)

func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, payload *types.WebhookPayload) (*WebhookResult, error) {
	gatewayName = strings.ToLower(strings.TrimSpace(gatewayName))

	ctx, span := s.tracer.Start(ctx, "payment.HandleWebhook", trace.WithAttributes(
		attribute.String("payment.gateway", gatewayName),
	))
	defer span.End()

	if payload == nil {
		return nil, errors.NewValidationError("webhook payload is required", errors.ErrCodeWebhookRejected)
	}

	gw, err := s.gateways.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}

	resp, err := gw.HandleWebhook(ctx, payload)
	if err != nil {
		s.metrics.ObserveWebhook(gatewayName, webhookError)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("webhook handling failed", "gateway", gatewayName, "error", err)
		return nil, err
	}
	if resp == nil || !resp.Success {
		message := "webhook rejected"
		if resp != nil && resp.Error != "" {
			message = resp.Error
		}
		s.metrics.ObserveWebhook(gatewayName, webhookRejected)
		s.logger.Warn("webhook rejected", "gateway", gatewayName, "reason", message)
		return nil, errors.NewValidationError(message, errors.ErrCodeWebhookRejected)
	}

	result := &WebhookResult{TransactionID: resp.TransactionID}
	if resp.TransactionID == "" {
		s.metrics.ObserveWebhook(gatewayName, webhookUnmatched)
		s.logger.Info("webhook carries no transaction id, ignoring", "gateway", gatewayName)
		return result, nil
	}

	found, err := s.findWebhookPayment(ctx, gatewayName, resp)
	if err != nil {
		if errors.IsNotFound(err) {
			s.metrics.ObserveWebhook(gatewayName, webhookUnmatched)
			s.logger.Info("webhook for unknown transaction, ignoring",
				"gateway", gatewayName,
				"transaction_id", resp.TransactionID)
			return result, nil
		}
		return nil, err
	}

	result.Matched = true
	result.PaymentID = found.ID

	err = s.withLock(ctx, "payment:"+found.ID, func() error {
		current, err := s.payments.GetByID(ctx, found.ID)
		if err != nil {
			return err
		}
		if !canAdopt(current, gatewayName, resp.TransactionID) {
			result.Status = current.Status
			return nil
		}
		applied, err := s.applyWebhook(ctx, current, resp)
		if err != nil {
			return err
		}
		result.Status = current.Status
		result.Applied = applied
		return nil
	})
	if err != nil {
		s.metrics.ObserveWebhook(gatewayName, webhookError)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if result.Applied {
		s.metrics.ObserveWebhook(gatewayName, webhookApplied)
	} else {
		s.metrics.ObserveWebhook(gatewayName, webhookIgnored)
	}
	return result, nil
}

// findWebhookPayment matches a notification by transaction id first. A payment
// whose charge never returned one (a timeout or a half-finished capture) is found
// through the payment id or provider reference the notification echoes back, as
// long as it belongs to the same gateway and has no other transaction id yet.
func (s *Service) findWebhookPayment(ctx context.Context, gatewayName string, resp *types.GatewayResponse) (*payment.Payment, error) {
	found, err := s.payments.GetByGatewayTransactionID(ctx, gatewayName, resp.TransactionID)
	if err == nil || !errors.IsNotFound(err) {
		return found, err
	}

	if resp.PaymentID != "" {
		p, err := s.payments.GetByID(ctx, resp.PaymentID)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if err == nil && canAdopt(p, gatewayName, resp.TransactionID) {
			return p, nil
		}
	}

	if resp.ProviderReference != "" {
		p, err := s.payments.GetByProviderReference(ctx, gatewayName, resp.ProviderReference)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if err == nil && canAdopt(p, gatewayName, resp.TransactionID) {
			return p, nil
		}
	}

	return nil, errors.ErrPaymentNotFound
}

func canAdopt(p *payment.Payment, gatewayName, transactionID string) bool {
	if p.GatewayName != gatewayName {
		return false
	}
	return p.GatewayTransactionID == "" || p.GatewayTransactionID == transactionID
}

// applyWebhook moves p to the notified status when the transition is allowed. The
// payload is stored either way so the audit trail is complete.
func (s *Service) applyWebhook(ctx context.Context, p *payment.Payment, resp *types.GatewayResponse) (bool, error) {
	from := p.Status
	to := string(resp.Status)

	if p.GatewayTransactionID == "" && resp.TransactionID != "" {
		p.GatewayTransactionID = resp.TransactionID
		s.logger.Info("payment adopted provider transaction id from webhook",
			"payment_id", p.ID,
			"gateway", p.GatewayName,
			"transaction_id", resp.TransactionID)
	}

	allowed := payment.CanWebhookTransition(from, to)
	changed := allowed && from != to

	raw := resp.Raw
	if raw == nil {
		raw = map[string]interface{}{}
	}
	raw["status"] = to
	p.MergeResponse(p.NextWebhookKey(), raw)

	if !allowed {
		s.logger.Warn("ignoring webhook status transition",
			"payment_id", p.ID,
			"from", from,
			"to", to)
	}

	if changed {
		p.Status = to
		switch to {
		case payment.StatusCompleted:
			p.SetError("")
		case payment.StatusFailed:
			message := resp.Error
			if message == "" {
				message = "payment failed at provider"
			}
			p.SetError(message)
		}
	}

	if err := s.payments.Save(ctx, p); err != nil {
		s.logger.Error("failed to save webhook update", "payment_id", p.ID, "error", err)
		return false, err
	}

	if !changed {
		return false, nil
	}

	s.logger.Info("payment status updated from webhook",
		"payment_id", p.ID,
		"gateway", p.GatewayName,
		"from", from,
		"to", to)

	switch to {
	case payment.StatusCompleted:
		s.markOrderPaid(ctx, p.OrderID)
		s.publish(ctx, events.NewPaymentCompletedEvent(p.ID, p.OrderID, p.Amount.String(), p.Currency, p.GatewayName, p.GatewayTransactionID))
	case payment.StatusFailed:
		s.publish(ctx, events.NewPaymentFailedEvent(p.ID, p.OrderID, p.GatewayName, *p.ErrorMessage))
	}
	return true, nil
}
