package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/common/validation"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/core/events"
)

// RefundPayment returns amount of a completed payment to the customer through the
// gateway that took it. A zero amount refunds the whole payment. On success p is
// updated in place and also returned.
func (s *Service) RefundPayment(ctx context.Context, p *payment.Payment, amount decimal.Decimal, reason string) (*payment.Payment, error) {
	if p == nil {
		return nil, errors.NewValidationError("payment is required", errors.ErrCodeValidationFailed)
	}

	ctx, span := s.tracer.Start(ctx, "payment.RefundPayment", trace.WithAttributes(
		attribute.String("payment.id", p.ID),
		attribute.String("payment.gateway", p.GatewayName),
	))
	defer span.End()

	var refunded *payment.Payment
	err := s.withLock(ctx, "payment:"+p.ID, func() error {
		current := p
		if p.ID != "" {
			fresh, err := s.payments.GetByID(ctx, p.ID)
			if err != nil {
				return err
			}
			current = fresh
		}

		var err error
		refunded, err = s.refund(ctx, current, amount, reason)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	*p = *refunded
	return refunded, nil
}

func (s *Service) RefundPaymentByID(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*payment.Payment, error) {
	p, err := s.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.RefundPayment(ctx, p, amount, reason)
}

func (s *Service) refund(ctx context.Context, p *payment.Payment, amount decimal.Decimal, reason string) (*payment.Payment, error) {
	if !p.IsRefundable() {
		return nil, errors.NewPreconditionError(
			fmt.Sprintf("payment in status %s cannot be refunded", p.Status),
			errors.ErrCodeRefundNotAllowed,
		)
	}

	if amount.IsZero() {
		amount = p.Amount
	}
	validator := validation.NewValidator()
	validator.Field("amount", amount).
		Positive(errors.ErrCodeInvalidAmount).
		MaxDecimal(p.Amount, errors.ErrCodeAmountTooHigh)
	if verr := validator.Validate(); verr != nil {
		return nil, verr
	}

	gw, err := s.gateways.Resolve(p.GatewayName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("refunding payment",
		"payment_id", p.ID,
		"gateway", p.GatewayName,
		"transaction_id", p.GatewayTransactionID,
		"amount", amount.String())

	started := time.Now()
	resp, err := gw.RefundPayment(ctx, &types.RefundRequest{
		PaymentID:     p.ID,
		TransactionID: p.GatewayTransactionID,
		Amount:        amount,
		Currency:      p.Currency,
		Reason:        reason,
	})
	elapsed := time.Since(started)
	if err != nil {
		s.metrics.ObserveRefund(p.GatewayName, "error", elapsed)
		s.logger.Error("refund request failed", "payment_id", p.ID, "gateway", p.GatewayName, "error", err)
		return nil, err
	}
	if resp == nil || !resp.Success {
		message := "refund rejected by gateway"
		if resp != nil && resp.Error != "" {
			message = resp.Error
		}
		s.metrics.ObserveRefund(p.GatewayName, "rejected", elapsed)
		s.logger.Warn("refund rejected", "payment_id", p.ID, "gateway", p.GatewayName, "reason", message)
		return nil, errors.NewRefundFailedError(message)
	}

	refundedAt := s.now()
	p.Status = payment.StatusRefunded
	p.RefundedAmount = decimal.NewNullDecimal(amount)
	p.RefundedAt = &refundedAt
	raw := resp.Raw
	if raw == nil {
		raw = map[string]interface{}{}
	}
	raw["refund_id"] = resp.TransactionID
	p.MergeResponse(payment.ResponseKeyRefund, raw)

	if err := s.payments.Save(ctx, p); err != nil {
		s.logger.Error("refund succeeded but payment could not be saved",
			"payment_id", p.ID,
			"refund_id", resp.TransactionID,
			"error", err)
		return nil, err
	}

	s.metrics.ObserveRefund(p.GatewayName, "refunded", elapsed)
	s.publish(ctx, events.NewPaymentRefundedEvent(p.ID, p.OrderID, p.GatewayName, amount.String(), reason))
	s.logger.Info("payment refunded",
		"payment_id", p.ID,
		"refund_id", resp.TransactionID,
		"amount", amount.String())
	return p, nil
}
