package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/common/validation"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/order"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/core/events"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/circuitbreaker"
)

// ProcessRequest charges Amount (major units) against the named gateway, or against
// every active gateway in priority order when GatewayName is empty.
type ProcessRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	GatewayName string
	Metadata    map[string]string
}

func (r ProcessRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("order_id", r.OrderID).Required().MaxLength(64)
	validator.Field("amount", r.Amount).Positive(errors.ErrCodeInvalidAmount)
	validator.Field("currency", r.Currency).Required().MinLength(3).MaxLength(3)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// ProcessResult is the attempt that settled the payment. Attempts holds every
// record written for this call, oldest first.
type ProcessResult struct {
	Payment  *payment.Payment
	Response *types.GatewayResponse
	Attempts []*payment.Payment
}

// Pending reports that the provider accepted the charge but has not settled it yet.
func (r *ProcessResult) Pending() bool {
	return r != nil && r.Payment != nil && r.Payment.Status == payment.StatusProcessing
}

type attemptOutcome int

const (
	outcomeCompleted attemptOutcome = iota
	outcomePending
	outcomeFailed
	outcomeUnknown
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomePending:
		return "pending"
	case outcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s *Service) ProcessPayment(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.ProcessPayment", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("payment.currency", req.Currency),
		attribute.String("payment.gateway", req.GatewayName),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Currency = strings.ToUpper(req.Currency)

	candidates, err := s.candidates(req.GatewayName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &ProcessResult{}
	var lastErr error

	for _, gw := range candidates {
		name := gw.Name()
		if s.breaker != nil && !s.breaker.AllowRequest(name) {
			s.logger.Warn("skipping payment gateway with open circuit", "gateway", name, "order_id", req.OrderID)
			s.metrics.SetCircuitOpen(name, true)
			continue
		}

		record, resp, outcome, attemptErr := s.attempt(ctx, gw, req)
		if record != nil {
			result.Attempts = append(result.Attempts, record)
		}
		span.AddEvent("gateway attempt", trace.WithAttributes(
			attribute.String("gateway", name),
			attribute.String("outcome", outcome.String()),
		))

		switch outcome {
		case outcomeCompleted, outcomePending:
			result.Payment = record
			result.Response = resp
			return result, nil
		case outcomeUnknown:
			span.SetStatus(codes.Error, attemptErr.Error())
			return nil, attemptErr
		}

		if record == nil {
			// the attempt could not even be recorded; nothing else is safe to try
			span.SetStatus(codes.Error, attemptErr.Error())
			return nil, attemptErr
		}
		lastErr = attemptErr
	}

	if lastErr == nil {
		lastErr = errors.NewConfigurationError("no payment gateway is currently available", errors.ErrCodeGatewayUnavailable)
	}
	span.SetStatus(codes.Error, lastErr.Error())
	s.logger.Error("payment failed on every gateway",
		"order_id", req.OrderID,
		"attempts", len(result.Attempts),
		"error", lastErr)
	return nil, lastErr
}

func (s *Service) candidates(gatewayName string) ([]paymentgateway.Gateway, error) {
	if name := strings.TrimSpace(gatewayName); name != "" {
		gw, err := s.gateways.ResolveActiveByName(name)
		if err != nil {
			return nil, err
		}
		return []paymentgateway.Gateway{gw}, nil
	}

	gateways := s.gateways.ResolveActive()
	if len(gateways) == 0 {
		return nil, errors.NewConfigurationError("no active payment gateway is configured", errors.ErrCodeNoActiveGateway)
	}
	return gateways, nil
}

// attempt runs one charge against one gateway and persists its outcome. A nil
// record means the attempt was never written.
func (s *Service) attempt(ctx context.Context, gw paymentgateway.Gateway, req ProcessRequest) (*payment.Payment, *types.GatewayResponse, attemptOutcome, error) {
	name := gw.Name()
	record := &payment.Payment{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		GatewayName: name,
		Status:      payment.StatusProcessing,
	}
	if err := s.payments.Create(ctx, record); err != nil {
		s.logger.Error("failed to create payment record", "order_id", req.OrderID, "gateway", name, "error", err)
		return nil, nil, outcomeFailed, errors.NewInternalError("failed to create payment record", err)
	}

	metadata := map[string]string{"order_id": req.OrderID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	s.logger.Info("charging payment gateway",
		"payment_id", record.ID,
		"order_id", req.OrderID,
		"gateway", name,
		"amount", req.Amount.String(),
		"currency", req.Currency)

	started := time.Now()
	resp, callErr := gw.ProcessPayment(ctx, &types.PaymentRequest{
		PaymentID: record.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  metadata,
	})
	elapsed := time.Since(started)

	if callErr != nil {
		return s.recordCallError(ctx, record, callErr, elapsed)
	}
	if resp == nil {
		resp = types.Failed("gateway returned no response")
	}

	record.GatewayTransactionID = resp.TransactionID
	if resp.ProviderReference != "" {
		record.ProviderReference = resp.ProviderReference
	}
	record.MergeResponse(payment.ResponseKeyCharge, resp.Raw)
	s.recordBreakerSuccess(name)

	switch {
	case resp.Success:
		record.Status = payment.StatusCompleted
		record.SetError("")
		if err := s.payments.Save(ctx, record); err != nil {
			// the provider holds the money; leave reconciliation to the webhook
			s.logger.Error("failed to persist completed payment", "payment_id", record.ID, "transaction_id", resp.TransactionID, "error", err)
			return record, resp, outcomeUnknown, err
		}
		s.metrics.ObserveAttempt(name, outcomeCompleted.String(), elapsed)
		s.markOrderPaid(ctx, req.OrderID)
		s.publish(ctx, events.NewPaymentCompletedEvent(record.ID, record.OrderID, record.Amount.String(), record.Currency, name, resp.TransactionID))
		s.logger.Info("payment completed",
			"payment_id", record.ID,
			"order_id", record.OrderID,
			"gateway", name,
			"transaction_id", resp.TransactionID)
		return record, resp, outcomeCompleted, nil

	case resp.Status == types.StatusProcessing:
		if err := s.payments.Save(ctx, record); err != nil {
			s.logger.Error("failed to persist pending payment", "payment_id", record.ID, "error", err)
			return record, resp, outcomeUnknown, err
		}
		s.metrics.ObserveAttempt(name, outcomePending.String(), elapsed)
		s.logger.Info("payment accepted and awaiting provider confirmation",
			"payment_id", record.ID,
			"gateway", name,
			"transaction_id", resp.TransactionID)
		return record, resp, outcomePending, nil

	default:
		message := resp.Error
		if message == "" {
			message = "payment declined"
		}
		record.Status = payment.StatusFailed
		record.SetError(message)
		if err := s.payments.Save(ctx, record); err != nil {
			s.logger.Error("failed to persist failed payment", "payment_id", record.ID, "error", err)
		}
		s.metrics.ObserveAttempt(name, outcomeFailed.String(), elapsed)
		s.publish(ctx, events.NewPaymentFailedEvent(record.ID, record.OrderID, name, message))
		s.logger.Warn("payment declined, trying next gateway",
			"payment_id", record.ID,
			"gateway", name,
			"reason", message)
		return record, resp, outcomeFailed, errors.NewPaymentDeclinedError(fmt.Sprintf("%s: %s", name, message))
	}
}

func (s *Service) recordCallError(ctx context.Context, record *payment.Payment, callErr error, elapsed time.Duration) (*payment.Payment, *types.GatewayResponse, attemptOutcome, error) {
	name := record.GatewayName
	s.recordBreakerFailure(name)

	raw := map[string]interface{}{"error": callErr.Error()}
	var providerOrderID string
	if appErr, ok := errors.IsAppError(callErr); ok {
		raw["code"] = string(appErr.Code)
		if details, ok := appErr.Details.(map[string]string); ok {
			providerOrderID = details["provider_order_id"]
			if providerOrderID != "" {
				raw["provider_order_id"] = providerOrderID
				record.ProviderReference = providerOrderID
			}
		}
	}
	record.MergeResponse(payment.ResponseKeyCharge, raw)
	record.SetError(callErr.Error())

	// A timeout, a half-finished capture or an abandoned request may all have moved
	// money. The record stays processing until a webhook or an operator resolves it.
	if errors.IsEffectUnknown(callErr) || ctx.Err() != nil {
		// keep the write even when the request context is gone
		saveCtx := context.WithoutCancel(ctx)
		if err := s.payments.Save(saveCtx, record); err != nil {
			s.logger.Error("failed to persist payment in unknown state", "payment_id", record.ID, "error", err)
		}
		s.metrics.ObserveAttempt(name, outcomeUnknown.String(), elapsed)
		s.publish(saveCtx, events.NewReconciliationRequiredEvent(record.ID, record.OrderID, name, providerOrderID, callErr.Error()))
		s.logger.Error("payment outcome unknown, stopping failover",
			"payment_id", record.ID,
			"order_id", record.OrderID,
			"gateway", name,
			"provider_order_id", providerOrderID,
			"error", callErr)
		return record, nil, outcomeUnknown, callErr
	}

	record.Status = payment.StatusFailed
	if err := s.payments.Save(ctx, record); err != nil {
		s.logger.Error("failed to persist failed payment", "payment_id", record.ID, "error", err)
	}
	s.metrics.ObserveAttempt(name, outcomeFailed.String(), elapsed)
	s.publish(ctx, events.NewPaymentFailedEvent(record.ID, record.OrderID, name, callErr.Error()))
	s.logger.Warn("payment gateway call failed, trying next gateway",
		"payment_id", record.ID,
		"gateway", name,
		"error", callErr)
	return record, nil, outcomeFailed, callErr
}

func (s *Service) recordBreakerSuccess(gateway string) {
	if s.breaker == nil {
		return
	}
	s.breaker.RecordSuccess(gateway)
	s.metrics.SetCircuitOpen(gateway, !s.breaker.AllowRequest(gateway))
}

func (s *Service) recordBreakerFailure(gateway string) {
	if s.breaker == nil {
		return
	}
	s.breaker.RecordFailure(gateway)
	state, _ := s.breaker.State(gateway)
	s.metrics.SetCircuitOpen(gateway, state == circuitbreaker.StateOpen)
}

// ProcessOrderPayment charges an order's stored total. Orders that are already paid,
// cancelled, or have a charge awaiting confirmation are refused.
func (s *Service) ProcessOrderPayment(ctx context.Context, orderID, gatewayName string) (*ProcessResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.NewValidationFieldError("order_id", "order_id is required", errors.ErrCodeValidationFailed)
	}

	var result *ProcessResult
	err := s.withLock(ctx, "order:"+orderID, func() error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		switch o.Status {
		case order.StatusPaid:
			return errors.NewPreconditionError("order is already paid", errors.ErrCodeOrderPaid)
		case order.StatusCancelled:
			return errors.NewPreconditionError("order is cancelled", errors.ErrCodeOrderPaid)
		}

		existing, err := s.payments.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		for _, p := range existing {
			switch p.Status {
			case payment.StatusCompleted, payment.StatusRefunded:
				return errors.NewPreconditionError("order already has a completed payment", errors.ErrCodeOrderPaid)
			case payment.StatusProcessing, payment.StatusPending:
				return errors.NewPreconditionError(
					fmt.Sprintf("payment %s for this order is awaiting provider confirmation", p.ID),
					errors.ErrCodeOrderPaid,
				)
			}
		}

		metadata := map[string]string{}
		if o.CustomerID != "" {
			metadata["customer_id"] = o.CustomerID
		}
		if o.CustomerEmail != "" {
			metadata["customer_email"] = o.CustomerEmail
		}

		result, err = s.ProcessPayment(ctx, ProcessRequest{
			OrderID:     o.ID,
			Amount:      o.TotalAmount,
			Currency:    o.Currency,
			GatewayName: gatewayName,
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
