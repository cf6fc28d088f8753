package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted       = "payment.completed"
	EventTypePaymentFailed          = "payment.failed"
	EventTypePaymentRefunded        = "payment.refunded"
	EventTypeReconciliationRequired = "payment.reconciliation_required"
)

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	GatewayName   string `json:"gateway_name"`
	TransactionID string `json:"transaction_id"`
}

func NewPaymentCompletedEvent(paymentID, orderID, amount, currency, gatewayName, transactionID string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: newBase(EventTypePaymentCompleted, map[string]interface{}{
			"payment_id":     paymentID,
			"order_id":       orderID,
			"amount":         amount,
			"currency":       currency,
			"gateway_name":   gatewayName,
			"transaction_id": transactionID,
		}),
		PaymentID:     paymentID,
		OrderID:       orderID,
		Amount:        amount,
		Currency:      currency,
		GatewayName:   gatewayName,
		TransactionID: transactionID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	GatewayName   string `json:"gateway_name"`
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentID, orderID, gatewayName, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBase(EventTypePaymentFailed, map[string]interface{}{
			"payment_id":     paymentID,
			"order_id":       orderID,
			"gateway_name":   gatewayName,
			"failure_reason": failureReason,
		}),
		PaymentID:     paymentID,
		OrderID:       orderID,
		GatewayName:   gatewayName,
		FailureReason: failureReason,
	}
}

type PaymentRefundedEvent struct {
	BaseEvent
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	GatewayName string `json:"gateway_name"`
	Amount      string `json:"amount"`
	Reason      string `json:"reason"`
}

func NewPaymentRefundedEvent(paymentID, orderID, gatewayName, amount, reason string) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		BaseEvent: newBase(EventTypePaymentRefunded, map[string]interface{}{
			"payment_id":   paymentID,
			"order_id":     orderID,
			"gateway_name": gatewayName,
			"amount":       amount,
			"reason":       reason,
		}),
		PaymentID:   paymentID,
		OrderID:     orderID,
		GatewayName: gatewayName,
		Amount:      amount,
		Reason:      reason,
	}
}

// ReconciliationRequiredEvent is raised when a provider call ended without a
// known outcome and an operator has to check the provider dashboard.
type ReconciliationRequiredEvent struct {
	BaseEvent
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	GatewayName     string `json:"gateway_name"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
	Reason          string `json:"reason"`
}

func NewReconciliationRequiredEvent(paymentID, orderID, gatewayName, providerOrderID, reason string) *ReconciliationRequiredEvent {
	return &ReconciliationRequiredEvent{
		BaseEvent: newBase(EventTypeReconciliationRequired, map[string]interface{}{
			"payment_id":        paymentID,
			"order_id":          orderID,
			"gateway_name":      gatewayName,
			"provider_order_id": providerOrderID,
			"reason":            reason,
		}),
		PaymentID:       paymentID,
		OrderID:         orderID,
		GatewayName:     gatewayName,
		ProviderOrderID: providerOrderID,
		Reason:          reason,
	}
}
