package paymentgateway

import (
	"net/http"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the provider-independent outcome reported by an adapter.
type PaymentStatus string

const (
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusProcessing PaymentStatus = "processing"
)

// PaymentRequest carries the amount in major units. Adapters convert to the
// provider's unit convention.
type PaymentRequest struct {
	PaymentID string            `json:"payment_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type RefundRequest struct {
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason,omitempty"`
}

// GatewayResponse is the normalized result of a provider call. Success implies a
// non-empty TransactionID.
//
// Webhook responses may also carry PaymentID, our id echoed back from request
// metadata, and ProviderReference, the provider's parent object (a PayPal order).
// Either one locates a payment whose charge never returned a transaction id.
type GatewayResponse struct {
	Success           bool                   `json:"success"`
	TransactionID     string                 `json:"transaction_id,omitempty"`
	PaymentID         string                 `json:"payment_id,omitempty"`
	ProviderReference string                 `json:"provider_reference,omitempty"`
	Status            PaymentStatus          `json:"status"`
	Error             string                 `json:"error,omitempty"`
	Raw               map[string]interface{} `json:"raw,omitempty"`
}

// WebhookPayload is an inbound provider notification exactly as received. Replay
// marks a stored notification fed back by an operator; signatures are still
// checked but delivery-time windows are not.
type WebhookPayload struct {
	Headers http.Header
	Body    []byte
	Replay  bool
}

func Failed(message string) *GatewayResponse {
	return &GatewayResponse{Success: false, Status: StatusFailed, Error: message}
}
