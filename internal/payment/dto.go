package payment

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/common/validation"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
)

// CreatePaymentRequest is the body of POST /payments.
type CreatePaymentRequest struct {
	OrderID     string `json:"order_id"`
	GatewayName string `json:"gateway_name,omitempty"`
}

func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("order_id", r.OrderID).Required().MaxLength(64)
	validator.Field("gateway_name", r.GatewayName).MaxLength(50)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// RefundRequestDTO is the body of POST /payments/{paymentID}/refund. An omitted
// amount refunds the full payment.
type RefundRequestDTO struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (r *RefundRequestDTO) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Custom(func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok && v.IsNegative() {
			return errors.NewValidationFieldError("amount", "amount cannot be negative", errors.ErrCodeInvalidAmount)
		}
		return nil
	})
	validator.Field("reason", r.Reason).MaxLength(500)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type PaymentResponse struct {
	ID                   string                 `json:"id"`
	OrderID              string                 `json:"order_id"`
	Amount               decimal.Decimal        `json:"amount"`
	Currency             string                 `json:"currency"`
	GatewayName          string                 `json:"gateway_name"`
	GatewayTransactionID string                 `json:"gateway_transaction_id,omitempty"`
	ProviderReference    string                 `json:"provider_reference,omitempty"`
	Status               string                 `json:"status"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	RefundedAmount       *decimal.Decimal       `json:"refunded_amount,omitempty"`
	RefundedAt           *time.Time             `json:"refunded_at,omitempty"`
	GatewayResponse      map[string]interface{} `json:"gateway_response,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

func ToPaymentResponse(p *payment.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:                   p.ID,
		OrderID:              p.OrderID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		GatewayName:          p.GatewayName,
		GatewayTransactionID: p.GatewayTransactionID,
		ProviderReference:    p.ProviderReference,
		Status:               p.Status,
		RefundedAt:           p.RefundedAt,
		GatewayResponse:      p.GatewayResponse,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if p.ErrorMessage != nil {
		resp.ErrorMessage = *p.ErrorMessage
	}
	if p.RefundedAmount.Valid {
		amount := p.RefundedAmount.Decimal
		resp.RefundedAmount = &amount
	}
	return resp
}

func ToPaymentResponses(payments []*payment.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, ToPaymentResponse(p))
	}
	return out
}

// ProcessPaymentResponse reports the attempt that settled the charge together with
// every attempt made on the way.
type ProcessPaymentResponse struct {
	Payment  PaymentResponse   `json:"payment"`
	Pending  bool              `json:"pending"`
	Attempts []PaymentResponse `json:"attempts"`
}

func ToProcessPaymentResponse(result *ProcessResult) ProcessPaymentResponse {
	return ProcessPaymentResponse{
		Payment:  ToPaymentResponse(result.Payment),
		Pending:  result.Pending(),
		Attempts: ToPaymentResponses(result.Attempts),
	}
}
