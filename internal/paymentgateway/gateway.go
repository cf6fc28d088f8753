package paymentgateway

import (
	"context"
	"log/slog"

	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
)

// Gateway is implemented once per payment provider.
//
// ProcessPayment and RefundPayment return a response (Success true or false) when the
// provider answered or the request was rejected locally, and an error only when the
// outcome is unknown or the provider could not be reached.
type Gateway interface {
	Name() string
	ProcessPayment(ctx context.Context, req *types.PaymentRequest) (*types.GatewayResponse, error)
	RefundPayment(ctx context.Context, req *types.RefundRequest) (*types.GatewayResponse, error)
	HandleWebhook(ctx context.Context, payload *types.WebhookPayload) (*types.GatewayResponse, error)
}

// Factory builds an adapter for one configured gateway.
type Factory func(cfg GatewayConfig, logger *slog.Logger) (Gateway, error)
