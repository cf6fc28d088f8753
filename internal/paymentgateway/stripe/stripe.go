package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/frahmantamala/payment-gateway/internal"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
)

const (
	Name = "stripe"

	CredentialSecretKey     = "secret_key"
	CredentialWebhookSecret = "webhook_secret"

	SignatureHeader = "Stripe-Signature"

	defaultPaymentMethod = "pm_card_visa"
	defaultEndpoint      = "https://api.stripe.com"
)

// zeroDecimal lists currencies Stripe expects in whole units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnits converts a major-unit amount to the integer Stripe transmits.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type options struct {
	httpClient *http.Client
	policyOpts []paymentgateway.PolicyOption
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithPolicyOptions(opts ...paymentgateway.PolicyOption) Option {
	return func(o *options) {
		o.policyOpts = append(o.policyOpts, opts...)
	}
}

// Gateway charges cards through the Stripe PaymentIntents API.
type Gateway struct {
	cfg           paymentgateway.GatewayConfig
	api           *client.API
	policy        *paymentgateway.Policy
	webhookSecret string
	logger        *slog.Logger
}

func New(cfg paymentgateway.GatewayConfig, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	secretKey := cfg.Credential(CredentialSecretKey)
	if secretKey == "" {
		return nil, fmt.Errorf("stripe: %s credential is required", CredentialSecretKey)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &options{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(o)
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	// retries belong to the gateway policy, the SDK must not add its own
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		URL:               stripego.String(strings.TrimRight(endpoint, "/")),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	})

	policyOpts := append([]paymentgateway.PolicyOption{paymentgateway.WithPolicyLogger(logger)}, o.policyOpts...)

	return &Gateway{
		cfg:           cfg,
		api:           client.New(secretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend}),
		policy:        paymentgateway.NewPolicy(cfg, policyOpts...),
		webhookSecret: cfg.Credential(CredentialWebhookSecret),
		logger:        logger,
	}, nil
}

// Factory adapts New to the gateway manager.
func Factory(opts ...Option) paymentgateway.Factory {
	return func(cfg paymentgateway.GatewayConfig, logger *slog.Logger) (paymentgateway.Gateway, error) {
		return New(cfg, logger, opts...)
	}
}

func (g *Gateway) Name() string {
	return g.cfg.Name
}

func (g *Gateway) ProcessPayment(ctx context.Context, req *types.PaymentRequest) (*types.GatewayResponse, error) {
	if verr := paymentgateway.ValidateRequest(g.cfg, req.Amount, req.Currency); verr != nil {
		g.logger.Warn("stripe payment rejected before submission", "payment_id", req.PaymentID, "error", verr.GetDetailedMessage())
		return paymentgateway.Rejected(verr), nil
	}

	amount := MinorUnits(req.Amount, req.Currency)
	paymentMethod := req.Metadata["payment_method"]
	if paymentMethod == "" {
		paymentMethod = defaultPaymentMethod
	}

	var (
		intent   *stripego.PaymentIntent
		declined *stripego.Error
	)
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		params := &stripego.PaymentIntentParams{
			Amount:        stripego.Int64(amount),
			Currency:      stripego.String(strings.ToLower(req.Currency)),
			Confirm:       stripego.Bool(true),
			PaymentMethod: stripego.String(paymentMethod),
			AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled:        stripego.Bool(true),
				AllowRedirects: stripego.String("never"),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.PaymentID)
		params.AddMetadata("payment_id", req.PaymentID)
		for k, v := range req.Metadata {
			if k != "payment_method" {
				params.AddMetadata(k, v)
			}
		}

		pi, err := g.api.PaymentIntents.New(params)
		if err != nil {
			var serr *stripego.Error
			if errors.As(err, &serr) && serr.Type == stripego.ErrorTypeCard {
				declined = serr
				return nil
			}
			return classify(ctx, "payment", err)
		}
		intent = pi
		return nil
	})
	if err != nil {
		return nil, err
	}

	if declined != nil {
		g.logger.Info("stripe payment declined", "payment_id", req.PaymentID, "code", declined.Code, "decline_code", declined.DeclineCode)
		resp := types.Failed(declined.Msg)
		if declined.PaymentIntent != nil {
			resp.TransactionID = declined.PaymentIntent.ID
		}
		resp.Raw = map[string]interface{}{
			"type":         string(declined.Type),
			"code":         string(declined.Code),
			"decline_code": string(declined.DeclineCode),
			"message":      declined.Msg,
		}
		return resp, nil
	}

	return intentResponse(intent), nil
}

func intentResponse(pi *stripego.PaymentIntent) *types.GatewayResponse {
	resp := &types.GatewayResponse{
		TransactionID: pi.ID,
		Raw:           toRaw(pi),
	}
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		resp.Success = true
		resp.Status = types.StatusCompleted
	case stripego.PaymentIntentStatusProcessing,
		stripego.PaymentIntentStatusRequiresAction,
		stripego.PaymentIntentStatusRequiresConfirmation,
		stripego.PaymentIntentStatusRequiresCapture:
		resp.Status = types.StatusProcessing
		resp.Error = fmt.Sprintf("payment intent is %s", pi.Status)
	default:
		resp.Status = types.StatusFailed
		resp.Error = fmt.Sprintf("payment intent is %s", pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			resp.Error = pi.LastPaymentError.Msg
		}
	}
	return resp
}

func (g *Gateway) RefundPayment(ctx context.Context, req *types.RefundRequest) (*types.GatewayResponse, error) {
	if req.TransactionID == "" {
		return types.Failed("stripe refund requires a payment intent id"), nil
	}
	if verr := paymentgateway.ValidateRequest(g.cfg, req.Amount, req.Currency); verr != nil {
		return paymentgateway.Rejected(verr), nil
	}

	amount := MinorUnits(req.Amount, req.Currency)

	var refund *stripego.Refund
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		params := &stripego.RefundParams{
			PaymentIntent: stripego.String(req.TransactionID),
			Amount:        stripego.Int64(amount),
		}
		params.Context = ctx
		params.SetIdempotencyKey("refund-" + req.PaymentID)
		if req.Reason != "" {
			params.AddMetadata("reason", req.Reason)
		}

		r, err := g.api.Refunds.New(params)
		if err != nil {
			return classify(ctx, "refund", err)
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &types.GatewayResponse{TransactionID: refund.ID, Raw: toRaw(refund)}
	switch refund.Status {
	case stripego.RefundStatusSucceeded, stripego.RefundStatusPending:
		resp.Success = true
		resp.Status = types.StatusCompleted
	default:
		resp.Status = types.StatusFailed
		resp.Error = fmt.Sprintf("refund is %s", refund.Status)
	}
	return resp, nil
}

func (g *Gateway) HandleWebhook(ctx context.Context, payload *types.WebhookPayload) (*types.GatewayResponse, error) {
	if g.webhookSecret == "" {
		return types.Failed("stripe webhook secret is not configured"), nil
	}

	event, err := webhook.ConstructEventWithOptions(
		payload.Body,
		payload.Headers.Get(SignatureHeader),
		g.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreTolerance:          payload.Replay,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		g.logger.Warn("stripe webhook rejected", "error", err)
		return types.Failed(fmt.Sprintf("invalid stripe signature: %v", err)), nil
	}
	if event.Data == nil {
		return types.Failed("stripe event has no data object"), nil
	}

	var object struct {
		ID            string            `json:"id"`
		Object        string            `json:"object"`
		PaymentIntent string            `json:"payment_intent"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return types.Failed(fmt.Sprintf("unreadable stripe event object: %v", err)), nil
	}

	transactionID := object.ID
	if object.Object != "payment_intent" && object.PaymentIntent != "" {
		transactionID = object.PaymentIntent
	}

	// payment_id is set on every intent we create, so a timed-out charge can
	// still be matched by the notification that settles it
	return &types.GatewayResponse{
		Success:       true,
		TransactionID: transactionID,
		PaymentID:     object.Metadata["payment_id"],
		Status:        eventStatus(string(event.Type)),
		Raw: map[string]interface{}{
			"event_id": event.ID,
			"type":     string(event.Type),
			"object":   event.Data.Object,
		},
	}, nil
}

func eventStatus(eventType string) types.PaymentStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return types.StatusCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return types.StatusFailed
	default:
		return types.StatusProcessing
	}
}

// classify marks throttling, server errors and network failures as retryable. A
// deadline on ctx is returned as is so the policy reports it as a timeout.
func classify(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var serr *stripego.Error
	if errors.As(err, &serr) {
		message := fmt.Sprintf("stripe %s failed: %s", operation, serr.Msg)
		retryable := serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= http.StatusInternalServerError
		return internal.NewRemoteError(message, err).WithRetryable(retryable)
	}
	return internal.NewRemoteError(fmt.Sprintf("stripe %s request failed", operation), err)
}

func toRaw(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}
