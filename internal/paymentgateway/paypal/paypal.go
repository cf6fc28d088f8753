package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	"github.com/frahmantamala/payment-gateway/internal"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
)

const (
	Name = "paypal"

	CredentialClientID     = "client_id"
	CredentialClientSecret = "client_secret"
	CredentialWebhookID    = "webhook_id"

	defaultEndpoint = "https://api-m.sandbox.paypal.com"
)

const webhookSchema = `{
	"type": "object",
	"required": ["id", "event_type", "resource"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"event_type": {"type": "string", "minLength": 1},
		"resource": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"status": {"type": "string"}
			}
		}
	}
}`

// wholeUnit lists currencies PayPal rejects decimals for.
var wholeUnit = map[string]bool{"HUF": true, "JPY": true, "TWD": true}

// FormatAmount renders a major-unit amount the way the PayPal API expects it.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if wholeUnit[strings.ToUpper(currency)] {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}

type options struct {
	httpClient *http.Client
	now        func() time.Time
	policyOpts []paymentgateway.PolicyOption
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithPolicyOptions(opts ...paymentgateway.PolicyOption) Option {
	return func(o *options) {
		o.policyOpts = append(o.policyOpts, opts...)
	}
}

// Gateway charges through PayPal Orders v2: an order is created and captured in
// one attempt.
type Gateway struct {
	cfg          paymentgateway.GatewayConfig
	endpoint     string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client
	policy       *paymentgateway.Policy
	schema       *gojsonschema.Schema
	logger       *slog.Logger
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg paymentgateway.GatewayConfig, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	clientID := cfg.Credential(CredentialClientID)
	clientSecret := cfg.Credential(CredentialClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("paypal: %s and %s credentials are required", CredentialClientID, CredentialClientSecret)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &options{httpClient: &http.Client{}, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to load webhook schema: %w", err)
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	policyOpts := append([]paymentgateway.PolicyOption{paymentgateway.WithPolicyLogger(logger)}, o.policyOpts...)

	return &Gateway{
		cfg:          cfg,
		endpoint:     strings.TrimRight(endpoint, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    cfg.Credential(CredentialWebhookID),
		httpClient:   o.httpClient,
		policy:       paymentgateway.NewPolicy(cfg, policyOpts...),
		schema:       schema,
		logger:       logger,
		now:          o.now,
	}, nil
}

func Factory(opts ...Option) paymentgateway.Factory {
	return func(cfg paymentgateway.GatewayConfig, logger *slog.Logger) (paymentgateway.Gateway, error) {
		return New(cfg, logger, opts...)
	}
}

func (g *Gateway) Name() string {
	return g.cfg.Name
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type capture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *order) firstCapture() (capture, bool) {
	for _, unit := range o.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			return unit.Payments.Captures[0], true
		}
	}
	return capture{}, false
}

func (g *Gateway) ProcessPayment(ctx context.Context, req *types.PaymentRequest) (*types.GatewayResponse, error) {
	if verr := paymentgateway.ValidateRequest(g.cfg, req.Amount, req.Currency); verr != nil {
		g.logger.Warn("paypal payment rejected before submission", "payment_id", req.PaymentID, "error", verr.GetDetailedMessage())
		return paymentgateway.Rejected(verr), nil
	}

	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": req.PaymentID,
			"custom_id":    req.Metadata["order_id"],
			"amount": money{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        FormatAmount(req.Amount, req.Currency),
			},
		}},
	}

	var created order
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		var out order
		if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", body, req.PaymentID, &out); err != nil {
			return g.classify(ctx, "create order", err)
		}
		created = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, internal.NewRemoteError("paypal create order returned no order id", nil).WithRetryable(false)
	}

	g.logger.Info("paypal order created", "payment_id", req.PaymentID, "order_id", created.ID)

	var (
		captured order
		declined error
	)
	err = g.policy.Execute(ctx, func(ctx context.Context) error {
		var out order
		path := fmt.Sprintf("/v2/checkout/orders/%s/capture", created.ID)
		if err := g.call(ctx, http.MethodPost, path, struct{}{}, "capture-"+req.PaymentID, &out); err != nil {
			if isDecline(err) {
				declined = err
				return nil
			}
			return g.classify(ctx, "capture", err)
		}
		captured = out
		return nil
	})
	if err != nil {
		g.logger.Error("paypal capture did not complete after order creation",
			"payment_id", req.PaymentID,
			"order_id", created.ID,
			"error", err)
		return nil, internal.NewPartialCaptureError(
			fmt.Sprintf("paypal order %s was created but not captured", created.ID),
			created.ID,
			err,
		)
	}

	if declined != nil {
		g.logger.Info("paypal capture declined", "payment_id", req.PaymentID, "order_id", created.ID, "error", declined)
		resp := types.Failed(declined.Error())
		resp.ProviderReference = created.ID
		resp.Raw = map[string]interface{}{"order_id": created.ID, "error": declined.Error()}
		return resp, nil
	}

	c, ok := captured.firstCapture()
	if !ok || c.ID == "" {
		return nil, internal.NewPartialCaptureError(
			fmt.Sprintf("paypal order %s capture carried no capture id", created.ID),
			created.ID,
			nil,
		)
	}

	resp := &types.GatewayResponse{
		TransactionID:     c.ID,
		ProviderReference: created.ID,
		Raw: map[string]interface{}{
			"order_id":       created.ID,
			"order_status":   captured.Status,
			"capture_id":     c.ID,
			"capture_status": c.Status,
		},
	}
	switch c.Status {
	case "COMPLETED":
		resp.Success = true
		resp.Status = types.StatusCompleted
	case "PENDING":
		resp.Status = types.StatusProcessing
		resp.Error = fmt.Sprintf("capture pending: %s", c.StatusDetails.Reason)
	default:
		resp.Status = types.StatusFailed
		resp.Error = fmt.Sprintf("capture %s", strings.ToLower(c.Status))
	}
	return resp, nil
}

func (g *Gateway) RefundPayment(ctx context.Context, req *types.RefundRequest) (*types.GatewayResponse, error) {
	if req.TransactionID == "" {
		return types.Failed("paypal refund requires a capture id"), nil
	}
	if verr := paymentgateway.ValidateRequest(g.cfg, req.Amount, req.Currency); verr != nil {
		return paymentgateway.Rejected(verr), nil
	}

	body := map[string]interface{}{
		"amount": money{
			CurrencyCode: strings.ToUpper(req.Currency),
			Value:        FormatAmount(req.Amount, req.Currency),
		},
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		path := fmt.Sprintf("/v2/payments/captures/%s/refund", req.TransactionID)
		if err := g.call(ctx, http.MethodPost, path, body, "refund-"+req.PaymentID, &refund); err != nil {
			return g.classify(ctx, "refund", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &types.GatewayResponse{
		TransactionID: refund.ID,
		Raw:           map[string]interface{}{"refund_id": refund.ID, "status": refund.Status},
	}
	switch refund.Status {
	case "COMPLETED", "PENDING":
		resp.Success = true
		resp.Status = types.StatusCompleted
	default:
		resp.Status = types.StatusFailed
		resp.Error = fmt.Sprintf("refund %s", strings.ToLower(refund.Status))
	}
	return resp, nil
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (g *Gateway) HandleWebhook(ctx context.Context, payload *types.WebhookPayload) (*types.GatewayResponse, error) {
	result, err := g.schema.Validate(gojsonschema.NewBytesLoader(payload.Body))
	if err != nil {
		return types.Failed(fmt.Sprintf("unreadable paypal webhook: %v", err)), nil
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return types.Failed("invalid paypal webhook: " + strings.Join(problems, "; ")), nil
	}

	if g.webhookID == "" {
		return types.Failed("paypal webhook verification is not configured"), nil
	}
	verified, err := g.verifySignature(ctx, payload)
	if err != nil {
		return nil, err
	}
	if !verified {
		g.logger.Warn("paypal webhook signature rejected", "transmission_id", payload.Headers.Get("Paypal-Transmission-Id"))
		return types.Failed("paypal webhook signature verification failed"), nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload.Body, &event); err != nil {
		return types.Failed(fmt.Sprintf("unreadable paypal webhook: %v", err)), nil
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(payload.Body, &raw)

	return &types.GatewayResponse{
		Success:           true,
		TransactionID:     event.Resource.ID,
		ProviderReference: event.Resource.SupplementaryData.RelatedIDs.OrderID,
		Status:            eventStatus(event.EventType),
		Raw:               raw,
	}, nil
}

func (g *Gateway) verifySignature(ctx context.Context, payload *types.WebhookPayload) (bool, error) {
	body := map[string]interface{}{
		"auth_algo":         payload.Headers.Get("Paypal-Auth-Algo"),
		"cert_url":          payload.Headers.Get("Paypal-Cert-Url"),
		"transmission_id":   payload.Headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  payload.Headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": payload.Headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        g.webhookID,
		"webhook_event":     json.RawMessage(payload.Body),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		if err := g.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "", &out); err != nil {
			return g.classify(ctx, "webhook verification", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return out.VerificationStatus == "SUCCESS", nil
}

func eventStatus(eventType string) types.PaymentStatus {
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		return types.StatusCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return types.StatusFailed
	default:
		return types.StatusProcessing
	}
}
