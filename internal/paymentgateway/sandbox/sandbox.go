package sandbox

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/payment-gateway/internal"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
)

const (
	Name = "sandbox"

	CredentialWebhookToken = "webhook_token"
	TokenHeader            = "X-Sandbox-Token"

	// MetadataDecline makes the sandbox decline the charge.
	MetadataDecline = "sandbox_decline"
	// MetadataAsync leaves the charge processing and settles it later by webhook.
	MetadataAsync = "sandbox_async"
	// MetadataAsyncFail makes the later webhook report a failure.
	MetadataAsyncFail = "sandbox_async_fail"

	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusPending = "PENDING"
)

type Options struct {
	MaxWorkers    int
	JobQueueSize  int
	CallbackDelay time.Duration
	HTTPClient    *http.Client
}

// Gateway is a local provider for development and demos. It never leaves the
// process except to post its own webhook callbacks back to the service.
type Gateway struct {
	cfg           paymentgateway.GatewayConfig
	webhookToken  string
	webhookURL    string
	callbackDelay time.Duration
	httpClient    *http.Client
	logger        *slog.Logger

	jobQueue   chan callbackJob
	workerPool chan chan callbackJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	closeOnce  sync.Once
}

func New(cfg paymentgateway.GatewayConfig, logger *slog.Logger, opts Options) (*Gateway, error) {
	token := cfg.Credential(CredentialWebhookToken)
	if token == "" {
		return nil, fmt.Errorf("sandbox: %s credential is required", CredentialWebhookToken)
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	queueSize := opts.JobQueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	delay := opts.CallbackDelay
	if delay < 0 {
		delay = 0
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:           cfg,
		webhookToken:  token,
		webhookURL:    cfg.WebhookEndpoint,
		callbackDelay: delay,
		httpClient:    httpClient,
		logger:        logger,
		jobQueue:      make(chan callbackJob, queueSize),
		workerPool:    make(chan chan callbackJob, maxWorkers),
		maxWorkers:    maxWorkers,
		ctx:           ctx,
		cancel:        cancel,
	}
	g.startWorkerPool()
	return g, nil
}

func Factory(opts Options) paymentgateway.Factory {
	return func(cfg paymentgateway.GatewayConfig, logger *slog.Logger) (paymentgateway.Gateway, error) {
		return New(cfg, logger, opts)
	}
}

func (g *Gateway) Name() string {
	return g.cfg.Name
}

func TransactionID(paymentID string) string {
	return "sbx_" + paymentID
}

func (g *Gateway) ProcessPayment(ctx context.Context, req *types.PaymentRequest) (*types.GatewayResponse, error) {
	if verr := paymentgateway.ValidateRequest(g.cfg, req.Amount, req.Currency); verr != nil {
		return paymentgateway.Rejected(verr), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txID := TransactionID(req.PaymentID)
	raw := map[string]interface{}{
		"transaction_id": txID,
		"amount":         paymentgateway.NormalizeAmount(req.Amount, req.Currency).String(),
		"currency":       strings.ToUpper(req.Currency),
	}

	if req.Metadata[MetadataDecline] == "true" {
		g.logger.Info("sandbox: payment declined", "payment_id", req.PaymentID)
		resp := types.Failed("card declined")
		resp.TransactionID = txID
		resp.Raw = raw
		return resp, nil
	}

	if req.Metadata[MetadataAsync] == "true" {
		if g.webhookURL == "" {
			return nil, internal.NewRemoteError("sandbox has no webhook endpoint for async payments", nil).WithRetryable(false)
		}
		job := callbackJob{PaymentID: req.PaymentID, TransactionID: txID, Status: StatusSuccess}
		if req.Metadata[MetadataAsyncFail] == "true" {
			job.Status = StatusFailed
			job.FailureReason = "Insufficient funds"
		}

		select {
		case g.jobQueue <- job:
			g.logger.Info("sandbox: payment queued for async settlement",
				"payment_id", req.PaymentID,
				"transaction_id", txID,
				"queue_length", len(g.jobQueue))
		default:
			g.logger.Warn("sandbox: callback queue full", "payment_id", req.PaymentID, "queue_capacity", cap(g.jobQueue))
			return nil, internal.NewRemoteError("sandbox callback queue full", nil).WithRetryable(false)
		}

		raw["mode"] = "async"
		return &types.GatewayResponse{
			TransactionID: txID,
			Status:        types.StatusProcessing,
			Error:         "awaiting sandbox callback",
			Raw:           raw,
		}, nil
	}

	raw["mode"] = "sync"
	return &types.GatewayResponse{
		Success:       true,
		TransactionID: txID,
		Status:        types.StatusCompleted,
		Raw:           raw,
	}, nil
}

func (g *Gateway) RefundPayment(ctx context.Context, req *types.RefundRequest) (*types.GatewayResponse, error) {
	if req.TransactionID == "" {
		return types.Failed("sandbox refund requires a transaction id"), nil
	}
	if verr := paymentgateway.ValidateRequest(g.cfg, req.Amount, req.Currency); verr != nil {
		return paymentgateway.Rejected(verr), nil
	}

	return &types.GatewayResponse{
		Success:       true,
		TransactionID: "sbx_re_" + req.PaymentID,
		Status:        types.StatusCompleted,
		Raw: map[string]interface{}{
			"refunded_transaction_id": req.TransactionID,
			"amount":                  paymentgateway.NormalizeAmount(req.Amount, req.Currency).String(),
			"reason":                  req.Reason,
		},
	}, nil
}

type callbackPayload struct {
	TransactionID string `json:"transaction_id"`
	PaymentID     string `json:"payment_id,omitempty"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (g *Gateway) HandleWebhook(ctx context.Context, payload *types.WebhookPayload) (*types.GatewayResponse, error) {
	token := payload.Headers.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.webhookToken)) != 1 {
		return types.Failed("invalid sandbox webhook token"), nil
	}

	var cb callbackPayload
	if err := json.Unmarshal(payload.Body, &cb); err != nil {
		return types.Failed(fmt.Sprintf("unreadable sandbox webhook: %v", err)), nil
	}
	if cb.TransactionID == "" {
		return types.Failed("sandbox webhook has no transaction_id"), nil
	}

	status := types.StatusProcessing
	switch strings.ToUpper(cb.Status) {
	case StatusSuccess:
		status = types.StatusCompleted
	case StatusFailed:
		status = types.StatusFailed
	}

	return &types.GatewayResponse{
		Success:       true,
		TransactionID: cb.TransactionID,
		PaymentID:     cb.PaymentID,
		Status:        status,
		Error:         cb.FailureReason,
		Raw: map[string]interface{}{
			"transaction_id": cb.TransactionID,
			"status":         cb.Status,
			"failure_reason": cb.FailureReason,
		},
	}, nil
}

func (g *Gateway) deliverCallback(job callbackJob) {
	if g.callbackDelay > 0 {
		select {
		case <-time.After(g.callbackDelay):
		case <-g.ctx.Done():
			g.logger.Info("sandbox: callback cancelled", "transaction_id", job.TransactionID)
			return
		}
	}

	body, err := json.Marshal(callbackPayload{
		TransactionID: job.TransactionID,
		PaymentID:     job.PaymentID,
		Status:        job.Status,
		FailureReason: job.FailureReason,
	})
	if err != nil {
		g.logger.Error("sandbox: failed to marshal callback", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(g.ctx, http.MethodPost, g.webhookURL, bytes.NewReader(body))
	if err != nil {
		g.logger.Error("sandbox: failed to create callback request", "error", err, "transaction_id", job.TransactionID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, g.webhookToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("sandbox: callback failed", "error", err, "transaction_id", job.TransactionID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		g.logger.Warn("sandbox: callback rejected", "transaction_id", job.TransactionID, "status_code", resp.StatusCode)
		return
	}
	g.logger.Info("sandbox: callback delivered", "transaction_id", job.TransactionID, "status", job.Status)
}

// Close stops the worker pool. Callbacks still queued are dropped.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.logger.Info("shutting down sandbox gateway")
		g.cancel()
		g.wg.Wait()
	})
	return nil
}
