package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/order"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/core/events"
	"github.com/frahmantamala/payment-gateway/internal/core/lock"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/circuitbreaker"
	"github.com/frahmantamala/payment-gateway/internal/telemetry"
)

// RepositoryAPI is the payment record store. Save must reject a stale Version with
// a CONCURRENT_UPDATE conflict error.
type RepositoryAPI interface {
	Create(ctx context.Context, p *payment.Payment) error
	Save(ctx context.Context, p *payment.Payment) error
	GetByID(ctx context.Context, id string) (*payment.Payment, error)
	GetByGatewayTransactionID(ctx context.Context, gatewayName, transactionID string) (*payment.Payment, error)
	GetByProviderReference(ctx context.Context, gatewayName, reference string) (*payment.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*payment.Payment, error)
}

type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id, status string, paidAt *time.Time) error
}

type GatewayResolver interface {
	ResolveActive() []paymentgateway.Gateway
	ResolveActiveByName(name string) (paymentgateway.Gateway, error)
	Resolve(name string) (paymentgateway.Gateway, error)
}

type ServiceAPI interface {
	ProcessPayment(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
	ProcessOrderPayment(ctx context.Context, orderID, gatewayName string) (*ProcessResult, error)
	RefundPayment(ctx context.Context, p *payment.Payment, amount decimal.Decimal, reason string) (*payment.Payment, error)
	RefundPaymentByID(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*payment.Payment, error)
	HandleWebhook(ctx context.Context, gatewayName string, payload *types.WebhookPayload) (*WebhookResult, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*payment.Payment, error)
	GetPaymentsByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error)
}

type Service struct {
	gateways GatewayResolver
	payments RepositoryAPI
	orders   OrderRepository
	logger   *slog.Logger

	bus     *events.EventBus
	locker  lock.Locker
	breaker *circuitbreaker.CircuitBreaker
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Service)

func WithEventBus(bus *events.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLocker replaces the in-process per-key lock, e.g. with a Redis lock shared by
// all replicas.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(gateways GatewayResolver, payments RepositoryAPI, orders OrderRepository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		gateways: gateways,
		payments: payments,
		orders:   orders,
		logger:   logger,
		locker:   lock.NewKeyedMutex(),
		tracer:   otel.Tracer("payment"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetPaymentStatus(ctx context.Context, paymentID string) (*payment.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.NewValidationFieldError("payment_id", "payment_id is required", errors.ErrCodeValidationFailed)
	}
	return s.payments.GetByID(ctx, paymentID)
}

// GetPaymentsByOrder lists every attempt made for an order, newest first.
func (s *Service) GetPaymentsByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.NewValidationFieldError("order_id", "order_id is required", errors.ErrCodeValidationFailed)
	}
	return s.payments.GetByOrderID(ctx, orderID)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func (s *Service) markOrderPaid(ctx context.Context, orderID string) {
	if s.orders == nil {
		return
	}
	paidAt := s.now()
	if err := s.orders.UpdateStatus(ctx, orderID, order.StatusPaid, &paidAt); err != nil {
		// the charge stands even if the order row could not be updated
		s.logger.Error("failed to mark order paid", "order_id", orderID, "error", err)
	}
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
