package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/events"
	"github.com/frahmantamala/payment-gateway/internal/core/events/sns"
	"github.com/frahmantamala/payment-gateway/internal/core/lock"
	orderPostgres "github.com/frahmantamala/payment-gateway/internal/order/postgres"
	"github.com/frahmantamala/payment-gateway/internal/payment"
	paymentPostgres "github.com/frahmantamala/payment-gateway/internal/payment/postgres"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/circuitbreaker"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/paypal"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/sandbox"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/stripe"
	"github.com/frahmantamala/payment-gateway/internal/telemetry"
)

// Databases holds one connection pool seen through both access layers: sqlx for
// orders and gorm for payments.
type Databases struct {
	SQL  *sqlx.DB
	Gorm *gorm.DB
}

func (d *Databases) Close() error {
	return d.SQL.Close()
}

func initDB(cfg internal.DatabaseConfig) (*Databases, error) {
	driver := cfg.DriverName()

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	var dialector gorm.Dialector
	switch driver {
	case "sqlite3":
		dialector = sqlite.New(sqlite.Config{DriverName: driver, Conn: dbConn.DB})
	default:
		dialector = postgres.New(postgres.Config{DriverName: driver, Conn: dbConn.DB})
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return &Databases{SQL: dbConn, Gorm: gormDB}, nil
}

// buildGatewayManager registers every adapter the binary ships with against the
// configured providers.
func buildGatewayManager(cfg *internal.Config, logger *slog.Logger) *paymentgateway.Manager {
	registry := paymentgateway.NewConfigRegistry(paymentgateway.ConfigsFromSettings(cfg.Gateways)...)
	manager := paymentgateway.NewManager(registry, logger)

	manager.Register(stripe.Name, stripe.Factory())
	manager.Register(paypal.Name, paypal.Factory())
	manager.Register(sandbox.Name, sandbox.Factory(sandbox.Options{
		MaxWorkers:    2,
		JobQueueSize:  100,
		CallbackDelay: 2 * time.Second,
	}))

	return manager
}

type paymentStack struct {
	Service  *payment.Service
	Gateways *paymentgateway.Manager
	Bus      *events.EventBus
	Metrics  *telemetry.Metrics
	Breaker  *circuitbreaker.CircuitBreaker
	Redis    interface{ Close() error }
	Checks   map[string]func(ctx context.Context) error
}

func (s *paymentStack) Close(ctx context.Context, logger *slog.Logger) {
	if err := s.Bus.Wait(ctx); err != nil {
		logger.Warn("event handlers did not finish before shutdown", "error", err)
	}
	s.Gateways.Close()
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
}

func buildPaymentStack(ctx context.Context, cfg *internal.Config, dbs *Databases, logger *slog.Logger) (*paymentStack, error) {
	stack := &paymentStack{
		Gateways: buildGatewayManager(cfg, logger),
		Bus:      events.NewEventBus(logger),
		Metrics:  telemetry.NewMetrics(),
		Checks:   map[string]func(ctx context.Context) error{},
	}

	payment.NewEventHandler(logger).RegisterEventHandlers(stack.Bus)

	if cfg.Events.SNSTopicARN != "" {
		client, err := sns.NewClient(ctx, cfg.Events.AWSRegion, cfg.Events.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		sns.NewForwarder(client, cfg.Events.SNSTopicARN, logger).Register(stack.Bus)
	}

	opts := []payment.Option{
		payment.WithEventBus(stack.Bus),
		payment.WithMetrics(stack.Metrics),
	}

	if cfg.Gateways.CircuitBreaker.Enabled {
		stack.Breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold:  cfg.Gateways.CircuitBreaker.FailureThreshold,
			OpenTimeout:       cfg.Gateways.CircuitBreaker.OpenTimeout,
			HalfOpenSuccesses: cfg.Gateways.CircuitBreaker.HalfOpenSuccesses,
		})
		opts = append(opts, payment.WithCircuitBreaker(stack.Breaker))
	}

	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		stack.Redis = client
		stack.Checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		opts = append(opts, payment.WithLocker(lock.NewRedisLocker(client, cfg.Redis.LockTTL, logger)))
		logger.Info("distributed payment locks enabled", "ttl", cfg.Redis.LockTTL)
	}

	stack.Service = payment.NewService(
		stack.Gateways,
		paymentPostgres.NewPaymentRepository(dbs.Gorm),
		orderPostgres.NewOrderRepository(dbs.SQL),
		logger,
		opts...,
	)

	return stack, nil
}

func exitOnError(logger *slog.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}
}
