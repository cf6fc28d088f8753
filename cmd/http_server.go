package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway/api"
	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/auth"
	"github.com/frahmantamala/payment-gateway/internal/payment"
	"github.com/frahmantamala/payment-gateway/internal/telemetry"
	"github.com/frahmantamala/payment-gateway/internal/transport"
	"github.com/frahmantamala/payment-gateway/internal/transport/middleware"
	"github.com/frahmantamala/payment-gateway/internal/transport/rest"
	"github.com/frahmantamala/payment-gateway/internal/transport/swagger"
	"github.com/frahmantamala/payment-gateway/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle payment API requests and provider webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config        *internal.Config
	DB            *Databases
	Payments      *paymentStack
	Router        *chi.Mux
	Logger        *slog.Logger
	ShutdownTrace func(context.Context) error
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		deps.Logger.Error("Server shutdown error", "error", err)
	}
	deps.Payments.Close(ctx, deps.Logger)
	if deps.ShutdownTrace != nil {
		if err := deps.ShutdownTrace(ctx); err != nil {
			deps.Logger.Error("Tracer shutdown error", "error", err)
		}
	}
	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error("Database close error", "error", err)
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	cfg := deps.Config
	lg := deps.Logger

	authService := auth.NewService(
		auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.AccessTokenDuration),
		cfg.Security.APIKeyHashes,
		lg,
	)

	health := rest.NewHealthHandler().AddCheck("database", rest.PingCheck(deps.DB.SQL))
	for name, check := range deps.Payments.Checks {
		check := check
		health.AddCheck(name, func(ctx context.Context) (map[string]any, error) {
			return nil, check(ctx)
		})
	}
	health.AddCheck("gateways", gatewayHealth(deps.Payments))

	handlers := rest.Handlers{
		Health:   health,
		Auth:     auth.NewHandler(authService),
		RBAC:     auth.NewRBACAuthorization(authService, lg),
		Payment:  payment.NewHandler(deps.Payments.Service, lg),
		Webhook:  payment.NewWebhookHandler(transport.NewBaseHandler(lg), deps.Payments.Service, lg),
		OpenAPI:  api.OpenAPISpec,
		Settings: cfg.Server,
	}
	if cfg.Observability.Metrics.Enabled {
		handlers.Metrics = deps.Payments.Metrics.Handler()
	}
	if cfg.Server.RateLimitRPS > 0 {
		handlers.Limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, lg)
	}

	rest.RegisterAllRoutes(deps.Router, handlers, cfg.Observability.Metrics.Path, lg)
}

// gatewayHealth reports which gateways are usable. No active gateway means no
// payment can succeed, so it marks the service unhealthy.
func gatewayHealth(stack *paymentStack) rest.Check {
	return func(ctx context.Context) (map[string]any, error) {
		active := stack.Gateways.Configs().ListActiveByPriority()
		names := make([]string, 0, len(active))
		for _, cfg := range active {
			names = append(names, cfg.Name)
		}
		details := map[string]any{"active": names}

		if stack.Breaker != nil {
			circuits := map[string]string{}
			for gw, state := range stack.Breaker.Snapshot() {
				circuits[gw] = state.String()
			}
			details["circuits"] = circuits
		}

		if len(names) == 0 {
			return details, errors.New("no active payment gateway")
		}
		return details, nil
	}
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Configure(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.L()

	if _, err := swagger.LoadSpec(context.Background(), api.OpenAPISpec); err != nil {
		return nil, err
	}

	var shutdownTrace func(context.Context) error
	if config.Observability.Tracing.Enabled {
		shutdownTrace, err = telemetry.InitTracing(config.Observability.Tracing.ServiceName, config.Observability.Tracing.SamplingRate, os.Stdout)
		if err != nil {
			return nil, err
		}
	}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	stack, err := buildPaymentStack(context.Background(), config, db, lg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize payment stack: %w", err)
	}

	return &Dependencies{
		Config:        config,
		DB:            db,
		Payments:      stack,
		Router:        chi.NewRouter(),
		Logger:        lg,
		ShutdownTrace: shutdownTrace,
	}, nil
}
