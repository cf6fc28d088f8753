package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/auth"
	"github.com/frahmantamala/payment-gateway/internal/payment"
	"github.com/frahmantamala/payment-gateway/internal/transport/middleware"
	"github.com/frahmantamala/payment-gateway/internal/transport/swagger"
)

// Handlers groups everything the router mounts. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health   *HealthHandler
	Auth     *auth.Handler
	RBAC     *auth.RBACAuthorization
	Payment  *payment.Handler
	Webhook  *payment.WebhookHandler
	Metrics  http.Handler
	OpenAPI  []byte
	Limiter  *middleware.RateLimiter
	Settings internal.ServerConfig
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, metricsPath string, logger *slog.Logger) {
	if h.Health == nil {
		h.Health = NewHealthHandler()
	}

	router.Use(middleware.CORS(h.Settings.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	if len(h.OpenAPI) > 0 {
		router.Get("/openapi.yml", swagger.SpecHandler(h.OpenAPI))
		router.Handle("/swagger/*", swagger.Handler())
	}

	if h.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, h.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.healthCheckHandler)
		r.Get("/ping", h.Health.pingHandler)

		// providers authenticate their own notifications
		if h.Webhook != nil {
			r.Post("/payments/webhooks/{gateway}", h.Webhook.HandleGatewayWebhook)
		}

		if h.RBAC == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(h.RBAC.Authenticate)
			if h.Limiter != nil {
				pr.Use(h.Limiter.Middleware)
			}

			if h.Payment != nil {
				pr.Group(func(mr chi.Router) {
					mr.Use(h.RBAC.RequireRoles(auth.RoleMerchant))
					mr.Post("/payments", h.Payment.CreatePayment)
					mr.Post("/payments/{paymentID}/refund", h.Payment.RefundPayment)
				})

				pr.Group(func(vr chi.Router) {
					vr.Use(h.RBAC.RequireRoles(auth.RoleMerchant, auth.RoleCustomer))
					vr.Get("/payments/{paymentID}", h.Payment.GetPayment)
					vr.Get("/payments/order/{orderID}", h.Payment.GetOrderPayments)
				})
			}

			if h.Auth != nil {
				pr.Group(func(ar chi.Router) {
					ar.Use(h.RBAC.RequireRoles(auth.RoleAdmin))
					ar.Post("/auth/token", h.Auth.IssueToken)
				})
			}
		})
	})
}
