package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payment_gateway"

// Metrics holds the service collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	webhooks        *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	circuitOpen     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_attempts_total",
			Help:      "Charge attempts per gateway by outcome.",
		}, []string{"gateway", "outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of gateway operations including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"gateway", "operation"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Inbound provider notifications by result.",
		}, []string{"gateway", "result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund requests per gateway by outcome.",
		}, []string{"gateway", "outcome"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_circuit_open",
			Help:      "1 while the gateway circuit breaker rejects requests.",
		}, []string{"gateway"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attempts,
		m.gatewayDuration,
		m.webhooks,
		m.refunds,
		m.circuitOpen,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAttempt(gateway, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(gateway, outcome).Inc()
	m.gatewayDuration.WithLabelValues(gateway, "charge").Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRefund(gateway, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(gateway, outcome).Inc()
	m.gatewayDuration.WithLabelValues(gateway, "refund").Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveWebhook(gateway, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) SetCircuitOpen(gateway string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.circuitOpen.WithLabelValues(gateway).Set(value)
}

// AttemptCount and friends expose counters for tests.
func (m *Metrics) AttemptCount(gateway, outcome string) prometheus.Counter {
	return m.attempts.WithLabelValues(gateway, outcome)
}

func (m *Metrics) WebhookCount(gateway, result string) prometheus.Counter {
	return m.webhooks.WithLabelValues(gateway, result)
}

func (m *Metrics) RefundCount(gateway, outcome string) prometheus.Counter {
	return m.refunds.WithLabelValues(gateway, outcome)
}
