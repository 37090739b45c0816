package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus registry for the execution core. All record
// methods are nil-safe so components can run without metrics wired (tests,
// simulation).
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	breakerBlocked  prometheus.Counter
	slicesFired     *prometheus.CounterVec
	reconcileRuns   *prometheus.CounterVec
	orphansDetected prometheus.Counter
	staleCancelled  prometheus.Counter
	webhookRejected prometheus.Counter
}

// New creates a metrics registry and registers the execution-core metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	ordersSubmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_submitted_total",
		Help: "Order submissions by typed outcome.",
	}, []string{"outcome"})

	breakerBlocked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_blocked_total",
		Help: "Submissions rejected because the circuit breaker was tripped.",
	})

	slicesFired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twap_slices_fired_total",
		Help: "TWAP slices fired by result.",
	}, []string{"result"})

	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_runs_total",
		Help: "Reconciliation passes by result.",
	}, []string{"result"})

	orphansDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_orphans_detected_total",
		Help: "Broker orders recorded as orphans.",
	})

	staleCancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_stale_cancelled_total",
		Help: "Stale local orders cancelled by reconciliation.",
	})

	webhookRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_rejected_total",
		Help: "Webhook deliveries dropped for a bad signature.",
	})

	registry.MustRegister(
		ordersSubmitted, breakerBlocked, slicesFired,
		reconcileRuns, orphansDetected, staleCancelled, webhookRejected,
	)

	return &Metrics{
		registry:        registry,
		ordersSubmitted: ordersSubmitted,
		breakerBlocked:  breakerBlocked,
		slicesFired:     slicesFired,
		reconcileRuns:   reconcileRuns,
		orphansDetected: orphansDetected,
		staleCancelled:  staleCancelled,
		webhookRejected: webhookRejected,
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BreakerBlocked() {
	if m == nil {
		return
	}
	m.breakerBlocked.Inc()
}

func (m *Metrics) SliceFired(result string) {
	if m == nil {
		return
	}
	m.slicesFired.WithLabelValues(result).Inc()
}

func (m *Metrics) ReconcileRun(result string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) OrphanDetected() {
	if m == nil {
		return
	}
	m.orphansDetected.Inc()
}

func (m *Metrics) StaleCancelled() {
	if m == nil {
		return
	}
	m.staleCancelled.Inc()
}

func (m *Metrics) WebhookRejected() {
	if m == nil {
		return
	}
	m.webhookRejected.Inc()
}
