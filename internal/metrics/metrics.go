// Package metrics holds the prometheus collectors of the trust service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trust"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	signaturesInitiated *prometheus.CounterVec
	signaturesCompleted *prometheus.CounterVec
	providerDuration    *prometheus.HistogramVec
	codesIssued         *prometheus.CounterVec
	codesRedeemed       *prometheus.CounterVec
	auditFallback       prometheus.Counter
	codesExpired        prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		signaturesInitiated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_initiated_total",
			Help:      "Signature initiations by provider and resulting status",
		}, []string{"provider", "status"}),
		signaturesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_completed_total",
			Help:      "Signature completion attempts by provider and resulting status",
		}, []string{"provider", "status"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of provider adapter calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "op"}),
		codesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_issued_total",
			Help:      "Verification codes issued by type",
		}, []string{"type"}),
		codesRedeemed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_redeemed_total",
			Help:      "Verification code redemptions by type and outcome",
		}, []string{"type", "outcome"}),
		auditFallback: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_fallback_writes_total",
			Help:      "Audit entries written to the local fallback file",
		}),
		codesExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_expired_total",
			Help:      "Verification codes moved to expired by the sweeper",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SignatureInitiated(provider, status string) {
	if m == nil {
		return
	}
	m.signaturesInitiated.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) SignatureCompleted(provider, status string) {
	if m == nil {
		return
	}
	m.signaturesCompleted.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObserveProvider(provider, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(provider, op).Observe(d.Seconds())
}

func (m *Metrics) CodeIssued(codeType string) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(codeType).Inc()
}

func (m *Metrics) CodeRedeemed(codeType, outcome string) {
	if m == nil {
		return
	}
	m.codesRedeemed.WithLabelValues(codeType, outcome).Inc()
}

func (m *Metrics) AuditFallback() {
	if m == nil {
		return
	}
	m.auditFallback.Inc()
}

func (m *Metrics) CodesExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.codesExpired.Add(float64(n))
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
