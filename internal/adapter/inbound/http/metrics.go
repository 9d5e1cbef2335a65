package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
	"github.com/Sentinel-Gate/toolgate/internal/domain/gateway"
)

const namespace = "toolgate"

// Metrics holds all Prometheus metrics for toolgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	AuthAttempts     *prometheus.CounterVec
	PolicyDecisions  *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	AuditDropsTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of MCP requests processed",
			},
			[]string{"method", "code"}, // code=2xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		AuthAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Credential validation outcomes per strategy",
			},
			[]string{"method", "outcome"}, // outcome=success/no_match/error
		),
		PolicyDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Tool batch decisions",
			},
			[]string{"decision"}, // decision=allow/deny
		),
		UpstreamDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Duration of tool calls forwarded to upstream servers",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "status"},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
	}
}

// AuthObserver returns a validator observer feeding AuthAttempts.
func (m *Metrics) AuthObserver() auth.Observer {
	return func(method auth.Method, outcome string) {
		m.AuthAttempts.WithLabelValues(string(method), outcome).Inc()
	}
}

// RecordDecision counts one batch decision.
func (m *Metrics) RecordDecision(decision string) {
	m.PolicyDecisions.WithLabelValues(decision).Inc()
}

// RecordUpstream observes one forwarded tool call.
func (m *Metrics) RecordUpstream(server string, d time.Duration, isError bool) {
	status := "ok"
	if isError {
		status = "error"
	}
	m.UpstreamDuration.WithLabelValues(server, status).Observe(d.Seconds())
}

var _ gateway.Metrics = (*Metrics)(nil)
