package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alecgard/taskmate/internal/team"
)

// Metrics holds all Prometheus metric collectors for the taskmate server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Team engine operations.
	TeamOpsTotal   *prometheus.CounterVec
	TeamOpDuration *prometheus.HistogramVec

	RateLimitRejectionsTotal prometheus.Counter
	AuthFailuresTotal        *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		TeamOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_team_operations_total",
			Help: "Total number of team engine operations by outcome.",
		}, []string{"op", "outcome"}),

		TeamOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmate_team_operation_duration_seconds",
			Help:    "Team engine operation duration in seconds, store time included.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"op"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmate_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"reason"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskmate_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TeamOpsTotal,
		m.TeamOpDuration,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterPoolCollector registers the team store pool collector.
func (m *Metrics) RegisterPoolCollector(stat PoolStatFunc) {
	m.registry.MustRegister(NewPoolCollector(stat))
}

// ObserveHTTP records a finished HTTP request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(elapsed.Seconds())
}

// ObserveOp implements team.Observer.
func (m *Metrics) ObserveOp(op string, err error, elapsed time.Duration) {
	m.TeamOpsTotal.WithLabelValues(op, Outcome(err)).Inc()
	m.TeamOpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncAuthFailure increments the auth failure counter for the given reason.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection() {
	m.RateLimitRejectionsTotal.Inc()
}

// Outcome maps an operation error to a low-cardinality label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch team.Kind(err) {
	case team.ErrValidation:
		return "validation"
	case team.ErrConflict:
		return "conflict"
	case team.ErrForbidden:
		return "forbidden"
	case team.ErrNotFound:
		return "not_found"
	case team.ErrInvariant:
		return "invariant"
	case team.ErrUnavailable:
		return "unavailable"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

var _ team.Observer = (*Metrics)(nil)
