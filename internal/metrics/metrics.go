package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for the Warden service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics.
	LoginAttemptsTotal   *prometheus.CounterVec
	LockoutsTotal        prometheus.Counter
	TokensIssuedTotal    *prometheus.CounterVec
	TokenRejectionsTotal *prometheus.CounterVec

	// Authorization metrics.
	RoleMutationsTotal   *prometheus.CounterVec
	PermissionCacheTotal *prometheus.CounterVec

	// Audit collector metrics.
	AuditFlushesTotal *prometheus.CounterVec
	AuditEventsTotal  prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		LoginAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_login_attempts_total",
			Help: "Total number of login attempts by path and outcome.",
		}, []string{"path", "outcome"}),

		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_lockouts_total",
			Help: "Total number of accounts locked after repeated failures.",
		}),

		TokensIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_tokens_issued_total",
			Help: "Total number of tokens issued by type.",
		}, []string{"type"}),

		TokenRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_token_rejections_total",
			Help: "Total number of rejected tokens by reason.",
		}, []string{"reason"}),

		RoleMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_role_mutations_total",
			Help: "Total number of role assignment mutations.",
		}, []string{"action"}),

		PermissionCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_permission_cache_total",
			Help: "Permission cache lookups by result.",
		}, []string{"result"}),

		AuditFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_flushes_total",
			Help: "Total number of audit collector flushes.",
		}, []string{"status"}),

		AuditEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_events_total",
			Help: "Total number of audit events written.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.LockoutsTotal,
		m.TokensIssuedTotal,
		m.TokenRejectionsTotal,
		m.RoleMutationsTotal,
		m.PermissionCacheTotal,
		m.AuditFlushesTotal,
		m.AuditEventsTotal,
		m.ServerStartTime,
	)

	// Set server start time.
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

// Exposition serves the registry in the Prometheus text format.
func (m *Metrics) Exposition() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(d.Seconds())
}

// RecordLogin counts a login attempt on path ("user" or "admin").
func (m *Metrics) RecordLogin(path, outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordLockout counts an account lock.
func (m *Metrics) RecordLockout() {
	m.LockoutsTotal.Inc()
}

// RecordTokenIssued counts an issued token of the given type.
func (m *Metrics) RecordTokenIssued(kind string) {
	m.TokensIssuedTotal.WithLabelValues(kind).Inc()
}

// RecordTokenRejected counts a rejected token.
func (m *Metrics) RecordTokenRejected(reason string) {
	m.TokenRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordRoleMutation counts a role assignment change.
func (m *Metrics) RecordRoleMutation(action string) {
	m.RoleMutationsTotal.WithLabelValues(action).Inc()
}

// RecordPermissionCache counts a permission cache lookup.
func (m *Metrics) RecordPermissionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheTotal.WithLabelValues(result).Inc()
}

// RecordAuditFlush counts an audit collector flush of events.
func (m *Metrics) RecordAuditFlush(events int, err error) {
	if err != nil {
		m.AuditFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	m.AuditFlushesTotal.WithLabelValues("ok").Inc()
	m.AuditEventsTotal.Add(float64(events))
}
