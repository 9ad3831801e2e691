package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Access policy metrics
	AccessChecks      *prometheus.CounterVec
	AccessRequests    *prometheus.CounterVec
	GrantTransitions  *prometheus.CounterVec
	PINChallenges     *prometheus.CounterVec
	AuditWriteFailure *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisLatency    *prometheus.HistogramVec

	// Maintenance
	AuditRowsPurged prometheus.Counter
}

// NewMetrics creates all application metrics and registers them with reg.
// A nil reg leaves the collectors unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AccessChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "access_checks_total",
			Help:      "Total number of view checks by outcome",
		}, []string{"result"}),
		AccessRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "access_requests_total",
			Help:      "Total number of access requests by outcome",
		}, []string{"result"}),
		GrantTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "access_grant_transitions_total",
			Help:      "Total number of grant status transitions",
		}, []string{"to"}),
		PINChallenges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pin_challenges_total",
			Help:      "Total number of PIN challenges by outcome",
		}, []string{"result"}),
		AuditWriteFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "audit_write_failures_total",
			Help:      "Audit rows or versions that could not be written",
		}, []string{"kind"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		RedisOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
		RedisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redis_operation_duration_seconds",
			Help:      "Duration of Redis operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),

		AuditRowsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "audit_rows_purged_total",
			Help:      "Audit rows removed by retention cleanup",
		}),
	}
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Metrics) ObserveAccessCheck(allowed bool) {
	if m == nil {
		return
	}
	m.AccessChecks.WithLabelValues(boolLabel(allowed, "allowed", "denied")).Inc()
}

func (m *Metrics) ObserveAccessRequest(result string) {
	if m == nil {
		return
	}
	m.AccessRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveGrantTransition(to string) {
	if m == nil {
		return
	}
	m.GrantTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObservePINChallenge(result string) {
	if m == nil {
		return
	}
	m.PINChallenges.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAuditFailure(kind string) {
	if m == nil {
		return
	}
	m.AuditWriteFailure.WithLabelValues(kind).Inc()
}

func boolLabel(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
