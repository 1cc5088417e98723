package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ApplicationsSubmitted prometheus.Counter
	StatusTransitions     *prometheus.CounterVec
	TransitionConflicts   prometheus.Counter
	Notifications         *prometheus.CounterVec
	LookupFailures        prometheus.Counter
	LookupThrottled       prometheus.Counter
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ApplicationsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "civictrack_applications_submitted_total",
			Help: "Total number of submitted applications",
		}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civictrack_status_transitions_total",
			Help: "Total number of committed status transitions by target status",
		}, []string{"status"}),
		TransitionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "civictrack_status_transition_conflicts_total",
			Help: "Total number of transitions rejected by the optimistic concurrency check",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civictrack_notifications_total",
			Help: "Notification outcomes (sent, failed, dropped, published)",
		}, []string{"outcome"}),
		LookupFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "civictrack_applicant_lookup_failures_total",
			Help: "Total number of failed applicant lookups",
		}),
		LookupThrottled: f.NewCounter(prometheus.CounterOpts{
			Name: "civictrack_applicant_lookup_throttled_total",
			Help: "Total number of applicant lookups refused by the failure limiter",
		}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civictrack_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	m.ApplicationsSubmitted.Inc()
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.TransitionConflicts.Inc()
}

// IncNotification records one notification outcome.
func (m *Metrics) IncNotification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLookupFailure() {
	if m == nil {
		return
	}
	m.LookupFailures.Inc()
}

func (m *Metrics) IncLookupThrottled() {
	if m == nil {
		return
	}
	m.LookupThrottled.Inc()
}

// Middleware observes request latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
