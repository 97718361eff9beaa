package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's prometheus collectors. Each instance owns its
// registry so tests and CLI runs never collide on global registration.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec

	sweepsTotal     *prometheus.CounterVec
	groupsProcessed prometheus.Counter
	problemsCreated prometheus.Counter
	ticketsLinked   prometheus.Counter
	ticketsDetached prometheus.Counter
	classifierCalls *prometheus.CounterVec
}

// NewMetrics builds and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by route, method and status",
			},
			[]string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total HTTP error responses by domain error code",
			},
			[]string{"code"},
		),
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "problem_sweeps_total",
				Help: "Total detection sweeps by result",
			},
			[]string{"result"},
		),
		groupsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "problem_groups_processed_total",
			Help: "Fingerprint groups that reached the population threshold",
		}),
		problemsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "problems_created_total",
			Help: "Problems created by matching or detection",
		}),
		ticketsLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "problem_tickets_linked_total",
			Help: "Tickets linked to a problem",
		}),
		ticketsDetached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "problem_tickets_detached_total",
			Help: "Tickets detached from a problem they no longer resemble",
		}),
		classifierCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "problem_classifier_calls_total",
				Help: "Classifier calls by result",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.errorsTotal,
		m.sweepsTotal,
		m.groupsProcessed,
		m.problemsCreated,
		m.ticketsLinked,
		m.ticketsDetached,
		m.classifierCalls,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code).Inc()
}

// RecordSweep records a detection sweep outcome.
func (m *Metrics) RecordSweep(result string, groups, created int) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(result).Inc()
	m.groupsProcessed.Add(float64(groups))
	m.problemsCreated.Add(float64(created))
}

// RecordProblemCreated counts a problem created outside a sweep.
func (m *Metrics) RecordProblemCreated() {
	if m == nil {
		return
	}
	m.problemsCreated.Inc()
}

// RecordLinked counts newly linked tickets.
func (m *Metrics) RecordLinked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ticketsLinked.Add(float64(n))
}

// RecordDetached counts tickets detached by the self-correcting matcher.
func (m *Metrics) RecordDetached() {
	if m == nil {
		return
	}
	m.ticketsDetached.Inc()
}

// RecordClassifierCall records a classifier outcome ("ok", "unavailable", "error", "cache_hit").
func (m *Metrics) RecordClassifierCall(result string) {
	if m == nil {
		return
	}
	m.classifierCalls.WithLabelValues(result).Inc()
}
