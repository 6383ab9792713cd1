package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "deliberate"

// Metrics holds the collectors for one process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	attempts    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	submissions *prometheus.CounterVec
	votes       *prometheus.CounterVec
	phases      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_attempts_total",
			Help:      "Structured response attempts by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_failures_total",
			Help:      "Structured exchanges that exhausted their attempts.",
		}, []string{"kind"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by outcome.",
		}, []string{"outcome"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Votes by outcome.",
		}, []string{"outcome"}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_seconds",
			Help:      "Duration of session phases.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"phase"}),
	}
	reg.MustRegister(
		m.attempts,
		m.failures,
		m.submissions,
		m.votes,
		m.phases,
		collectors.NewGoCollector(),
	)
	return m
}

// Outcome labels.
const (
	Accepted = "accepted"
	Rejected = "rejected"
	Missing  = "missing"
)

func (m *Metrics) Attempt(kind string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind).Inc()
}

func (m *Metrics) Exhausted(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Vote(outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcome).Inc()
}

// Phase returns a func that records the elapsed time for phase when called.
func (m *Metrics) Phase(phase string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.phases.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}
