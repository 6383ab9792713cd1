// Package session schedules rounds: a Topic holds submissions and its
// ballot, a Session gathers submissions and votes for its topics and
// persists one snapshot, a Process runs sessions in order.
package session

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/logbook"
	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/store"
)

const (
	// DefaultMaxConcurrent bounds submission tasks per session.
	DefaultMaxConcurrent = 10
	// DefaultSubsPerTopic is how many submissions each participant makes
	// per topic.
	DefaultSubsPerTopic = 1

	tracerName = "github.com/kingrea/deliberate/internal/session"
)

type options struct {
	logger        *zap.Logger
	metrics       *metrics.Metrics
	store         store.Store
	emitter       *eventbridge.Emitter
	journal       *logbook.Logbook
	tracer        trace.Tracer
	clock         func() time.Time
	maxConcurrent int
	subsPerTopic  int
}

// Option customizes topics, sessions and processes.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:        zap.NewNop(),
		tracer:        otel.Tracer(tracerName),
		clock:         func() time.Time { return time.Now().UTC() },
		maxConcurrent: DefaultMaxConcurrent,
		subsPerTopic:  DefaultSubsPerTopic,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStore persists each session snapshot.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithEmitter publishes progress events.
func WithEmitter(e *eventbridge.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithJournal appends a human-readable account of each run.
func WithJournal(j *logbook.Logbook) Option {
	return func(o *options) { o.journal = j }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMaxConcurrent bounds concurrent submission tasks. Values below 1
// are ignored.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithSubmissionsPerTopic sets how many submissions each participant
// makes per topic. Values below 1 are ignored.
func WithSubmissionsPerTopic(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.subsPerTopic = n
		}
	}
}
