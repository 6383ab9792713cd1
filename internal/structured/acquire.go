package structured

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/schema"
)

// DefaultMaxAttempts bounds an exchange when the request leaves it unset.
const DefaultMaxAttempts = 3

// SchemaMessage is the corrective feedback sent after a reply that does
// not parse or does not match the schema.
const SchemaMessage = "Your previous response did not match the required JSON schema. Reply with a single JSON document that satisfies the schema exactly."

// ErrExhausted reports that no attempt produced an acceptable reply.
var ErrExhausted = errors.New("structured: attempts exhausted")

// Responder produces a reply to a prompt. Replies may be raw text or
// already-decoded values.
type Responder interface {
	Respond(ctx context.Context, prompt string, doc schema.Document) (any, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, prompt string, doc schema.Document) (any, error)

func (f ResponderFunc) Respond(ctx context.Context, prompt string, doc schema.Document) (any, error) {
	return f(ctx, prompt, doc)
}

// Check is a semantic rule applied after schema validation. Message is the
// corrective feedback prepended to the next request when Pass is false.
type Check struct {
	Message string
	Pass    func(value any) bool
}

// Within lifts a check over content into a check over the wrapped value
// {kind: content}. A check with no predicate is returned as is.
func Within(kind string, check Check) Check {
	if check.Pass == nil {
		return check
	}
	return Check{
		Message: check.Message,
		Pass: func(value any) bool {
			obj, ok := value.(map[string]any)
			if !ok {
				return false
			}
			return check.Pass(obj[kind])
		},
	}
}

// Request describes one structured exchange.
type Request struct {
	Kind        string
	Prompt      string
	Schema      *schema.Validator
	Checks      []Check
	MaxAttempts int
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option customises Acquire.
type Option func(*options)

// WithLogger routes attempt diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records attempts and exhaustion.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Acquire asks r for a reply until one passes the schema and every check,
// or MaxAttempts replies have been rejected. Each retry sends the failing
// rule's message followed by the original prompt.
func Acquire(ctx context.Context, r Responder, req Request, opts ...Option) (any, error) {
	cfg := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if r == nil {
		return nil, fmt.Errorf("structured: responder is required")
	}
	if req.Schema == nil {
		return nil, fmt.Errorf("structured: schema is required")
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := cfg.logger.With(zap.String("kind", req.Kind))

	prompt := req.Prompt
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg.metrics.Attempt(req.Kind)
		raw, err := r.Respond(ctx, prompt, req.Schema.Document())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("responder failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		value, message := evaluate(raw, req)
		if message == "" {
			if attempt > 1 {
				logger.Debug("accepted after retry", zap.Int("attempt", attempt))
			}
			return value, nil
		}
		logger.Debug("reply rejected", zap.Int("attempt", attempt), zap.String("feedback", message))
		prompt = message + "\n" + req.Prompt
	}
	cfg.metrics.Exhausted(req.Kind)
	logger.Error("no acceptable reply", zap.Int("attempts", maxAttempts))
	return nil, fmt.Errorf("%w after %d attempts", ErrExhausted, maxAttempts)
}

// evaluate returns the normalized value, or the corrective message of the
// first rule it fails.
func evaluate(raw any, req Request) (any, string) {
	decoded, err := Coerce(raw)
	if err != nil {
		return nil, SchemaMessage
	}
	value, err := req.Schema.Normalize(decoded)
	if err != nil {
		return nil, SchemaMessage
	}
	for _, check := range req.Checks {
		if check.Pass == nil {
			continue
		}
		if !check.Pass(value) {
			return nil, check.Message
		}
	}
	return value, ""
}
