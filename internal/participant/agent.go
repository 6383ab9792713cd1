// Package participant provides the participants that submit and vote in a
// session. Every participant is an Agent: a descriptor plus a Responder
// that produces raw replies, wrapped in the structured acquire loop.
package participant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/prompts"
	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/structured"
)

// Agent implements model.Participant on top of a Responder.
type Agent struct {
	desc        model.Descriptor
	responder   structured.Responder
	prompts     *prompts.Catalogue
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

// Option customizes an Agent.
type Option func(*Agent)

// WithPrompts overrides the embedded prompt catalogue.
func WithPrompts(cat *prompts.Catalogue) Option {
	return func(a *Agent) {
		if cat != nil {
			a.prompts = cat
		}
	}
}

// WithLogger routes diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records acquire attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithMaxAttempts bounds each structured exchange.
func WithMaxAttempts(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// NewAgent builds a participant. An empty descriptor id is filled with a
// fresh uuid.
func NewAgent(desc model.Descriptor, r structured.Responder, opts ...Option) *Agent {
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	a := &Agent{
		desc:        desc,
		responder:   r,
		prompts:     prompts.Default(),
		logger:      zap.NewNop(),
		maxAttempts: structured.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = a.logger.With(zap.String("participant", desc.Name))
	return a
}

func (a *Agent) Describe() model.Descriptor { return a.desc }

type submissionData struct {
	Role        string
	Title       string
	Description string
}

// CreateSubmission asks the responder for content matching the topic's
// schema and checks.
func (a *Agent) CreateSubmission(ctx context.Context, topic model.TopicBrief) (*model.Submission, error) {
	task, err := a.prompts.Render([]string{prompts.Participant}, "submission", submissionData{
		Role:        a.desc.RoleDescription,
		Title:       topic.Title,
		Description: topic.Description,
	})
	if err != nil {
		return nil, err
	}
	value, err := a.acquire(ctx, schema.KindSubmission, task, topic.Schema, topic.Checks)
	if err != nil {
		return nil, fmt.Errorf("participant %s: submission for %q: %w", a.desc.Name, topic.Title, err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("participant %s: submission is not an object", a.desc.Name)
	}
	sub := model.NewSubmission(topic.ID, a.desc.ID, obj[schema.KindSubmission])
	return &sub, nil
}

func (a *Agent) LabelVote(ctx context.Context, _ model.Submission, req model.VoteRequest) (any, error) {
	value, err := a.acquire(ctx, schema.KindVote, req.Prompt, req.Schema, nil)
	if err != nil {
		return nil, fmt.Errorf("participant %s: label vote: %w", a.desc.Name, err)
	}
	return value, nil
}

func (a *Agent) CompareVote(ctx context.Context, _ []model.Submission, req model.VoteRequest) (any, error) {
	value, err := a.acquire(ctx, schema.KindVote, req.Prompt, req.Schema, nil)
	if err != nil {
		return nil, fmt.Errorf("participant %s: compare vote: %w", a.desc.Name, err)
	}
	return value, nil
}

type schemaData struct {
	Schema string
}

func (a *Agent) acquire(ctx context.Context, kind, task string, v *schema.Validator, checks []structured.Check) (any, error) {
	if v == nil {
		return nil, errors.New("no schema")
	}
	instruction, err := a.prompts.Render([]string{prompts.Participant}, "respond_with_json", schemaData{
		Schema: schema.Pretty(v.Document()),
	})
	if err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(task) + "\n\n" + instruction
	return structured.Acquire(ctx, a.responder, structured.Request{
		Kind:        kind,
		Prompt:      prompt,
		Schema:      v,
		Checks:      checks,
		MaxAttempts: a.maxAttempts,
	}, structured.WithLogger(a.logger), structured.WithMetrics(a.metrics))
}
