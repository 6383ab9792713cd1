package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/ballot"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/structured"
	"github.com/kingrea/deliberate/internal/voting"
)

// ErrRejected reports a submission that failed a semantic check.
var ErrRejected = errors.New("session: submission rejected")

// DefaultContentSchema applies to topics that declare no content schema.
func DefaultContentSchema() schema.Document {
	return schema.Document{"type": "string"}
}

// TopicSpec declares a topic.
type TopicSpec struct {
	Title       string
	Description string
	// ContentSchema constrains submission content. Nil means a string.
	ContentSchema schema.Document
	Method        voting.Method
	// Checks run against submission content after schema validation.
	Checks []structured.Check
}

// Topic owns the submissions made to it and the ballot that decides
// between them.
type Topic struct {
	ID          string
	Title       string
	Description string

	validator *schema.Validator
	checks    []structured.Check
	manager   ballot.Manager
	logger    *zap.Logger

	mu          sync.Mutex
	submissions []model.Submission
}

// NewTopic compiles the wrapped content schema and builds the ballot.
// A malformed schema is a *schema.SchemaError.
func NewTopic(spec TopicSpec, opts ...Option) (*Topic, error) {
	if spec.Method == nil {
		return nil, fmt.Errorf("session: topic %q has no voting method", spec.Title)
	}
	o := newOptions(opts)
	content := spec.ContentSchema
	if content == nil {
		content = DefaultContentSchema()
	}
	doc, err := schema.Wrap(schema.KindSubmission, content)
	if err != nil {
		return nil, fmt.Errorf("session: topic %q: %w", spec.Title, err)
	}
	validator, err := schema.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("session: topic %q: %w", spec.Title, err)
	}
	id := uuid.NewString()
	logger := o.logger.With(zap.String("topic", id), zap.String("title", spec.Title))
	manager, err := ballot.New(spec.Method,
		ballot.WithTopic(id),
		ballot.WithLogger(o.logger),
		ballot.WithMetrics(o.metrics),
		ballot.WithResultsOptions(voting.WithClock(o.clock)),
	)
	if err != nil {
		return nil, fmt.Errorf("session: topic %q: %w", spec.Title, err)
	}
	checks := make([]structured.Check, 0, len(spec.Checks))
	for _, c := range spec.Checks {
		if c.Pass == nil {
			continue
		}
		checks = append(checks, structured.Within(schema.KindSubmission, c))
	}
	return &Topic{
		ID:          id,
		Title:       spec.Title,
		Description: spec.Description,
		validator:   validator,
		checks:      checks,
		manager:     manager,
		logger:      logger,
	}, nil
}

// Brief is what participants are shown when asked to submit.
func (t *Topic) Brief() model.TopicBrief {
	return model.TopicBrief{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Schema:      t.validator,
		Checks:      t.checks,
	}
}

// Manager returns the topic's ballot.
func (t *Topic) Manager() ballot.Manager { return t.manager }

// Method returns the topic's voting method.
func (t *Topic) Method() voting.Method { return t.manager.Method() }

// AddSubmission revalidates sub against the topic's schema and checks,
// then records it and makes it eligible for voting.
func (t *Topic) AddSubmission(sub model.Submission) error {
	value, err := t.validator.Normalize(map[string]any{schema.KindSubmission: sub.Content})
	if err != nil {
		return err
	}
	for _, c := range t.checks {
		if !c.Pass(value) {
			return fmt.Errorf("%w: %s", ErrRejected, c.Message)
		}
	}
	sub.Content = value.(map[string]any)[schema.KindSubmission]
	sub.TopicID = t.ID

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.manager.AddSubmission(sub); err != nil {
		return err
	}
	t.submissions = append(t.submissions, sub)
	t.logger.Debug("submission added", zap.String("submission", sub.ID), zap.String("participant", sub.ParticipantID))
	return nil
}

// Submissions returns the accepted submissions in arrival order.
func (t *Topic) Submissions() []model.Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Submission(nil), t.submissions...)
}
