package ballot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/voting"
)

// Phase is the lifecycle position of a manager.
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseVoting     Phase = "voting"
	PhaseProcessed  Phase = "processed"
	PhaseClosed     Phase = "closed"
)

var (
	// ErrVotingStarted rejects submissions once voting has begun.
	ErrVotingStarted = errors.New("ballot: voting already started")
	// ErrAlreadyCollected rejects a second vote collection.
	ErrAlreadyCollected = errors.New("ballot: votes already collected")
	// ErrClosed rejects any change after Close.
	ErrClosed = errors.New("ballot: manager closed")
)

// Manager runs the submission → voting → results lifecycle for one topic.
type Manager interface {
	Method() voting.Method
	Phase() Phase
	// AddSubmission queues s and marks it eligible. Only legal while
	// collecting.
	AddSubmission(s model.Submission) error
	// CollectVotes asks every participant to vote. Participants that fail
	// contribute nothing; only ctx cancellation aborts.
	CollectVotes(ctx context.Context, participants []model.Participant) error
	// Results processes the stored votes and returns the serialisable
	// results. Repeated calls yield the same view.
	Results() (voting.View, error)
	Eligible() []string
	Close()
}

// Option customises a manager.
type Option func(*settings)

type settings struct {
	topicID string
	logger  *zap.Logger
	metrics *metrics.Metrics
	results []voting.ResultsOption
}

// WithTopic labels log lines with the owning topic.
func WithTopic(id string) Option {
	return func(s *settings) { s.topicID = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithResultsOptions forwards options to the results container.
func WithResultsOptions(opts ...voting.ResultsOption) Option {
	return func(s *settings) { s.results = append(s.results, opts...) }
}

// New builds the manager matching the method's family.
func New(method voting.Method, opts ...Option) (Manager, error) {
	cfg := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(zap.String("topic", cfg.topicID), zap.String("method", method.Name()))
	cfg.results = append(cfg.results, voting.WithResultsLogger(cfg.logger))

	switch m := method.(type) {
	case voting.LabelMethod:
		return newLabelManager(m, cfg)
	case voting.CompareMethod:
		return newCompareManager(m, cfg), nil
	default:
		return nil, fmt.Errorf("ballot: unsupported method %s", method.Name())
	}
}

// state carries the bookkeeping shared by both managers.
type state struct {
	cfg settings

	mu       sync.Mutex
	phase    Phase
	pending  []model.Submission
	eligible []string
	seen     map[string]struct{}
	view     voting.View
}

func newState(cfg settings) state {
	return state{cfg: cfg, phase: PhaseCollecting, seen: map[string]struct{}{}}
}

func (s *state) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *state) AddSubmission(sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseCollecting:
	case PhaseClosed:
		return ErrClosed
	default:
		return ErrVotingStarted
	}
	if sub.ID == "" {
		return fmt.Errorf("ballot: submission id is required")
	}
	if _, dup := s.seen[sub.ID]; dup {
		return fmt.Errorf("ballot: submission %s already added", sub.ID)
	}
	s.seen[sub.ID] = struct{}{}
	s.pending = append(s.pending, sub)
	s.eligible = append(s.eligible, sub.ID)
	return nil
}

func (s *state) Eligible() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.eligible...)
}

func (s *state) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseClosed
}

func (s *state) beginVoting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseCollecting:
		s.phase = PhaseVoting
		return nil
	case PhaseClosed:
		return ErrClosed
	default:
		return ErrAlreadyCollected
	}
}

// drain empties the pending queue.
func (s *state) drain() []model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// cached returns the stored view once processed.
func (s *state) cached() (voting.View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != nil && (s.phase == PhaseProcessed || s.phase == PhaseClosed) {
		return s.view, true
	}
	return nil, false
}

// store caches view once voting has started. A view taken while still
// collecting is a preview and leaves the phase alone.
func (s *state) store(view voting.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseCollecting:
		return
	case PhaseVoting:
		s.phase = PhaseProcessed
	}
	s.view = view
}

// fanOut runs ask for every participant concurrently and returns the
// replies in participant order. Failed participants leave a nil slot.
func fanOut(ctx context.Context, participants []model.Participant, ask func(context.Context, model.Participant) (any, error), logger *zap.Logger, m *metrics.Metrics) ([]any, error) {
	replies := make([]any, len(participants))
	var g errgroup.Group
	for i, p := range participants {
		g.Go(func() error {
			reply, err := ask(ctx, p)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("participant did not vote",
						zap.String("participant", p.Describe().ID),
						zap.Error(err))
					m.Vote(metrics.Missing)
				}
				return nil
			}
			replies[i] = reply
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return replies, nil
}

type labelManager struct {
	state
	method    voting.LabelMethod
	validator *schema.Validator
	results   *voting.LabelResults
}

func newLabelManager(method voting.LabelMethod, cfg settings) (*labelManager, error) {
	doc, err := method.VoteSchema()
	if err != nil {
		return nil, fmt.Errorf("ballot: %s vote schema: %w", method.Name(), err)
	}
	validator, err := schema.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("ballot: %s vote schema: %w", method.Name(), err)
	}
	return &labelManager{
		state:     newState(cfg),
		method:    method,
		validator: validator,
		results:   voting.NewLabelResults(cfg.results...),
	}, nil
}

func (m *labelManager) Method() voting.Method { return m.method }

// CollectVotes polls every participant on one submission at a time.
func (m *labelManager) CollectVotes(ctx context.Context, participants []model.Participant) error {
	if err := m.beginVoting(); err != nil {
		return err
	}
	for _, sub := range m.drain() {
		prompt, err := m.method.VotePrompt(sub)
		if err != nil {
			m.cfg.logger.Error("vote prompt failed", zap.String("submission", sub.ID), zap.Error(err))
			continue
		}
		req := model.VoteRequest{Prompt: prompt, Schema: m.validator}
		replies, err := fanOut(ctx, participants, func(ctx context.Context, p model.Participant) (any, error) {
			return p.LabelVote(ctx, sub, req)
		}, m.cfg.logger, m.cfg.metrics)
		if err != nil {
			return err
		}
		for i, reply := range replies {
			if reply == nil {
				continue
			}
			pid := participants[i].Describe().ID
			if err := m.results.AddVote(pid, map[string]any{sub.ID: reply}, m.validator); err != nil {
				m.cfg.metrics.Vote(metrics.Rejected)
				continue
			}
			m.cfg.metrics.Vote(metrics.Accepted)
		}
	}
	return nil
}

func (m *labelManager) Results() (voting.View, error) {
	if view, ok := m.cached(); ok {
		return view, nil
	}
	if m.Phase() == PhaseCollecting {
		m.cfg.logger.Debug("results requested before voting")
	}
	m.results.Process(m.method, m.Eligible())
	view := m.results.View()
	m.store(view)
	return view, nil
}

type compareManager struct {
	state
	method  voting.CompareMethod
	results *voting.CompareResults
}

func newCompareManager(method voting.CompareMethod, cfg settings) *compareManager {
	return &compareManager{
		state:   newState(cfg),
		method:  method,
		results: voting.NewCompareResults(cfg.results...),
	}
}

func (m *compareManager) Method() voting.Method { return m.method }

// CollectVotes shows every participant the full set in one ballot.
func (m *compareManager) CollectVotes(ctx context.Context, participants []model.Participant) error {
	if err := m.beginVoting(); err != nil {
		return err
	}
	subs := m.drain()
	if len(subs) == 0 {
		m.cfg.logger.Info("no submissions to compare")
		return nil
	}
	prompt, err := m.method.VotePrompt(subs)
	if err != nil {
		m.cfg.logger.Error("vote prompt failed", zap.Error(err))
		return nil
	}
	doc, err := m.method.VoteSchema(len(subs))
	if err != nil {
		m.cfg.logger.Error("vote schema failed", zap.Error(err))
		return nil
	}
	validator, err := schema.Compile(doc)
	if err != nil {
		m.cfg.logger.Error("vote schema failed", zap.Error(err))
		return nil
	}
	req := model.VoteRequest{Prompt: prompt, Schema: validator}
	replies, err := fanOut(ctx, participants, func(ctx context.Context, p model.Participant) (any, error) {
		return p.CompareVote(ctx, subs, req)
	}, m.cfg.logger, m.cfg.metrics)
	if err != nil {
		return err
	}
	for i, reply := range replies {
		if reply == nil {
			continue
		}
		if err := m.results.AddVote(participants[i].Describe().ID, reply, validator); err != nil {
			m.cfg.metrics.Vote(metrics.Rejected)
			continue
		}
		m.cfg.metrics.Vote(metrics.Accepted)
	}
	return nil
}

func (m *compareManager) Results() (voting.View, error) {
	if view, ok := m.cached(); ok {
		return view, nil
	}
	m.results.Process(m.method, m.Eligible())
	view := m.results.View()
	m.store(view)
	return view, nil
}
