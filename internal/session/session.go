package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/store"
)

var (
	// ErrRunning rejects a second Run while one is in progress.
	ErrRunning = errors.New("session: already running")
	// ErrComplete rejects running a session twice.
	ErrComplete = errors.New("session: already complete")
	// ErrFailed marks a session that cannot be rerun because it failed
	// before its results were built.
	ErrFailed = errors.New("session: failed")
)

// Session is an ordered set of topics and a roster of participants.
type Session struct {
	ID          string
	Name        string
	Description string

	opts   options
	logger *zap.Logger

	mu           sync.Mutex
	topics       []*Topic
	participants []model.Participant
	running      bool
	complete     bool
	failed       error
	snapshot     *Snapshot
	location     string
	// built holds results that were computed but not yet persisted.
	built *Snapshot
}

// New creates an empty session.
func New(name, description string, opts ...Option) *Session {
	o := newOptions(opts)
	id := uuid.NewString()
	return &Session{
		ID:          id,
		Name:        name,
		Description: description,
		opts:        o,
		logger:      o.logger.With(zap.String("session", id), zap.String("name", name)),
	}
}

func (s *Session) AddTopic(t *Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, t)
}

func (s *Session) AddParticipant(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, p)
}

func (s *Session) Topics() []*Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Topic(nil), s.topics...)
}

func (s *Session) Participants() []model.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Participant(nil), s.participants...)
}

// Complete reports whether Run has finished successfully.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Snapshot returns the results of the completed run, or nil.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Location is where the snapshot was persisted, if anywhere.
func (s *Session) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *Session) info() Info {
	return Info{ID: s.ID, Name: s.Name, Description: s.Description}
}

// Run gathers submissions, collects votes, then builds and persists the
// snapshot. Participant failures are logged and absorbed; only context
// cancellation, persistence failures and illegal reruns are returned.
//
// A failure before the snapshot is built is final and wraps ErrFailed. A
// persistence failure is not: the next Run retries only the save.
func (s *Session) Run(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	switch {
	case s.running:
		s.mu.Unlock()
		return nil, ErrRunning
	case s.complete:
		s.mu.Unlock()
		return nil, ErrComplete
	case s.failed != nil:
		err := s.failed
		s.mu.Unlock()
		return nil, err
	}
	s.running = true
	topics := append([]*Topic(nil), s.topics...)
	participants := append([]model.Participant(nil), s.participants...)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if len(topics) == 0 {
		s.logger.Info("no topics, nothing to run")
		snap := &Snapshot{Session: s.info(), Topics: []TopicSnapshot{}, Participants: describe(participants)}
		s.finish(snap, "")
		return snap, nil
	}

	ctx, span := s.opts.tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("session.name", s.Name),
		attribute.Int("session.topics", len(topics)),
		attribute.Int("session.participants", len(participants)),
	))
	defer span.End()

	s.logger.Info("session started", zap.Int("topics", len(topics)), zap.Int("participants", len(participants)))
	s.opts.journal.Section("Session %s (%s)", s.Name, s.ID)
	s.emit("", eventbridge.TypeSessionStart, s.Name, map[string]int{"topics": len(topics), "participants": len(participants)})

	snap, location, err := s.run(ctx, topics, participants)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("session failed", zap.Error(err))
		s.opts.journal.Error("session %s failed: %v", s.Name, err)
		s.emit("", eventbridge.TypeError, err.Error(), nil)
		return nil, err
	}
	for _, t := range topics {
		t.manager.Close()
	}
	s.finish(snap, location)
	s.logger.Info("session complete", zap.String("location", location))
	s.opts.journal.Info("session %s complete, results at %s", s.Name, location)
	s.emit("", eventbridge.TypeSessionEnd, location, nil)
	return snap, nil
}

func (s *Session) run(ctx context.Context, topics []*Topic, participants []model.Participant) (*Snapshot, string, error) {
	if s.pendingSnapshot() == nil {
		if err := s.gatherSubmissions(ctx, topics, participants); err != nil {
			return nil, "", s.fail(err)
		}
		if err := s.collectVotes(ctx, topics, participants); err != nil {
			return nil, "", s.fail(err)
		}
	} else {
		s.logger.Info("retrying results persistence")
		s.opts.journal.Info("retrying results persistence for %s", s.Name)
	}
	return s.results(ctx, topics, participants)
}

// fail records err as final. Submissions and votes cannot be gathered twice.
func (s *Session) fail(err error) error {
	err = fmt.Errorf("%w: %w", ErrFailed, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = err
	return err
}

// Failed reports the error that ended the session, if any.
func (s *Session) Failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

func (s *Session) pendingSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.built
}

func (s *Session) finish(snap *Snapshot, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.location = location
	s.complete = true
	s.built = nil
}

// phase wraps one stage of a run in a span, a timer and journal lines.
func (s *Session) phase(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := s.opts.tracer.Start(ctx, "session."+name)
	stop := s.opts.metrics.Phase(name)
	s.opts.journal.Info("%s started", name)
	s.emit("", eventbridge.TypePhaseStart, name, nil)
	return ctx, func(err error) {
		stop()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.opts.journal.Info("%s finished", name)
		s.emit("", eventbridge.TypePhaseEnd, name, nil)
	}
}

// gatherSubmissions runs one task per (topic, participant, slot) under the
// session's concurrency bound.
func (s *Session) gatherSubmissions(ctx context.Context, topics []*Topic, participants []model.Participant) (err error) {
	ctx, end := s.phase(ctx, "submissions")
	defer func() { end(err) }()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.maxConcurrent)
	for _, t := range topics {
		for _, p := range participants {
			for range s.opts.subsPerTopic {
				g.Go(func() error { return s.submit(gctx, t, p) })
			}
		}
	}
	return g.Wait()
}

func (s *Session) submit(ctx context.Context, t *Topic, p model.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	desc := p.Describe()
	logger := s.logger.With(zap.String("topic", t.ID), zap.String("participant", desc.ID))
	sub, err := p.CreateSubmission(ctx, t.Brief())
	if err != nil || sub == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Error("no submission", zap.Error(err))
		s.opts.metrics.Submission(metrics.Missing)
		s.opts.journal.Warn("%s made no submission to %q: %v", desc.Name, t.Title, err)
		s.emit(t.ID, eventbridge.TypeSubmissionRejected, desc.Name, nil)
		return nil
	}
	if err := t.AddSubmission(*sub); err != nil {
		logger.Warn("submission rejected", zap.String("submission", sub.ID), zap.Error(err))
		s.opts.metrics.Submission(metrics.Rejected)
		s.opts.journal.Warn("rejected submission from %s to %q: %v", desc.Name, t.Title, err)
		s.emit(t.ID, eventbridge.TypeSubmissionRejected, desc.Name, nil)
		return nil
	}
	s.opts.metrics.Submission(metrics.Accepted)
	s.emit(t.ID, eventbridge.TypeSubmission, desc.Name, map[string]string{"submission_id": sub.ID})
	return nil
}

// collectVotes runs every topic's ballot concurrently.
func (s *Session) collectVotes(ctx context.Context, topics []*Topic, participants []model.Participant) (err error) {
	ctx, end := s.phase(ctx, "votes")
	defer func() { end(err) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range topics {
		g.Go(func() error {
			if err := t.manager.CollectVotes(gctx, participants); err != nil {
				return fmt.Errorf("topic %q: %w", t.Title, err)
			}
			s.opts.journal.Info("votes collected for %q", t.Title)
			s.emit(t.ID, eventbridge.TypeVotesCollected, t.Title, map[string]int{"submissions": len(t.manager.Eligible())})
			return nil
		})
	}
	return g.Wait()
}

// results builds the snapshot, or reuses the one kept from a failed save,
// and persists it when a store is set.
func (s *Session) results(ctx context.Context, topics []*Topic, participants []model.Participant) (_ *Snapshot, _ string, err error) {
	ctx, end := s.phase(ctx, "results")
	defer func() { end(err) }()

	snap := s.pendingSnapshot()
	if snap == nil {
		snap = &Snapshot{
			Session:      s.info(),
			Topics:       make([]TopicSnapshot, 0, len(topics)),
			Participants: describe(participants),
		}
		for _, t := range topics {
			ts, err := snapshotTopic(t)
			if err != nil {
				return nil, "", s.fail(fmt.Errorf("topic %q: %w", t.Title, err))
			}
			snap.Topics = append(snap.Topics, ts)
		}
		s.mu.Lock()
		s.built = snap
		s.mu.Unlock()
	}
	if s.opts.store == nil {
		return snap, "", nil
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, "", s.fail(fmt.Errorf("session: encode results: %w", err))
	}
	rec, err := s.opts.store.Save(ctx, store.Record{
		SessionID: s.ID,
		Name:      s.Name,
		CreatedAt: s.opts.clock(),
		Body:      body,
	})
	if err != nil {
		return nil, "", fmt.Errorf("session: persist results: %w", err)
	}
	return snap, rec.Location, nil
}

func (s *Session) emit(topicID, kind, detail string, payload any) {
	s.opts.emitter.Emit(s.ID, topicID, kind, detail, payload)
}

func describe(participants []model.Participant) []model.Descriptor {
	out := make([]model.Descriptor, 0, len(participants))
	for _, p := range participants {
		out = append(out, p.Describe())
	}
	return out
}
