package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/deliberate/internal/ballot"
	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/logbook"
	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/store"
	"github.com/kingrea/deliberate/internal/structured"
	"github.com/kingrea/deliberate/internal/voting"
)

type stubParticipant struct {
	name    string
	content func(model.TopicBrief) any
	label   func(model.Submission) any
	compare func([]model.Submission) any
	delay   time.Duration

	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func (s *stubParticipant) Describe() model.Descriptor {
	return model.Descriptor{ID: s.name, Name: s.name, Type: "stub"}
}

func (s *stubParticipant) CreateSubmission(ctx context.Context, brief model.TopicBrief) (*model.Submission, error) {
	if s.inFlight != nil {
		n := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			old := s.peak.Load()
			if n <= old || s.peak.CompareAndSwap(old, n) {
				break
			}
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.content == nil {
		return nil, errors.New("nothing to say")
	}
	sub := model.NewSubmission(brief.ID, s.name, s.content(brief))
	return &sub, nil
}

func (s *stubParticipant) LabelVote(_ context.Context, sub model.Submission, _ model.VoteRequest) (any, error) {
	if s.label == nil {
		return nil, errors.New("abstain")
	}
	return map[string]any{"vote": s.label(sub)}, nil
}

func (s *stubParticipant) CompareVote(_ context.Context, subs []model.Submission, _ model.VoteRequest) (any, error) {
	if s.compare == nil {
		return nil, errors.New("abstain")
	}
	return map[string]any{"vote": s.compare(subs)}, nil
}

func says(text string) func(model.TopicBrief) any {
	return func(model.TopicBrief) any { return text }
}

func TestSessionRunsLabelRoundAndPersists(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	journal, err := logbook.New(dir + "/journal.log")
	require.NoError(t, err)
	m := metrics.New()
	router := eventbridge.NewRouter()

	s := New("Colours", "Pick one", WithStore(fs), WithMetrics(m), WithJournal(journal), WithEmitter(eventbridge.NewEmitter(router)))
	sub := router.Subscribe(s.ID)
	defer sub.Close()

	topic, err := NewTopic(TopicSpec{Title: "Best colour", Method: voting.NewYesNoLabel(nil)})
	require.NoError(t, err)
	s.AddTopic(topic)

	yesToBlue := func(sub model.Submission) any {
		if sub.Content == "blue" {
			return "yes"
		}
		return "no"
	}
	s.AddParticipant(&stubParticipant{name: "ann", content: says("blue"), label: yesToBlue})
	s.AddParticipant(&stubParticipant{name: "bob", content: says("red"), label: yesToBlue})
	s.AddParticipant(&stubParticipant{name: "cy", label: func(model.Submission) any { return "yes" }})

	snap, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, s.Complete())
	require.Equal(t, s.ID, snap.Session.ID)
	require.Len(t, snap.Participants, 3)
	require.Len(t, snap.Topics, 1)

	ts := snap.Topics[0]
	require.Equal(t, "YesNoLabel", ts.VotingMethod)
	require.Len(t, ts.Submissions, 2)
	agg := ts.VotingResults.Aggregate()
	require.Len(t, agg, 2)
	for _, s := range ts.Submissions {
		got, ok := agg.Lookup(s.ID)
		require.True(t, ok)
		if s.Content == "blue" {
			require.Equal(t, voting.LabelCounts{"yes": 3, "no": 0}, got)
		} else {
			require.Equal(t, voting.LabelCounts{"yes": 1, "no": 2}, got)
		}
	}
	require.Equal(t, ballot.PhaseClosed, topic.Manager().Phase())

	rec, err := fs.Load(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Location(), rec.Location)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body, &decoded))
	require.Contains(t, decoded, "session")
	require.Contains(t, decoded, "topics")
	require.Contains(t, decoded, "participants")

	lines, _ := journal.Tail(50)
	require.NotEmpty(t, lines)

	var kinds []string
	for done := false; !done; {
		select {
		case evt := <-sub.Events:
			kinds = append(kinds, evt.Type)
		default:
			done = true
		}
	}
	require.Equal(t, eventbridge.TypeSessionStart, kinds[0])
	require.Equal(t, eventbridge.TypeSessionEnd, kinds[len(kinds)-1])
	require.Contains(t, kinds, eventbridge.TypeSubmissionRejected)
	require.Contains(t, kinds, eventbridge.TypeVotesCollected)

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrComplete)
}

func TestSessionRunsRankingRound(t *testing.T) {
	s := New("Ranking", "")
	topic, err := NewTopic(TopicSpec{Title: "Order", Method: voting.NewRankingCompare(nil)})
	require.NoError(t, err)
	s.AddTopic(topic)

	// Everyone ranks in content order a < b < c regardless of index.
	byContent := func(subs []model.Submission) any {
		order := []string{"a", "b", "c"}
		out := make([]int, 0, len(subs))
		for _, want := range order {
			for i, sub := range subs {
				if sub.Content == want {
					out = append(out, i+1)
				}
			}
		}
		return out
	}
	for _, name := range []string{"c", "a", "b"} {
		s.AddParticipant(&stubParticipant{name: name, content: says(name), compare: byContent})
	}

	snap, err := s.Run(context.Background())
	require.NoError(t, err)
	ts := snap.Topics[0]
	agg := ts.VotingResults.Aggregate()
	require.Len(t, agg, 3)

	content := map[string]any{}
	for _, sub := range ts.Submissions {
		content[sub.ID] = sub.Content
	}
	var order []any
	for _, e := range agg {
		order = append(order, content[e.SubmissionID])
	}
	require.Equal(t, []any{"a", "b", "c"}, order)
	first := agg[0].Result.(*float64)
	require.Equal(t, 0.0, *first)
}

func TestSessionBoundsConcurrentSubmissions(t *testing.T) {
	var inFlight, peak atomic.Int32
	s := New("Bounded", "", WithMaxConcurrent(2), WithSubmissionsPerTopic(2))
	for _, title := range []string{"one", "two"} {
		topic, err := NewTopic(TopicSpec{Title: title, Method: voting.NewYesNoLabel(nil)})
		require.NoError(t, err)
		s.AddTopic(topic)
	}
	for _, name := range []string{"a", "b", "c"} {
		s.AddParticipant(&stubParticipant{
			name: name, content: says(name), delay: 5 * time.Millisecond,
			inFlight: &inFlight, peak: &peak,
		})
	}
	snap, err := s.Run(context.Background())
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(2))
	for _, ts := range snap.Topics {
		require.Len(t, ts.Submissions, 6)
	}
}

func TestSessionWithoutTopicsIsNoop(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	s := New("Empty", "", WithStore(fs))
	s.AddParticipant(&stubParticipant{name: "a"})
	snap, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, s.Complete())
	require.Empty(t, snap.Topics)
	records, err := fs.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSessionStopsOnCancellation(t *testing.T) {
	s := New("Cancelled", "", WithMaxConcurrent(1))
	topic, err := NewTopic(TopicSpec{Title: "slow", Method: voting.NewYesNoLabel(nil)})
	require.NoError(t, err)
	s.AddTopic(topic)
	s.AddParticipant(&stubParticipant{name: "a", content: says("x"), delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, s.Complete())
}

func TestTopicValidatesSubmissions(t *testing.T) {
	method, err := voting.NewEnumLabel([]string{"good", "bad"}, nil)
	require.NoError(t, err)
	topic, err := NewTopic(TopicSpec{
		Title: "Chess",
		ContentSchema: schema.Document{
			"type":       "object",
			"properties": map[string]any{"move": map[string]any{"type": "string"}},
			"required":   []any{"move"},
		},
		Method: method,
		Checks: []structured.Check{EnumFieldCheck(config.EnumFieldRule{Field: "move", Values: []string{"e4", "d4"}})},
	})
	require.NoError(t, err)

	var verr *schema.ValidationError
	err = topic.AddSubmission(model.NewSubmission("", "p", "e4"))
	require.True(t, errors.As(err, &verr))

	err = topic.AddSubmission(model.NewSubmission("", "p", map[string]any{"move": "h4"}))
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), `"move" must be one of: e4, d4`)

	require.NoError(t, topic.AddSubmission(model.NewSubmission("", "p", map[string]any{"move": "e4"})))
	subs := topic.Submissions()
	require.Len(t, subs, 1)
	require.Equal(t, topic.ID, subs[0].TopicID)
	require.Equal(t, []string{subs[0].ID}, topic.Manager().Eligible())

	brief := topic.Brief()
	require.Len(t, brief.Checks, 1)
	require.False(t, brief.Checks[0].Pass(map[string]any{"submission": map[string]any{"move": "a3"}}))

	require.NoError(t, topic.Manager().CollectVotes(context.Background(), nil))
	err = topic.AddSubmission(model.NewSubmission("", "p", map[string]any{"move": "d4"}))
	require.ErrorIs(t, err, ballot.ErrVotingStarted)
}

func TestTopicIgnoresChecksWithoutPredicate(t *testing.T) {
	topic, err := NewTopic(TopicSpec{
		Title:  "t",
		Method: voting.NewYesNoLabel(nil),
		Checks: []structured.Check{{Message: "never runs"}},
	})
	require.NoError(t, err)
	require.Empty(t, topic.Brief().Checks)
	require.NoError(t, topic.AddSubmission(model.NewSubmission("", "p", "x")))
	require.Len(t, topic.Submissions(), 1)
}

func TestNewTopicRejectsBadSchema(t *testing.T) {
	_, err := NewTopic(TopicSpec{Title: "bad", ContentSchema: schema.Document{"type": 12}, Method: voting.NewYesNoLabel(nil)})
	var serr *schema.SchemaError
	require.True(t, errors.As(err, &serr))

	_, err = NewTopic(TopicSpec{Title: "no method"})
	require.Error(t, err)
}

func TestProcessRunsSessionsInOrder(t *testing.T) {
	proc := NewProcess("Process", "")
	snap, err := proc.RunNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, snap)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second"} {
		s := New(name, "")
		topic, err := NewTopic(TopicSpec{Title: name, Method: voting.NewYesNoLabel(nil)})
		require.NoError(t, err)
		s.AddTopic(topic)
		s.AddParticipant(&stubParticipant{name: "p", content: func(model.TopicBrief) any {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return name
		}})
		proc.AddSession(s)
	}
	snaps, err := proc.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, []string{"first", "second"}, order)
	require.Len(t, proc.Completed(), 2)
	require.Empty(t, proc.Pending())
}

func TestValidatorRegistry(t *testing.T) {
	r := NewValidatorRegistry()
	require.Equal(t, []string{"non_empty"}, r.Names())
	checks, err := r.Resolve([]string{"non_empty"})
	require.NoError(t, err)
	require.False(t, checks[0].Pass("  "))
	require.True(t, checks[0].Pass("x"))

	_, err = r.Resolve([]string{"missing"})
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Error(t, r.Register("non_empty", checks[0]))
}

func TestBuilderFromProcessFile(t *testing.T) {
	data, err := os.ReadFile("testdata/process.yaml")
	require.NoError(t, err)
	pc, err := config.ParseProcess(data)
	require.NoError(t, err)

	b := Builder{Methods: voting.Builtins(nil), DryRun: true}
	proc, err := b.Process(pc)
	require.NoError(t, err)
	sessions := proc.Pending()
	require.Len(t, sessions, 1)
	s := sessions[0]
	require.Len(t, s.Topics(), 2)
	require.Len(t, s.Participants(), 3)
	require.Equal(t, "EnumLabel", s.Topics()[0].Method().Name())
	require.Equal(t, "RankingCompare", s.Topics()[1].Method().Name())

	snaps, err := proc.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	for _, ts := range snaps[0].Topics {
		require.NotEmpty(t, ts.Submissions)
	}
}

func TestBuilderRejectsUnknownMethod(t *testing.T) {
	b := Builder{Methods: voting.Builtins(nil)}
	_, err := b.Topic(config.TopicConfig{Title: "x", VotingMethod: &config.MethodConfig{Type: "Borda"}})
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	_, err = b.Topic(config.TopicConfig{Title: "x", Validators: []string{"nope"}})
	require.True(t, errors.As(err, &cfgErr))
}

type flakyStore struct {
	store.Store
	failures int
	saves    int
}

func (f *flakyStore) Save(ctx context.Context, rec store.Record) (store.Record, error) {
	if f.failures > 0 {
		f.failures--
		return store.Record{}, errors.New("disk full")
	}
	f.saves++
	return f.Store.Save(ctx, rec)
}

func TestProcessRetriesOnlyTheSaveAfterPersistFailure(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyStore{Store: fs, failures: 1}

	s := New("Retry", "", WithStore(flaky))
	topic, err := NewTopic(TopicSpec{Title: "t", Method: voting.NewYesNoLabel(nil)})
	require.NoError(t, err)
	s.AddTopic(topic)
	var asked atomic.Int32
	s.AddParticipant(&stubParticipant{name: "p", content: func(model.TopicBrief) any {
		asked.Add(1)
		return "x"
	}, label: func(model.Submission) any { return "yes" }})

	proc := NewProcess("Process", "")
	proc.AddSession(s)

	_, err = proc.RunNext(context.Background())
	require.ErrorContains(t, err, "disk full")
	require.NotErrorIs(t, err, ErrFailed)
	require.Equal(t, []*Session{s}, proc.Pending())

	snap, err := proc.RunNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.True(t, s.Complete())
	require.Equal(t, int32(1), asked.Load())
	require.Len(t, topic.Submissions(), 1)
	require.Equal(t, 1, flaky.saves)
	require.NotEmpty(t, s.Location())
	require.Empty(t, proc.Pending())
	require.Equal(t, []*Session{s}, proc.Completed())
}

func TestProcessDequeuesSessionThatFailedBeforeResults(t *testing.T) {
	s := New("Doomed", "")
	topic, err := NewTopic(TopicSpec{Title: "t", Method: voting.NewYesNoLabel(nil)})
	require.NoError(t, err)
	s.AddTopic(topic)
	s.AddParticipant(&stubParticipant{name: "p", content: says("x")})

	next := New("Next", "")
	proc := NewProcess("Process", "")
	proc.AddSession(s)
	proc.AddSession(next)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = proc.RunNext(ctx)
	require.ErrorIs(t, err, ErrFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []*Session{s}, proc.Failed())
	require.Equal(t, []*Session{next}, proc.Pending())

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrFailed)
	require.ErrorIs(t, s.Failed(), ErrFailed)
	require.Empty(t, topic.Submissions())
}
