package ballot

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/voting"
)

type stubParticipant struct {
	id      string
	label   func(model.Submission) any
	compare func([]model.Submission) any
	calls   atomic.Int32
}

func (s *stubParticipant) Describe() model.Descriptor { return model.Descriptor{ID: s.id, Name: s.id} }

func (s *stubParticipant) CreateSubmission(context.Context, model.TopicBrief) (*model.Submission, error) {
	return nil, errors.New("not used")
}

func (s *stubParticipant) LabelVote(_ context.Context, sub model.Submission, _ model.VoteRequest) (any, error) {
	s.calls.Add(1)
	if s.label == nil {
		return nil, errors.New("abstain")
	}
	return s.label(sub), nil
}

func (s *stubParticipant) CompareVote(_ context.Context, subs []model.Submission, _ model.VoteRequest) (any, error) {
	s.calls.Add(1)
	if s.compare == nil {
		return nil, errors.New("abstain")
	}
	return s.compare(subs), nil
}

func sub(id string) model.Submission {
	return model.Submission{ID: id, ParticipantID: "author", Content: id}
}

func TestLabelManagerLifecycle(t *testing.T) {
	mgr, err := New(voting.NewYesNoLabel(nil), WithTopic("t1"))
	require.NoError(t, err)
	require.Equal(t, PhaseCollecting, mgr.Phase())
	require.NoError(t, mgr.AddSubmission(sub("a")))
	require.NoError(t, mgr.AddSubmission(sub("b")))

	yes := &stubParticipant{id: "p1", label: func(model.Submission) any { return map[string]any{"vote": "yes"} }}
	no := &stubParticipant{id: "p2", label: func(s model.Submission) any {
		if s.ID == "a" {
			return map[string]any{"vote": "no"}
		}
		return map[string]any{"vote": "perhaps"}
	}}
	silent := &stubParticipant{id: "p3"}

	require.NoError(t, mgr.CollectVotes(context.Background(), []model.Participant{yes, no, silent}))
	require.Equal(t, PhaseVoting, mgr.Phase())
	require.ErrorIs(t, mgr.AddSubmission(sub("c")), ErrVotingStarted)
	require.ErrorIs(t, mgr.CollectVotes(context.Background(), nil), ErrAlreadyCollected)
	require.EqualValues(t, 2, silent.calls.Load())

	view, err := mgr.Results()
	require.NoError(t, err)
	require.Equal(t, PhaseProcessed, mgr.Phase())
	agg := view.Aggregate()
	require.Equal(t, []string{"a", "b"}, agg.IDs())
	a, _ := agg.Lookup("a")
	require.Equal(t, voting.LabelCounts{"yes": 1, "no": 1}, a)
	b, _ := agg.Lookup("b")
	require.Equal(t, voting.LabelCounts{"yes": 1, "no": 0}, b)
}

func TestCompareManagerRanksAllSubmissions(t *testing.T) {
	mgr, err := New(voting.NewRankingCompare(nil))
	require.NoError(t, err)
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, mgr.AddSubmission(sub(id)))
	}
	rank := func(order ...int) func([]model.Submission) any {
		return func([]model.Submission) any { return map[string]any{"vote": order} }
	}
	participants := []model.Participant{
		&stubParticipant{id: "p1", compare: rank(1, 2, 3)},
		&stubParticipant{id: "p2", compare: rank(2, 1, 3)},
		&stubParticipant{id: "p3", compare: rank(3, 2, 1)},
		&stubParticipant{id: "p4", compare: rank(1, 1, 1)},
	}
	require.NoError(t, mgr.CollectVotes(context.Background(), participants))

	view, err := mgr.Results()
	require.NoError(t, err)
	require.Equal(t, []string{"s2", "s1", "s3"}, view.Aggregate().IDs())
	require.Len(t, view.(voting.CompareView).VotingParticipants, 3)
}

func TestResultsAreIdempotent(t *testing.T) {
	mgr, err := New(voting.NewRankingCompare(nil))
	require.NoError(t, err)
	require.NoError(t, mgr.AddSubmission(sub("s1")))
	require.NoError(t, mgr.AddSubmission(sub("s2")))
	require.NoError(t, mgr.CollectVotes(context.Background(), []model.Participant{
		&stubParticipant{id: "p1", compare: func([]model.Submission) any { return map[string]any{"vote": []int{2, 1}} }},
	}))

	first, err := mgr.Results()
	require.NoError(t, err)
	second, err := mgr.Results()
	require.NoError(t, err)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	require.Equal(t, string(a), string(b))
}

func TestCompareManagerWithoutSubmissions(t *testing.T) {
	mgr, err := New(voting.NewRankingCompare(nil))
	require.NoError(t, err)
	p := &stubParticipant{id: "p1"}
	require.NoError(t, mgr.CollectVotes(context.Background(), []model.Participant{p}))
	require.Zero(t, p.calls.Load())
	view, err := mgr.Results()
	require.NoError(t, err)
	require.Empty(t, view.Aggregate())
}

func TestCollectVotesStopsOnCancel(t *testing.T) {
	mgr, err := New(voting.NewYesNoLabel(nil))
	require.NoError(t, err)
	require.NoError(t, mgr.AddSubmission(sub("a")))
	ctx, cancel := context.WithCancel(context.Background())
	p := &stubParticipant{id: "p1", label: func(model.Submission) any {
		cancel()
		return map[string]any{"vote": "yes"}
	}}
	require.ErrorIs(t, mgr.CollectVotes(ctx, []model.Participant{p}), context.Canceled)
}

func TestClosedManagerRejectsChanges(t *testing.T) {
	mgr, err := New(voting.NewYesNoLabel(nil))
	require.NoError(t, err)
	mgr.Close()
	require.ErrorIs(t, mgr.AddSubmission(sub("a")), ErrClosed)
	require.ErrorIs(t, mgr.CollectVotes(context.Background(), nil), ErrClosed)
}

func TestResultsWhileCollectingDoNotEndCollection(t *testing.T) {
	mgr, err := New(voting.NewYesNoLabel(nil))
	require.NoError(t, err)
	require.NoError(t, mgr.AddSubmission(sub("a")))

	early, err := mgr.Results()
	require.NoError(t, err)
	require.Len(t, early.Aggregate(), 1)
	require.Equal(t, PhaseCollecting, mgr.Phase())

	require.NoError(t, mgr.AddSubmission(sub("b")))
	yes := &stubParticipant{id: "p1", label: func(model.Submission) any { return map[string]any{"vote": "yes"} }}
	require.NoError(t, mgr.CollectVotes(context.Background(), []model.Participant{yes}))

	view, err := mgr.Results()
	require.NoError(t, err)
	require.Equal(t, PhaseProcessed, mgr.Phase())
	require.Len(t, view.Aggregate(), 2)
	counts, ok := view.Aggregate().Lookup("b")
	require.True(t, ok)
	require.Equal(t, voting.LabelCounts{"yes": 1, "no": 0}, counts)
}
