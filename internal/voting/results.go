package voting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/schema"
)

// ResultsOption customises a results container.
type ResultsOption func(*resultsConfig)

type resultsConfig struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock overrides the timestamp source for ballots.
func WithClock(now func() time.Time) ResultsOption {
	return func(c *resultsConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResultsLogger routes rejected-vote diagnostics to logger.
func WithResultsLogger(logger *zap.Logger) ResultsOption {
	return func(c *resultsConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newResultsConfig(opts []ResultsOption) resultsConfig {
	cfg := resultsConfig{now: func() time.Time { return time.Now().UTC() }, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// innerVote validates a wrapped response and returns its "vote" payload.
func innerVote(v *schema.Validator, response any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("voting: no vote schema")
	}
	plain, err := v.Normalize(response)
	if err != nil {
		return nil, err
	}
	obj, ok := plain.(map[string]any)
	if !ok {
		return nil, &schema.ValidationError{Err: fmt.Errorf("vote must be an object")}
	}
	return obj[schema.KindVote], nil
}

// View is the serialisable form of a results container.
type View interface {
	Aggregate() Aggregate
}

// AggregateView wraps an aggregate for output.
type AggregateView struct {
	Submissions Aggregate `json:"submissions"`
}

// LabelSubmission lists every ballot cast for one submission.
type LabelSubmission struct {
	ID                 string   `json:"id"`
	VotingParticipants []Ballot `json:"voting_participants"`
}

// LabelView is the serialised form of label results.
type LabelView struct {
	Submissions       []LabelSubmission `json:"submissions"`
	AggregatedResults *AggregateView    `json:"aggregated_results"`
}

func (v LabelView) Aggregate() Aggregate {
	if v.AggregatedResults == nil {
		return nil
	}
	return v.AggregatedResults.Submissions
}

// CompareView is the serialised form of compare results.
type CompareView struct {
	VotingParticipants []Ballot       `json:"voting_participants"`
	AggregatedResults  *AggregateView `json:"aggregated_results"`
}

func (v CompareView) Aggregate() Aggregate {
	if v.AggregatedResults == nil {
		return nil
	}
	return v.AggregatedResults.Submissions
}

// LabelResults stores per-submission label votes. A later vote from the
// same participant on the same submission replaces the earlier one.
type LabelResults struct {
	cfg resultsConfig

	mu        sync.Mutex
	order     []string
	votes     map[string][]Ballot
	aggregate Aggregate
	processed bool
}

func NewLabelResults(opts ...ResultsOption) *LabelResults {
	return &LabelResults{cfg: newResultsConfig(opts), votes: map[string][]Ballot{}}
}

// AddVote records participantID's wrapped responses keyed by submission
// id. Responses that fail v are logged and skipped; the returned error
// joins every rejection.
func (r *LabelResults) AddVote(participantID string, responses map[string]any, v *schema.Validator) error {
	var errs []error
	for subID, response := range responses {
		vote, err := innerVote(v, response)
		if err != nil {
			r.cfg.logger.Warn("label vote rejected",
				zap.String("participant", participantID),
				zap.String("submission", subID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("submission %s: %w", subID, err))
			continue
		}
		r.put(subID, Ballot{ParticipantID: participantID, Vote: vote, CreatedAt: r.cfg.now()})
	}
	return errors.Join(errs...)
}

func (r *LabelResults) put(subID string, b Ballot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ballots, seen := r.votes[subID]
	if !seen {
		r.order = append(r.order, subID)
	}
	for i := range ballots {
		if ballots[i].ParticipantID == b.ParticipantID {
			ballots[i] = b
			return
		}
	}
	r.votes[subID] = append(ballots, b)
}

// Process recomputes the aggregate from scratch.
func (r *LabelResults) Process(method LabelMethod, eligible []string) Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregate = method.Reduce(r.votes, eligible)
	r.processed = true
	return r.aggregate
}

// Count returns how many ballots are stored.
func (r *LabelResults) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ballots := range r.votes {
		n += len(ballots)
	}
	return n
}

// View snapshots the stored ballots and, once processed, the aggregate.
func (r *LabelResults) View() LabelView {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := LabelView{Submissions: make([]LabelSubmission, 0, len(r.order))}
	for _, id := range r.order {
		view.Submissions = append(view.Submissions, LabelSubmission{
			ID:                 id,
			VotingParticipants: append([]Ballot(nil), r.votes[id]...),
		})
	}
	if r.processed {
		view.AggregatedResults = &AggregateView{Submissions: append(Aggregate{}, r.aggregate...)}
	}
	return view
}

// CompareResults stores one ballot per participant covering every
// submission. A later ballot from the same participant replaces the
// earlier one.
type CompareResults struct {
	cfg resultsConfig

	mu        sync.Mutex
	ballots   []Ballot
	aggregate Aggregate
	processed bool
}

func NewCompareResults(opts ...ResultsOption) *CompareResults {
	return &CompareResults{cfg: newResultsConfig(opts)}
}

// AddVote records participantID's wrapped ballot if it satisfies v.
func (r *CompareResults) AddVote(participantID string, response any, v *schema.Validator) error {
	vote, err := innerVote(v, response)
	if err != nil {
		r.cfg.logger.Warn("compare vote rejected",
			zap.String("participant", participantID),
			zap.Error(err))
		return fmt.Errorf("participant %s: %w", participantID, err)
	}
	b := Ballot{ParticipantID: participantID, Vote: vote, CreatedAt: r.cfg.now()}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ballots {
		if r.ballots[i].ParticipantID == participantID {
			r.ballots[i] = b
			return nil
		}
	}
	r.ballots = append(r.ballots, b)
	return nil
}

// Process recomputes the aggregate from scratch.
func (r *CompareResults) Process(method CompareMethod, eligible []string) Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregate = method.Reduce(r.ballots, eligible)
	r.processed = true
	return r.aggregate
}

// Count returns how many ballots are stored.
func (r *CompareResults) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ballots)
}

// View snapshots the stored ballots and, once processed, the aggregate.
func (r *CompareResults) View() CompareView {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := CompareView{VotingParticipants: append([]Ballot{}, r.ballots...)}
	if r.processed {
		view.AggregatedResults = &AggregateView{Submissions: append(Aggregate{}, r.aggregate...)}
	}
	return view
}
