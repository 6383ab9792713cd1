package voting

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/schema"
)

// ErrInvalidConfig reports method parameters that cannot produce a valid
// vote schema.
var ErrInvalidConfig = errors.New("voting: invalid method configuration")

// Method is a voting rule. Concrete methods implement exactly one of
// LabelMethod or CompareMethod.
type Method interface {
	Name() string
	IsLabel() bool
	String() string
}

// LabelMethod judges each submission on its own.
type LabelMethod interface {
	Method
	VoteSchema() (schema.Document, error)
	VotePrompt(submission model.Submission) (string, error)
	// Reduce aggregates votes keyed by submission id. Only eligible ids
	// appear in the result, in eligible order.
	Reduce(votes map[string][]Ballot, eligible []string) Aggregate
}

// CompareMethod judges all submissions of a topic in one ballot.
type CompareMethod interface {
	Method
	VoteSchema(count int) (schema.Document, error)
	// VotePrompt renders the ballot and fixes the index map used by the
	// next Reduce.
	VotePrompt(submissions []model.Submission) (string, error)
	Reduce(votes []Ballot, eligible []string) Aggregate
}

// Ballot is one accepted vote. Vote holds the inner payload in plain JSON
// form.
type Ballot struct {
	ParticipantID string    `json:"participant_id"`
	Vote          any       `json:"vote"`
	CreatedAt     time.Time `json:"created_at"`
}

// Entry is one submission's aggregated result.
type Entry struct {
	SubmissionID string `json:"id"`
	Result       any    `json:"result"`
}

// Aggregate is an ordered list of per-submission results.
type Aggregate []Entry

// Lookup returns the result for id.
func (a Aggregate) Lookup(id string) (any, bool) {
	for _, e := range a {
		if e.SubmissionID == id {
			return e.Result, true
		}
	}
	return nil, false
}

// IDs returns the submission ids in aggregate order.
func (a Aggregate) IDs() []string {
	ids := make([]string, len(a))
	for i, e := range a {
		ids[i] = e.SubmissionID
	}
	return ids
}

// LabelCounts is the per-value tally produced by enum and yes/no labels.
type LabelCounts map[string]int

// ScoreSummary is the result of a score label.
type ScoreSummary struct {
	AverageScore *float64 `json:"average_score"`
}

const precision = 1000

func round3(v float64) float64 {
	return math.Round(v*precision) / precision
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// sortAscending orders compare results by value, nil last, keeping the
// eligible order for ties.
func sortAscending(entries Aggregate) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, _ := entries[i].Result.(*float64)
		b, _ := entries[j].Result.(*float64)
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}
