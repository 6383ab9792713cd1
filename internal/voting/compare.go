package voting

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/prompts"
	"github.com/kingrea/deliberate/internal/schema"
)

// IndexMap maps the 1-based position shown in a ballot to a submission id.
type IndexMap map[int]string

// NewIndexMap numbers submissions in the given order starting at 1.
func NewIndexMap(subs []model.Submission) IndexMap {
	m := make(IndexMap, len(subs))
	for i, s := range subs {
		m[i+1] = s.ID
	}
	return m
}

type indexedSubmission struct {
	Index   int
	Content string
}

type comparePrompt struct {
	Submissions []indexedSubmission
	Values      string
}

type compareBase struct {
	name      string
	title     string
	catalogue *prompts.Catalogue

	mu    sync.Mutex
	index IndexMap
}

func (b *compareBase) Name() string   { return b.name }
func (b *compareBase) IsLabel() bool  { return false }
func (b *compareBase) String() string { return b.title }

// Index returns the map recorded by the last VotePrompt.
func (b *compareBase) Index() IndexMap {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(IndexMap, len(b.index))
	for k, v := range b.index {
		out[k] = v
	}
	return out
}

func (b *compareBase) render(subs []model.Submission, values string) (string, error) {
	b.mu.Lock()
	b.index = NewIndexMap(subs)
	b.mu.Unlock()

	cat := b.catalogue
	if cat == nil {
		cat = prompts.Default()
	}
	data := comparePrompt{Values: values}
	for i, s := range subs {
		data.Submissions = append(data.Submissions, indexedSubmission{Index: i + 1, Content: prompts.Content(s.Content)})
	}
	return cat.Render([]string{b.name, prompts.CompareMethod}, "vote", data)
}

// totals starts every eligible id at zero.
func totals(eligible []string) map[string]float64 {
	out := make(map[string]float64, len(eligible))
	for _, id := range eligible {
		out[id] = 0
	}
	return out
}

// averaged divides each total by voters and sorts ascending. With no
// voters every result is nil.
func averaged(sums map[string]float64, eligible []string, voters int) Aggregate {
	out := make(Aggregate, 0, len(eligible))
	for _, id := range eligible {
		var result *float64
		if voters > 0 {
			avg := round3(sums[id] / float64(voters))
			result = &avg
		}
		out = append(out, Entry{SubmissionID: id, Result: result})
	}
	sortAscending(out)
	return out
}

// RankingCompare averages the 0-based position each submission is given.
// Lower is better.
type RankingCompare struct {
	compareBase
}

func NewRankingCompare(cat *prompts.Catalogue) *RankingCompare {
	return &RankingCompare{compareBase{name: "RankingCompare", title: "Ranking Compare Method", catalogue: cat}}
}

func (m *RankingCompare) VoteSchema(count int) (schema.Document, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative submission count", ErrInvalidConfig)
	}
	return schema.Wrap(schema.KindVote, schema.Document{
		"type":  "array",
		"title": "Submission numbers from best to worst",
		"description": fmt.Sprintf(
			"A list of the unique integers 1 to %d, each naming a submission, ordered from best to worst.", count),
		"uniqueItems": true,
		"items":       map[string]any{"type": "integer", "minimum": 1, "maximum": count},
		"minItems":    count,
		"maxItems":    count,
	})
}

func (m *RankingCompare) VotePrompt(subs []model.Submission) (string, error) {
	return m.render(subs, "")
}

func (m *RankingCompare) Reduce(votes []Ballot, eligible []string) Aggregate {
	index := m.Index()
	sums := totals(eligible)
	voters := 0
	for _, b := range votes {
		ranking, ok := b.Vote.([]any)
		if !ok {
			continue
		}
		voters++
		for rank, raw := range ranking {
			n, ok := number(raw)
			if !ok {
				continue
			}
			id, ok := index[int(n)]
			if !ok {
				continue
			}
			if _, eligibleID := sums[id]; eligibleID {
				sums[id] += float64(rank)
			}
		}
	}
	return averaged(sums, eligible, voters)
}

// ScoreCompare averages the score each voter gives each submission.
// Results are sorted ascending like rankings.
type ScoreCompare struct {
	compareBase
	low, high, step int
}

// NewScoreCompare takes the same bounds and optional step as NewScoreLabel.
func NewScoreCompare(low, high, step int, cat *prompts.Catalogue) (*ScoreCompare, error) {
	if low >= high {
		return nil, fmt.Errorf("%w: ScoreCompare needs min < max, got %d..%d", ErrInvalidConfig, low, high)
	}
	if step < 0 {
		return nil, fmt.Errorf("%w: ScoreCompare step must not be negative", ErrInvalidConfig)
	}
	return &ScoreCompare{
		compareBase: compareBase{name: "ScoreCompare", title: "Score Compare Method", catalogue: cat},
		low:         low,
		high:        high,
		step:        step,
	}, nil
}

// Range returns the configured bounds and step.
func (m *ScoreCompare) Range() (low, high, step int) { return m.low, m.high, m.step }

// ScoreKey is the ballot property holding the score for position i.
func ScoreKey(i int) string { return "submission_" + strconv.Itoa(i) }

func (m *ScoreCompare) VoteSchema(count int) (schema.Document, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative submission count", ErrInvalidConfig)
	}
	props := make(map[string]any, count)
	required := make([]any, 0, count)
	for i := 1; i <= count; i++ {
		key := ScoreKey(i)
		prop := map[string]any{
			"type":        "integer",
			"description": fmt.Sprintf("The score for submission %d.", i),
			"minimum":     m.low,
			"maximum":     m.high,
		}
		if m.step > 0 {
			prop["enum"] = steppedValues(m.low, m.high, m.step)
		}
		props[key] = prop
		required = append(required, key)
	}
	return schema.Wrap(schema.KindVote, schema.Document{
		"type":                 "object",
		"title":                "Scores by submission number",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
}

func (m *ScoreCompare) VotePrompt(subs []model.Submission) (string, error) {
	return m.render(subs, scoreValues(m.low, m.high, m.step))
}

func (m *ScoreCompare) Reduce(votes []Ballot, eligible []string) Aggregate {
	index := m.Index()
	sums := totals(eligible)
	voters := 0
	for _, b := range votes {
		scores, ok := b.Vote.(map[string]any)
		if !ok {
			continue
		}
		voters++
		for key, raw := range scores {
			pos, err := strconv.Atoi(strings.TrimPrefix(key, "submission_"))
			if err != nil {
				continue
			}
			n, ok := number(raw)
			if !ok {
				continue
			}
			id, ok := index[pos]
			if !ok {
				continue
			}
			if _, eligibleID := sums[id]; eligibleID {
				sums[id] += n
			}
		}
	}
	return averaged(sums, eligible, voters)
}
