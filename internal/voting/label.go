package voting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/prompts"
	"github.com/kingrea/deliberate/internal/schema"
)

type labelPrompt struct {
	Content string
	Values  string
}

type labelBase struct {
	name      string
	title     string
	catalogue *prompts.Catalogue
}

func (b labelBase) Name() string   { return b.name }
func (b labelBase) IsLabel() bool  { return true }
func (b labelBase) String() string { return b.title }

func (b labelBase) render(sub model.Submission, values string) (string, error) {
	cat := b.catalogue
	if cat == nil {
		cat = prompts.Default()
	}
	return cat.Render([]string{b.name, prompts.LabelMethod}, "vote", labelPrompt{
		Content: prompts.Content(sub.Content),
		Values:  values,
	})
}

// EnumLabel tallies one label per voter from a fixed set of values.
type EnumLabel struct {
	labelBase
	values []string
}

// NewEnumLabel requires at least one distinct, non-empty value.
func NewEnumLabel(values []string, cat *prompts.Catalogue) (*EnumLabel, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: EnumLabel needs at least one value", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: EnumLabel values must be non-empty", ErrInvalidConfig)
		}
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("%w: EnumLabel value %q repeated", ErrInvalidConfig, v)
		}
		seen[v] = struct{}{}
	}
	return &EnumLabel{
		labelBase: labelBase{name: "EnumLabel", title: "Enum Label Method", catalogue: cat},
		values:    append([]string(nil), values...),
	}, nil
}

// Values returns the allowed labels in declaration order.
func (m *EnumLabel) Values() []string { return append([]string(nil), m.values...) }

func (m *EnumLabel) VoteSchema() (schema.Document, error) {
	enum := make([]any, len(m.values))
	for i, v := range m.values {
		enum[i] = v
	}
	return schema.Wrap(schema.KindVote, schema.Document{
		"title":       "Label",
		"description": "The label for this submission.",
		"type":        "string",
		"enum":        enum,
	})
}

func (m *EnumLabel) VotePrompt(sub model.Submission) (string, error) {
	return m.render(sub, strings.Join(m.values, ", "))
}

func (m *EnumLabel) Reduce(votes map[string][]Ballot, eligible []string) Aggregate {
	out := make(Aggregate, 0, len(eligible))
	for _, id := range eligible {
		counts := make(LabelCounts, len(m.values))
		for _, v := range m.values {
			counts[v] = 0
		}
		for _, b := range votes[id] {
			label, ok := b.Vote.(string)
			if !ok {
				continue
			}
			if _, known := counts[label]; known {
				counts[label]++
			}
		}
		out = append(out, Entry{SubmissionID: id, Result: counts})
	}
	return out
}

// YesNoLabel is an EnumLabel over {"yes", "no"}.
type YesNoLabel struct {
	*EnumLabel
}

// NewYesNoLabel builds the yes/no label.
func NewYesNoLabel(cat *prompts.Catalogue) *YesNoLabel {
	enum, _ := NewEnumLabel([]string{"yes", "no"}, cat)
	enum.name = "YesNoLabel"
	enum.title = "Yes/No Label Method"
	return &YesNoLabel{EnumLabel: enum}
}

// ScoreLabel averages integer scores in [Min, Max].
type ScoreLabel struct {
	labelBase
	low, high, step int
}

// NewScoreLabel requires min < max and step >= 0. A positive step limits
// scores to min, min+step, ... up to max.
func NewScoreLabel(low, high, step int, cat *prompts.Catalogue) (*ScoreLabel, error) {
	if low >= high {
		return nil, fmt.Errorf("%w: ScoreLabel needs min < max, got %d..%d", ErrInvalidConfig, low, high)
	}
	if step < 0 {
		return nil, fmt.Errorf("%w: ScoreLabel step must not be negative", ErrInvalidConfig)
	}
	return &ScoreLabel{
		labelBase: labelBase{name: "ScoreLabel", title: "Score Label Method", catalogue: cat},
		low:       low,
		high:      high,
		step:      step,
	}, nil
}

// Range returns the configured bounds and step.
func (m *ScoreLabel) Range() (low, high, step int) { return m.low, m.high, m.step }

func (m *ScoreLabel) VoteSchema() (schema.Document, error) {
	payload := schema.Document{
		"title":       "Score",
		"description": "The score for this submission.",
		"type":        "integer",
		"minimum":     m.low,
		"maximum":     m.high,
	}
	if m.step > 0 {
		payload["enum"] = steppedValues(m.low, m.high, m.step)
	}
	return schema.Wrap(schema.KindVote, payload)
}

func (m *ScoreLabel) VotePrompt(sub model.Submission) (string, error) {
	return m.render(sub, scoreValues(m.low, m.high, m.step))
}

func (m *ScoreLabel) Reduce(votes map[string][]Ballot, eligible []string) Aggregate {
	out := make(Aggregate, 0, len(eligible))
	for _, id := range eligible {
		var sum float64
		var count int
		for _, b := range votes[id] {
			if n, ok := number(b.Vote); ok {
				sum += n
				count++
			}
		}
		summary := ScoreSummary{}
		if count > 0 {
			avg := round3(sum / float64(count))
			summary.AverageScore = &avg
		}
		out = append(out, Entry{SubmissionID: id, Result: summary})
	}
	return out
}

func steppedValues(low, high, step int) []any {
	var out []any
	for v := low; v <= high; v += step {
		out = append(out, v)
	}
	return out
}

// scoreValues renders the allowed scores for a prompt: an explicit list
// when stepped, otherwise "min to max".
func scoreValues(low, high, step int) string {
	if step <= 0 {
		return fmt.Sprintf("%d to %d", low, high)
	}
	var parts []string
	for v := low; v <= high; v += step {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ", ")
}
