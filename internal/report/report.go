// Package report flattens a persisted session snapshot into tables of
// participants, topics, submissions, votes and results.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Info identifies the session.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	// Model is empty for participants that do not call a model.
	Model string `json:"model,omitempty"`
}

type Topic struct {
	ID          string
	Title       string
	Description string
	Method      string
}

type Submission struct {
	ID            string
	TopicID       string
	ParticipantID string
	Content       any
	CreatedAt     time.Time
}

// Vote is one ballot. SubmissionID is empty for compare ballots, which
// cover every submission of the topic at once.
type Vote struct {
	TopicID       string
	SubmissionID  string
	ParticipantID string
	Value         any
	CreatedAt     time.Time
}

// Result is one aggregate entry; Rank is its 1-based position in the
// aggregate.
type Result struct {
	TopicID      string
	SubmissionID string
	Rank         int
	Value        any
}

// Report is the flattened snapshot.
type Report struct {
	Session      Info
	Participants []Participant
	Topics       []Topic
	Submissions  []Submission
	Votes        []Vote
	Results      []Result
}

type rawSnapshot struct {
	Session      Info          `json:"session"`
	Topics       []rawTopic    `json:"topics"`
	Participants []Participant `json:"participants"`
}

type rawTopic struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	VotingMethod  string          `json:"voting_method"`
	Submissions   []rawSubmission `json:"submissions"`
	VotingResults json.RawMessage `json:"voting_results"`
}

type rawSubmission struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Content       any       `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

type rawBallot struct {
	ParticipantID string    `json:"participant_id"`
	Vote          any       `json:"vote"`
	CreatedAt     time.Time `json:"created_at"`
}

type rawResults struct {
	// Label results group ballots by submission.
	Submissions []struct {
		ID                 string      `json:"id"`
		VotingParticipants []rawBallot `json:"voting_participants"`
	} `json:"submissions"`
	// Compare results hold one ballot per participant.
	VotingParticipants []rawBallot `json:"voting_participants"`
	AggregatedResults  *struct {
		Submissions []struct {
			ID     string `json:"id"`
			Result any    `json:"result"`
		} `json:"submissions"`
	} `json:"aggregated_results"`
}

// Parse decodes a snapshot document.
func Parse(data []byte) (*Report, error) {
	var snap rawSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("report: decode snapshot: %w", err)
	}
	if snap.Session.ID == "" {
		return nil, fmt.Errorf("report: snapshot has no session id")
	}
	r := &Report{Session: snap.Session, Participants: snap.Participants}
	for _, t := range snap.Topics {
		r.Topics = append(r.Topics, Topic{ID: t.ID, Title: t.Title, Description: t.Description, Method: t.VotingMethod})
		for _, s := range t.Submissions {
			r.Submissions = append(r.Submissions, Submission{
				ID:            s.ID,
				TopicID:       t.ID,
				ParticipantID: s.ParticipantID,
				Content:       s.Content,
				CreatedAt:     s.CreatedAt,
			})
		}
		if len(t.VotingResults) == 0 || string(t.VotingResults) == "null" {
			continue
		}
		var res rawResults
		if err := json.Unmarshal(t.VotingResults, &res); err != nil {
			return nil, fmt.Errorf("report: topic %q results: %w", t.Title, err)
		}
		for _, s := range res.Submissions {
			for _, b := range s.VotingParticipants {
				r.Votes = append(r.Votes, Vote{TopicID: t.ID, SubmissionID: s.ID, ParticipantID: b.ParticipantID, Value: b.Vote, CreatedAt: b.CreatedAt})
			}
		}
		for _, b := range res.VotingParticipants {
			r.Votes = append(r.Votes, Vote{TopicID: t.ID, ParticipantID: b.ParticipantID, Value: b.Vote, CreatedAt: b.CreatedAt})
		}
		if res.AggregatedResults != nil {
			for i, e := range res.AggregatedResults.Submissions {
				r.Results = append(r.Results, Result{TopicID: t.ID, SubmissionID: e.ID, Rank: i + 1, Value: e.Result})
			}
		}
	}
	return r, nil
}

// FromValue encodes v and parses the result, for snapshots still in
// memory.
func FromValue(v any) (*Report, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("report: encode snapshot: %w", err)
	}
	return Parse(data)
}

// ParticipantName returns the display name for id, or id itself.
func (r *Report) ParticipantName(id string) string {
	for _, p := range r.Participants {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

// TopicResults returns the aggregate for one topic in aggregate order.
func (r *Report) TopicResults(topicID string) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.TopicID == topicID {
			out = append(out, res)
		}
	}
	return out
}

// TopicVotes returns the ballots cast on one topic.
func (r *Report) TopicVotes(topicID string) []Vote {
	var out []Vote
	for _, v := range r.Votes {
		if v.TopicID == topicID {
			out = append(out, v)
		}
	}
	return out
}

// Submission looks up a submission by id.
func (r *Report) Submission(id string) (Submission, bool) {
	for _, s := range r.Submissions {
		if s.ID == id {
			return s, true
		}
	}
	return Submission{}, false
}

// FormatValue renders a result or vote for display: label counts as
// sorted key=count pairs, averages with three decimals, missing data as
// a dash.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', 3, 64)
	case map[string]any:
		if avg, ok := val["average_score"]; ok && len(val) == 1 {
			return FormatValue(avg)
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+FormatValue(val[k]))
		}
		return strings.Join(parts, " ")
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

// Snippet renders content on one line, cut to width runes.
func Snippet(content any, width int) string {
	var text string
	switch v := content.(type) {
	case string:
		text = v
	case nil:
		text = "-"
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprint(v)
		} else {
			text = string(raw)
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if width > 1 && len(runes) > width {
		return string(runes[:width-1]) + "…"
	}
	return text
}
