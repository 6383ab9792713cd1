package session

import (
	"time"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/voting"
)

// Snapshot is the persisted outcome of one session run.
type Snapshot struct {
	Session      Info               `json:"session"`
	Topics       []TopicSnapshot    `json:"topics"`
	Participants []model.Descriptor `json:"participants"`
}

// Info identifies the session a snapshot belongs to.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TopicSnapshot struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	VotingMethod  string             `json:"voting_method"`
	Submissions   []SubmissionRecord `json:"submissions"`
	VotingResults voting.View        `json:"voting_results"`
}

type SubmissionRecord struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Content       any       `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

func snapshotTopic(t *Topic) (TopicSnapshot, error) {
	view, err := t.manager.Results()
	if err != nil {
		return TopicSnapshot{}, err
	}
	subs := t.Submissions()
	records := make([]SubmissionRecord, 0, len(subs))
	for _, s := range subs {
		records = append(records, SubmissionRecord{
			ID:            s.ID,
			ParticipantID: s.ParticipantID,
			Content:       s.Content,
			CreatedAt:     s.CreatedAt,
		})
	}
	return TopicSnapshot{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		VotingMethod:  t.Method().Name(),
		Submissions:   records,
		VotingResults: view,
	}, nil
}
