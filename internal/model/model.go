package model

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/structured"
)

// Descriptor is the roster entry recorded for a participant.
type Descriptor struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Model           string  `json:"model,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	RoleDescription string  `json:"role_description,omitempty"`
}

// Submission is one participant's answer to a topic.
type Submission struct {
	ID            string    `json:"id"`
	TopicID       string    `json:"topic_id,omitempty"`
	ParticipantID string    `json:"participant_id"`
	Content       any       `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewSubmission stamps content with a fresh id and the current time.
func NewSubmission(topicID, participantID string, content any) Submission {
	return Submission{
		ID:            uuid.NewString(),
		TopicID:       topicID,
		ParticipantID: participantID,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
}

// TopicBrief is what a participant sees when asked to submit.
type TopicBrief struct {
	ID          string
	Title       string
	Description string
	// Schema validates the wrapped reply {"submission": content}.
	Schema *schema.Validator
	// Checks run against the wrapped reply after schema validation.
	Checks []structured.Check
}

// VoteRequest carries the prompt and schema for one vote.
type VoteRequest struct {
	Prompt string
	Schema *schema.Validator
}

// Participant submits to topics and votes on submissions. A non-nil error
// means the participant contributes nothing for that request.
type Participant interface {
	Describe() Descriptor
	CreateSubmission(ctx context.Context, topic TopicBrief) (*Submission, error)
	// LabelVote returns the wrapped vote {"vote": payload}.
	LabelVote(ctx context.Context, submission Submission, req VoteRequest) (any, error)
	// CompareVote returns the wrapped vote {"vote": payload}.
	CompareVote(ctx context.Context, submissions []Submission, req VoteRequest) (any, error)
}
