package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported event version.
	EventSchemaVersion = 1
)

// Event kinds emitted while a session runs.
const (
	TypeSessionStart       = "session_start"
	TypePhaseStart         = "phase_start"
	TypeSubmission         = "submission"
	TypeSubmissionRejected = "submission_rejected"
	TypeVotesCollected     = "votes_collected"
	TypePhaseEnd           = "phase_end"
	TypeSessionEnd         = "session_end"
	TypeError              = "error"
)

// Event is one progress notification for a running session.
type Event struct {
	Version   int             `json:"version"`
	EventID   string          `json:"event_id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"type"`
	Time      time.Time       `json:"time"`
	SessionID string          `json:"session_id"`
	TopicID   string          `json:"topic_id,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.SessionID = strings.TrimSpace(e.SessionID)
	e.TopicID = strings.TrimSpace(e.TopicID)
}

// Validate enforces baseline requirements.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Tee hands each event to every non-nil processor and joins their errors.
func Tee(processors ...EventProcessor) EventProcessor {
	var live []EventProcessor
	for _, p := range processors {
		if p != nil {
			live = append(live, p)
		}
	}
	return EventProcessorFunc(func(e Event) error {
		var errs []error
		for _, p := range live {
			if err := p.HandleEvent(e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Emitter stamps and routes events. A nil *Emitter drops everything.
type Emitter struct {
	processor EventProcessor
	clock     func() time.Time
	seq       atomic.Int64
}

// NewEmitter sends events to p.
func NewEmitter(p EventProcessor) *Emitter {
	return &Emitter{processor: p, clock: func() time.Time { return time.Now().UTC() }}
}

// Emit publishes one event. Payload is JSON-encoded when non-nil.
func (e *Emitter) Emit(sessionID, topicID, kind, detail string, payload any) {
	if e == nil || e.processor == nil {
		return
	}
	evt := Event{
		Version:   EventSchemaVersion,
		EventID:   uuid.NewString(),
		Sequence:  e.seq.Add(1),
		Type:      kind,
		Time:      e.clock(),
		SessionID: sessionID,
		TopicID:   topicID,
		Detail:    detail,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	_ = e.processor.HandleEvent(evt)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
}
