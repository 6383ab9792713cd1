package session

import (
	"fmt"
	"slices"

	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/participant"
	"github.com/kingrea/deliberate/internal/schema"
	"github.com/kingrea/deliberate/internal/voting"
)

// Builder turns a process file into runnable sessions.
type Builder struct {
	Methods      *voting.Registry
	Participants *participant.Registry
	Validators   *ValidatorRegistry
	// Deps are handed to participant factories. MaxAttempts is replaced
	// by each session's max_attempts.
	Deps participant.Deps
	// Options apply to every topic, session and the process.
	Options []Option
	// DryRun checks participant types but builds random stand-ins, so a
	// file can be validated without credentials.
	DryRun bool
}

// Process builds every session in pc, queued in file order.
func (b Builder) Process(pc *config.ProcessConfig) (*Process, error) {
	proc := NewProcess(pc.Name, pc.Description, b.Options...)
	for i, sc := range pc.Sessions {
		s, err := b.Session(sc)
		if err != nil {
			return nil, fmt.Errorf("session: sessions[%d] %q: %w", i, sc.Name, err)
		}
		proc.AddSession(s)
	}
	return proc, nil
}

// Session builds one session from its declaration.
func (b Builder) Session(sc config.SessionConfig) (*Session, error) {
	opts := append([]Option{
		WithMaxConcurrent(sc.Concurrency()),
		WithSubmissionsPerTopic(sc.SubsPerTopic()),
	}, b.Options...)
	s := New(sc.Name, sc.Description, opts...)
	for j, tc := range sc.Topics {
		t, err := b.Topic(tc)
		if err != nil {
			return nil, fmt.Errorf("topics[%d]: %w", j, err)
		}
		s.AddTopic(t)
	}
	deps := b.Deps
	deps.MaxAttempts = sc.Attempts()
	for j, pc := range sc.Participants {
		p, err := b.participant(pc, deps)
		if err != nil {
			return nil, fmt.Errorf("participants[%d]: %w", j, err)
		}
		s.AddParticipant(p)
	}
	return s, nil
}

// Topic builds one topic. Unknown methods and validators and malformed
// content schemas are configuration errors.
func (b Builder) Topic(tc config.TopicConfig) (*Topic, error) {
	if b.Methods == nil {
		return nil, fmt.Errorf("session: no voting methods registered")
	}
	mc := tc.VotingMethod
	if mc == nil {
		mc = &config.MethodConfig{Type: "YesNoLabel"}
	}
	method, err := b.Methods.Resolve(mc.Type, voting.Config(mc.Params))
	if err != nil {
		return nil, &config.ConfigurationError{Field: "voting_method", Err: err}
	}
	validators := b.Validators
	if validators == nil {
		validators = NewValidatorRegistry()
	}
	checks, err := validators.Resolve(tc.Validators)
	if err != nil {
		return nil, err
	}
	if tc.EnumField != nil {
		checks = append(checks, EnumFieldCheck(*tc.EnumField))
	}
	var content schema.Document
	if tc.ContentSchema != nil {
		content = schema.Document(tc.ContentSchema)
	}
	t, err := NewTopic(TopicSpec{
		Title:         tc.Title,
		Description:   tc.Description,
		ContentSchema: content,
		Method:        method,
		Checks:        checks,
	}, b.Options...)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "submission_content_schema", Err: err}
	}
	return t, nil
}

func (b Builder) participant(pc config.ParticipantConfig, deps participant.Deps) (model.Participant, error) {
	registry := b.Participants
	if registry == nil {
		registry = participant.Builtins()
	}
	if !b.DryRun {
		return registry.Resolve(pc, deps)
	}
	if !slices.Contains(registry.Types(), pc.Type) {
		return registry.Resolve(pc, deps)
	}
	stand := pc
	stand.Type = participant.TypeRandom
	return participant.Builtins().Resolve(stand, deps)
}
