package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleProcess = `
process:
  name: Chess
  default_session_settings:
    max_concurrent: 4
    max_attempts: 2
  sessions:
    - name: Openings
      max_subs_per_topic: 2
      default_topic_settings:
        description: Pick a strong move.
        voting_method:
          type: ScoreLabel
          start_value: 1
          end_value: 10
      topics:
        - title: Move one
          submission_content_schema:
            type: object
            properties:
              move: {type: string}
            required: [move]
          enum_field:
            field: move
            values: [e4, d4, c4]
        - title: Move two
          description: Reply to e4.
          voting_method:
            type: RankingCompare
      participants:
        - type: Random
          name: dice
          seed: 7
        - type: llm
          name: analyst
          model: gpt-4o-mini
          temperature: 0.2
`

func TestParseProcessMergesDefaults(t *testing.T) {
	proc, err := ParseProcess([]byte(sampleProcess))
	if err != nil {
		t.Fatalf("ParseProcess returned error: %v", err)
	}
	if len(proc.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(proc.Sessions))
	}
	s := proc.Sessions[0]
	if s.Concurrency() != 4 || s.Attempts() != 2 || s.SubsPerTopic() != 2 {
		t.Fatalf("unexpected merged settings: %d %d %d", s.Concurrency(), s.Attempts(), s.SubsPerTopic())
	}
	first := s.Topics[0]
	if first.Description != "Pick a strong move." {
		t.Fatalf("topic default description not applied: %q", first.Description)
	}
	if first.VotingMethod.Type != "ScoreLabel" || first.VotingMethod.Params["end_value"] != 10 {
		t.Fatalf("topic default method not applied: %+v", first.VotingMethod)
	}
	if first.EnumField == nil || len(first.EnumField.Values) != 3 {
		t.Fatalf("enum_field not parsed: %+v", first.EnumField)
	}
	second := s.Topics[1]
	if second.Description != "Reply to e4." || second.VotingMethod.Type != "RankingCompare" {
		t.Fatalf("explicit topic settings overridden: %+v", second)
	}
	if s.Participants[0].Type != "random" || *s.Participants[0].Seed != 7 {
		t.Fatalf("participant not normalised: %+v", s.Participants[0])
	}
}

func TestInheritKeepsDeclaredSettings(t *testing.T) {
	proc, err := ParseProcess([]byte(sampleProcess + `
    - name: Endgames
      topics: [{title: t}]
      participants: [{type: random, name: r}]
`))
	if err != nil {
		t.Fatalf("ParseProcess returned error: %v", err)
	}
	proc.Inherit(ProjectConfig{MaxConcurrent: 3, MaxAttempts: 5})
	if got := proc.Sessions[0].Concurrency(); got != 4 {
		t.Fatalf("declared max_concurrent overridden: %d", got)
	}
	proc.Sessions[1].MaxConcurrent = nil
	proc.Inherit(ProjectConfig{MaxConcurrent: 3, MaxAttempts: 5})
	if got := proc.Sessions[1].Concurrency(); got != 3 {
		t.Fatalf("expected inherited max_concurrent 3, got %d", got)
	}
	if got := proc.Sessions[1].Attempts(); got != 2 {
		t.Fatalf("process default max_attempts should win, got %d", got)
	}
}

func TestParseProcessDefaultsVotingMethod(t *testing.T) {
	proc, err := ParseProcess([]byte(`
process:
  sessions:
    - name: s
      topics: [{title: t}]
      participants: [{type: random, name: r}]
`))
	if err != nil {
		t.Fatalf("ParseProcess returned error: %v", err)
	}
	if proc.Name != defaultProcessName {
		t.Fatalf("expected default process name, got %q", proc.Name)
	}
	if got := proc.Sessions[0].Topics[0].VotingMethod.Type; got != defaultVotingMethod {
		t.Fatalf("expected %s, got %s", defaultVotingMethod, got)
	}
	if proc.Sessions[0].Concurrency() != 10 || proc.Sessions[0].SubsPerTopic() != 1 {
		t.Fatalf("unexpected default settings")
	}
}

func TestValidateFileCollectsAllErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.yaml")
	content := `
process:
  sessions:
    - name: ""
      max_concurrent: 0
      topics: [{title: ""}]
      participants:
        - {type: random, name: a}
        - {type: "", name: a}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	report, proc := ValidateFile(path)
	if report.Valid() || proc != nil {
		t.Fatalf("expected invalid report")
	}
	if len(report.Errors) < 5 {
		t.Fatalf("expected every problem reported, got %v", report.Errors)
	}
}

func TestLoadProcessWrapsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.yaml")
	if err := os.WriteFile(path, []byte("process:\n  sessions: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadProcess(path)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Path != path {
		t.Fatalf("expected ConfigurationError for %s, got %v", path, err)
	}
}
