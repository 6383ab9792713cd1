package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxSubsPerTopic = 1
	defaultVotingMethod    = "YesNoLabel"
	defaultProcessName     = "Process"
)

// Settings are the per-session knobs. Nil fields inherit.
type Settings struct {
	MaxConcurrent   *int `yaml:"max_concurrent,omitempty"`
	MaxSubsPerTopic *int `yaml:"max_subs_per_topic,omitempty"`
	MaxAttempts     *int `yaml:"max_attempts,omitempty"`
}

// Over returns s with every field set in other replacing its own.
func (s Settings) Over(other Settings) Settings {
	if other.MaxConcurrent != nil {
		s.MaxConcurrent = other.MaxConcurrent
	}
	if other.MaxSubsPerTopic != nil {
		s.MaxSubsPerTopic = other.MaxSubsPerTopic
	}
	if other.MaxAttempts != nil {
		s.MaxAttempts = other.MaxAttempts
	}
	return s
}

// Concurrency returns the resolved max_concurrent.
func (s Settings) Concurrency() int { return deref(s.MaxConcurrent, defaultMaxConcurrent) }

// SubsPerTopic returns the resolved max_subs_per_topic.
func (s Settings) SubsPerTopic() int { return deref(s.MaxSubsPerTopic, defaultMaxSubsPerTopic) }

// Attempts returns the resolved max_attempts.
func (s Settings) Attempts() int { return deref(s.MaxAttempts, defaultMaxAttempts) }

func deref(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// MethodConfig names a voting method and carries its parameters.
type MethodConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:",inline"`
}

// EnumFieldRule restricts one field of an object submission to a set of
// values.
type EnumFieldRule struct {
	Field   string   `yaml:"field"`
	Values  []string `yaml:"values"`
	Message string   `yaml:"message,omitempty"`
}

// TopicConfig declares one topic.
type TopicConfig struct {
	Title         string         `yaml:"title"`
	Description   string         `yaml:"description,omitempty"`
	ContentSchema map[string]any `yaml:"submission_content_schema,omitempty"`
	VotingMethod  *MethodConfig  `yaml:"voting_method,omitempty"`
	Validators    []string       `yaml:"validators,omitempty"`
	EnumField     *EnumFieldRule `yaml:"enum_field,omitempty"`
}

// WithDefaults fills fields left empty in t from d.
func (t TopicConfig) WithDefaults(d TopicConfig) TopicConfig {
	if t.Description == "" {
		t.Description = d.Description
	}
	if t.ContentSchema == nil {
		t.ContentSchema = d.ContentSchema
	}
	if t.VotingMethod == nil {
		t.VotingMethod = d.VotingMethod
	}
	if t.Validators == nil {
		t.Validators = d.Validators
	}
	if t.EnumField == nil {
		t.EnumField = d.EnumField
	}
	return t
}

// ParticipantConfig declares one participant. Type selects the factory.
type ParticipantConfig struct {
	Type            string   `yaml:"type"`
	Name            string   `yaml:"name"`
	Model           string   `yaml:"model,omitempty"`
	Temperature     *float64 `yaml:"temperature,omitempty"`
	RoleDescription string   `yaml:"role_description,omitempty"`
	Seed            *int64   `yaml:"seed,omitempty"`
}

// SessionConfig declares one round.
type SessionConfig struct {
	Name                 string              `yaml:"name"`
	Description          string              `yaml:"description,omitempty"`
	Settings             `yaml:",inline"`
	DefaultTopicSettings TopicConfig         `yaml:"default_topic_settings,omitempty"`
	Topics               []TopicConfig       `yaml:"topics"`
	Participants         []ParticipantConfig `yaml:"participants"`
}

// ProcessConfig is the root of a process file.
type ProcessConfig struct {
	Name                   string          `yaml:"name"`
	Description            string          `yaml:"description,omitempty"`
	DefaultSessionSettings Settings        `yaml:"default_session_settings,omitempty"`
	Sessions               []SessionConfig `yaml:"sessions"`
}

// Inherit fills max_concurrent and max_attempts from the project config
// for sessions that set neither themselves nor through process defaults.
func (p *ProcessConfig) Inherit(project ProjectConfig) {
	base := Settings{}
	if project.MaxConcurrent > 0 {
		base.MaxConcurrent = &project.MaxConcurrent
	}
	if project.MaxAttempts > 0 {
		base.MaxAttempts = &project.MaxAttempts
	}
	for i := range p.Sessions {
		p.Sessions[i].Settings = base.Over(p.Sessions[i].Settings)
	}
}

type processFile struct {
	Process ProcessConfig `yaml:"process"`
}

// LoadProcess reads, merges and validates a process file.
func LoadProcess(path string) (*ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	proc, errs := parseProcess(data)
	if len(errs) > 0 {
		return nil, &ConfigurationError{Path: path, Err: errs[0]}
	}
	return proc, nil
}

// ParseProcess decodes a process file held in memory.
func ParseProcess(data []byte) (*ProcessConfig, error) {
	proc, errs := parseProcess(data)
	if len(errs) > 0 {
		return nil, &ConfigurationError{Err: errs[0]}
	}
	return proc, nil
}

func parseProcess(data []byte) (*ProcessConfig, []error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, []error{fmt.Errorf("process file is empty")}
	}
	var file processFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, []error{fmt.Errorf("decode process file: %w", err)}
	}
	proc := file.Process
	proc.applyDefaults()
	if errs := proc.validate(); len(errs) > 0 {
		return nil, errs
	}
	return &proc, nil
}

// applyDefaults pushes process defaults into sessions and session topic
// defaults into topics.
func (p *ProcessConfig) applyDefaults() {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = defaultProcessName
	}
	for i := range p.Sessions {
		s := &p.Sessions[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Settings = p.DefaultSessionSettings.Over(s.Settings)
		for j := range s.Topics {
			s.Topics[j] = s.Topics[j].WithDefaults(s.DefaultTopicSettings)
			if s.Topics[j].VotingMethod == nil {
				s.Topics[j].VotingMethod = &MethodConfig{Type: defaultVotingMethod}
			}
		}
		for j := range s.Participants {
			s.Participants[j].Type = strings.ToLower(strings.TrimSpace(s.Participants[j].Type))
		}
	}
}

func (p *ProcessConfig) validate() []error {
	var errs []error
	if len(p.Sessions) == 0 {
		errs = append(errs, fmt.Errorf("process.sessions must list at least one session"))
	}
	for i, s := range p.Sessions {
		prefix := fmt.Sprintf("sessions[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if s.Concurrency() < 1 {
			errs = append(errs, fmt.Errorf("%s.max_concurrent must be >= 1", prefix))
		}
		if s.SubsPerTopic() < 1 {
			errs = append(errs, fmt.Errorf("%s.max_subs_per_topic must be >= 1", prefix))
		}
		if s.Attempts() < 1 {
			errs = append(errs, fmt.Errorf("%s.max_attempts must be >= 1", prefix))
		}
		if len(s.Topics) > 0 && len(s.Participants) == 0 {
			errs = append(errs, fmt.Errorf("%s.participants must list at least one participant", prefix))
		}
		for j, t := range s.Topics {
			tp := fmt.Sprintf("%s.topics[%d]", prefix, j)
			if strings.TrimSpace(t.Title) == "" {
				errs = append(errs, fmt.Errorf("%s.title is required", tp))
			}
			if strings.TrimSpace(t.VotingMethod.Type) == "" {
				errs = append(errs, fmt.Errorf("%s.voting_method.type is required", tp))
			}
			if rule := t.EnumField; rule != nil {
				if rule.Field == "" {
					errs = append(errs, fmt.Errorf("%s.enum_field.field is required", tp))
				}
				if len(rule.Values) == 0 {
					errs = append(errs, fmt.Errorf("%s.enum_field.values is required", tp))
				}
			}
		}
		names := map[string]struct{}{}
		for j, pc := range s.Participants {
			pp := fmt.Sprintf("%s.participants[%d]", prefix, j)
			if pc.Type == "" {
				errs = append(errs, fmt.Errorf("%s.type is required", pp))
			}
			if strings.TrimSpace(pc.Name) == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", pp))
				continue
			}
			if _, dup := names[pc.Name]; dup {
				errs = append(errs, fmt.Errorf("%s.name duplicates %q", pp, pc.Name))
			}
			names[pc.Name] = struct{}{}
		}
	}
	return errs
}

// Report captures every problem found in a process file.
type Report struct {
	Path   string
	Errors []error
}

// Valid reports whether no problems were found.
func (r Report) Valid() bool { return len(r.Errors) == 0 }

// ValidateFile checks a process file and collects all problems rather
// than stopping at the first.
func ValidateFile(path string) (Report, *ProcessConfig) {
	report := Report{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("read file: %w", err))
		return report, nil
	}
	proc, errs := parseProcess(data)
	report.Errors = append(report.Errors, errs...)
	return report, proc
}
