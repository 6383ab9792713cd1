package participant

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/prompts"
)

// Deps are the shared collaborators handed to every factory.
type Deps struct {
	Prompts     *prompts.Catalogue
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	MaxAttempts int
	OpenAI      config.OpenAIConfig
	HTTPClient  *http.Client
}

func (d Deps) options() []Option {
	return []Option{
		WithPrompts(d.Prompts),
		WithLogger(d.Logger),
		WithMetrics(d.Metrics),
		WithMaxAttempts(d.MaxAttempts),
	}
}

// Factory constructs a participant from its declaration.
type Factory func(config.ParticipantConfig, Deps) (model.Participant, error)

// Registry maintains known participant factories keyed by type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Builtins returns a registry holding the random and llm factories.
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister(TypeRandom, randomFactory)
	r.MustRegister(TypeLLM, llmFactory)
	return r
}

// Register installs a factory. Returns an error if the type already exists.
func (r *Registry) Register(kind string, factory Factory) error {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return fmt.Errorf("participant: type is required")
	}
	if factory == nil {
		return fmt.Errorf("participant: factory is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("participant: %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs the participant declared by pc.
func (r *Registry) Resolve(pc config.ParticipantConfig, deps Deps) (model.Participant, error) {
	kind := strings.ToLower(strings.TrimSpace(pc.Type))
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &config.ConfigurationError{Field: "participants.type", Err: fmt.Errorf("unknown participant type %q", pc.Type)}
	}
	p, err := factory(pc, deps)
	if err != nil {
		return nil, err
	}
	if p.Describe().Name == "" {
		return nil, fmt.Errorf("participant: %s factory returned an unnamed participant", kind)
	}
	return p, nil
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func descriptor(pc config.ParticipantConfig, kind string) model.Descriptor {
	desc := model.Descriptor{
		Name:            pc.Name,
		Type:            kind,
		Model:           pc.Model,
		RoleDescription: pc.RoleDescription,
	}
	if pc.Temperature != nil {
		desc.Temperature = *pc.Temperature
	}
	return desc
}

// randomFactory seeds from pc.Seed, or from the participant name so runs
// of the same file are repeatable.
func randomFactory(pc config.ParticipantConfig, deps Deps) (model.Participant, error) {
	var seed uint64
	if pc.Seed != nil {
		seed = uint64(*pc.Seed)
	} else {
		h := fnv.New64a()
		_, _ = h.Write([]byte(pc.Name))
		seed = h.Sum64()
	}
	return NewRandom(descriptor(pc, TypeRandom), seed, deps.options()...), nil
}

func llmFactory(pc config.ParticipantConfig, deps Deps) (model.Participant, error) {
	if deps.OpenAI.APIKey == "" && deps.OpenAI.BaseURL == "" {
		return nil, &config.ConfigurationError{Field: "OPENAI_API_KEY", Err: fmt.Errorf("participant %s needs an API key or a base URL", pc.Name)}
	}
	desc := descriptor(pc, TypeLLM)
	if desc.Model == "" {
		desc.Model = deps.OpenAI.Model
	}
	chat, err := NewOpenAIChat(ChatOptions{
		APIKey:      deps.OpenAI.APIKey,
		BaseURL:     deps.OpenAI.BaseURL,
		Model:       desc.Model,
		Temperature: pc.Temperature,
		Seed:        pc.Seed,
		HTTPClient:  deps.HTTPClient,
	})
	if err != nil {
		return nil, &config.ConfigurationError{Field: "participants.model", Err: err}
	}
	return NewLLM(desc, chat, deps.options()...), nil
}
