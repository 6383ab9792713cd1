package voting

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/deliberate/internal/prompts"
)

// Config carries method-specific parameters from the process file.
type Config map[string]any

// Factory constructs a method from its configuration.
type Factory func(Config, *prompts.Catalogue) (Method, error)

// Registry maps method names to factories. Once sealed it rejects new
// registrations.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	catalogue *prompts.Catalogue
	sealed    bool
}

// NewRegistry returns an empty registry rendering prompts from cat.
func NewRegistry(cat *prompts.Catalogue) *Registry {
	if cat == nil {
		cat = prompts.Default()
	}
	return &Registry{factories: map[string]Factory{}, catalogue: cat}
}

// Register installs a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("voting: method name is required")
	}
	if factory == nil {
		return fmt.Errorf("voting: factory is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("voting: registry sealed, cannot add %s", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("voting: %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Seal freezes the registry and returns it.
func (r *Registry) Seal() *Registry {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
	return r
}

// Resolve constructs the method registered under name.
func (r *Registry) Resolve(name string, cfg Config) (Method, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("voting: unknown method %q", name)
	}
	method, err := factory(cfg, r.catalogue)
	if err != nil {
		return nil, fmt.Errorf("voting: %s: %w", name, err)
	}
	switch method.(type) {
	case LabelMethod, CompareMethod:
	default:
		return nil, fmt.Errorf("voting: %s is neither a label nor a compare method", name)
	}
	return method, nil
}

// Names returns the registered method names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins installs the five standard methods.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("YesNoLabel", func(_ Config, cat *prompts.Catalogue) (Method, error) {
		return NewYesNoLabel(cat), nil
	})
	r.MustRegister("EnumLabel", func(cfg Config, cat *prompts.Catalogue) (Method, error) {
		values, err := cfg.stringList("values", "enum_values")
		if err != nil {
			return nil, err
		}
		return NewEnumLabel(values, cat)
	})
	r.MustRegister("ScoreLabel", func(cfg Config, cat *prompts.Catalogue) (Method, error) {
		low, high, err := cfg.bounds()
		if err != nil {
			return nil, err
		}
		step, _, err := cfg.intValue("step", "increment_value")
		if err != nil {
			return nil, err
		}
		return NewScoreLabel(low, high, step, cat)
	})
	r.MustRegister("RankingCompare", func(_ Config, cat *prompts.Catalogue) (Method, error) {
		return NewRankingCompare(cat), nil
	})
	r.MustRegister("ScoreCompare", func(cfg Config, cat *prompts.Catalogue) (Method, error) {
		low, high, err := cfg.bounds()
		if err != nil {
			return nil, err
		}
		step, _, err := cfg.intValue("step", "increment_value")
		if err != nil {
			return nil, err
		}
		return NewScoreCompare(low, high, step, cat)
	})
}

// Builtins returns a sealed registry holding the standard methods.
func Builtins(cat *prompts.Catalogue) *Registry {
	r := NewRegistry(cat)
	RegisterBuiltins(r)
	return r.Seal()
}

func (c Config) bounds() (int, int, error) {
	low, ok, err := c.intValue("min", "start_value")
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: min is required", ErrInvalidConfig)
	}
	high, ok, err := c.intValue("max", "end_value")
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: max is required", ErrInvalidConfig)
	}
	return low, high, nil
}

// intValue reads the first present key as an integer.
func (c Config) intValue(keys ...string) (int, bool, error) {
	for _, key := range keys {
		raw, ok := c[key]
		if !ok || raw == nil {
			continue
		}
		n, ok := number(raw)
		if !ok || n != float64(int(n)) {
			return 0, false, fmt.Errorf("%w: %s must be an integer", ErrInvalidConfig, key)
		}
		return int(n), true, nil
	}
	return 0, false, nil
}

func (c Config) stringList(keys ...string) ([]string, error) {
	for _, key := range keys {
		raw, ok := c[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s must list strings", ErrInvalidConfig, key)
				}
				out = append(out, s)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("%w: %s must be a list", ErrInvalidConfig, key)
		}
	}
	return nil, fmt.Errorf("%w: %s is required", ErrInvalidConfig, keys[0])
}
