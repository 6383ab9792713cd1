package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/structured"
)

// ValidatorRegistry maps names used in process files to semantic checks
// over submission content.
type ValidatorRegistry struct {
	mu     sync.RWMutex
	checks map[string]structured.Check
}

// NewValidatorRegistry returns a registry holding the built-in checks.
func NewValidatorRegistry() *ValidatorRegistry {
	r := &ValidatorRegistry{checks: map[string]structured.Check{}}
	r.MustRegister("non_empty", structured.Check{
		Message: "Your submission was empty. Provide a substantive submission.",
		Pass:    nonEmpty,
	})
	return r
}

// Register installs a named check.
func (r *ValidatorRegistry) Register(name string, check structured.Check) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("session: validator name is required")
	}
	if check.Pass == nil {
		return fmt.Errorf("session: validator %s has no predicate", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; exists {
		return fmt.Errorf("session: validator %s already registered", name)
	}
	r.checks[name] = check
	return nil
}

func (r *ValidatorRegistry) MustRegister(name string, check structured.Check) {
	if err := r.Register(name, check); err != nil {
		panic(err)
	}
}

// Resolve returns the checks for names in order.
func (r *ValidatorRegistry) Resolve(names []string) ([]structured.Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]structured.Check, 0, len(names))
	for _, name := range names {
		check, ok := r.checks[name]
		if !ok {
			return nil, &config.ConfigurationError{Field: "validators", Err: fmt.Errorf("unknown validator %q", name)}
		}
		out = append(out, check)
	}
	return out, nil
}

// Names returns the registered names in sorted order.
func (r *ValidatorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.checks))
	for name := range r.checks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EnumFieldCheck requires content to be an object whose rule.Field holds
// one of rule.Values.
func EnumFieldCheck(rule config.EnumFieldRule) structured.Check {
	allowed := make(map[string]struct{}, len(rule.Values))
	for _, v := range rule.Values {
		allowed[v] = struct{}{}
	}
	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("The value of %q must be one of: %s.", rule.Field, strings.Join(rule.Values, ", "))
	}
	return structured.Check{
		Message: message,
		Pass: func(content any) bool {
			obj, ok := content.(map[string]any)
			if !ok {
				return false
			}
			s, ok := obj[rule.Field].(string)
			if !ok {
				return false
			}
			_, ok = allowed[s]
			return ok
		},
	}
}

func nonEmpty(content any) bool {
	switch v := content.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}
