package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Owner names used by the built-in catalogue.
const (
	Participant   = "Participant"
	LabelMethod   = "LabelMethod"
	CompareMethod = "CompareMethod"
)

// Catalogue holds parsed prompt templates keyed by owner and prompt name.
type Catalogue struct {
	templates map[string]map[string]*template.Template
}

// Parse decodes a catalogue from YAML.
func Parse(data []byte) (*Catalogue, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("prompts: catalogue is empty")
	}
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("prompts: decode catalogue: %w", err)
	}
	cat := &Catalogue{templates: map[string]map[string]*template.Template{}}
	for owner, entries := range raw {
		for name, text := range entries {
			tmpl, err := template.New(owner + "." + name).Option("missingkey=zero").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("prompts: %s.%s: %w", owner, name, err)
			}
			if cat.templates[owner] == nil {
				cat.templates[owner] = map[string]*template.Template{}
			}
			cat.templates[owner][name] = tmpl
		}
	}
	return cat, nil
}

// Default returns the embedded catalogue.
func Default() *Catalogue {
	cat, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return cat
}

// Load returns the embedded catalogue with any entries from path layered
// on top. A missing file yields the defaults.
func Load(path string) (*Catalogue, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return base, nil
		}
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("prompts: %s: %w", path, err)
	}
	return base.Merge(override), nil
}

// Merge returns a catalogue where entries from other replace entries in c.
func (c *Catalogue) Merge(other *Catalogue) *Catalogue {
	out := &Catalogue{templates: map[string]map[string]*template.Template{}}
	for _, src := range []*Catalogue{c, other} {
		if src == nil {
			continue
		}
		for owner, entries := range src.templates {
			if out.templates[owner] == nil {
				out.templates[owner] = map[string]*template.Template{}
			}
			for name, tmpl := range entries {
				out.templates[owner][name] = tmpl
			}
		}
	}
	return out
}

// Owners lists the owners present in the catalogue.
func (c *Catalogue) Owners() []string {
	owners := make([]string, 0, len(c.templates))
	for owner := range c.templates {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// Render executes the first template called name found along chain.
func (c *Catalogue) Render(chain []string, name string, data any) (string, error) {
	for _, owner := range chain {
		tmpl, ok := c.templates[owner][name]
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("prompts: render %s.%s: %w", owner, name, err)
		}
		return strings.TrimSpace(buf.String()), nil
	}
	return "", fmt.Errorf("prompts: no %q prompt for %s", name, strings.Join(chain, ", "))
}

// Content renders a submission body for a prompt. Strings pass through,
// anything else is shown as indented JSON.
func Content(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
