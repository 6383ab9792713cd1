package participant

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/kingrea/deliberate/internal/model"
	"github.com/kingrea/deliberate/internal/schema"
)

// TypeRandom is the factory key for schema-driven fake participants.
const TypeRandom = "random"

const (
	defaultLow      = 1
	defaultHigh     = 100
	defaultItems    = 5
	defaultTextSize = 10
)

// Generator answers every prompt with a random value that conforms to the
// requested schema. With noise > 0 it sometimes replies with text that
// contains no JSON, which exercises the corrective retry path.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	noise float64
}

// NewGenerator seeds a generator. The same seed yields the same replies
// for the same sequence of schemas.
func NewGenerator(seed uint64, noise float64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), noise: noise}
}

// NewRandom builds an Agent backed by a Generator.
func NewRandom(desc model.Descriptor, seed uint64, opts ...Option) *Agent {
	if desc.Type == "" {
		desc.Type = TypeRandom
	}
	return NewAgent(desc, NewGenerator(seed, 0), opts...)
}

func (g *Generator) Respond(ctx context.Context, _ string, doc schema.Document) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.noise > 0 && g.rng.Float64() < g.noise {
		return "I would rather not answer in JSON.", nil
	}
	return g.generate(doc)
}

// Generate returns one conforming value for doc.
func (g *Generator) Generate(doc schema.Document) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generate(doc)
}

func (g *Generator) generate(doc schema.Document) (any, error) {
	plain, err := schema.Plain(map[string]any(doc))
	if err != nil {
		return nil, err
	}
	node, _ := plain.(map[string]any)
	return g.value(node), nil
}

func (g *Generator) value(node map[string]any) any {
	if node == nil {
		return nil
	}
	if c, ok := node["const"]; ok {
		return c
	}
	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		return enum[g.rng.IntN(len(enum))]
	}
	switch typeOf(node) {
	case "boolean":
		return g.rng.IntN(2) == 1
	case "integer":
		lo, hi := intBounds(node)
		return lo + g.rng.IntN(hi-lo+1)
	case "number":
		lo, hi := intBounds(node)
		return float64(lo) + g.rng.Float64()*float64(hi-lo)
	case "string":
		return g.text(node)
	case "array":
		return g.array(node)
	case "object":
		props, _ := node["properties"].(map[string]any)
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			child, _ := props[k].(map[string]any)
			out[k] = g.value(child)
		}
		return out
	}
	return nil
}

func (g *Generator) text(node map[string]any) string {
	n := defaultTextSize
	if v, ok := numberField(node, "minLength"); ok && v > n {
		n = v
	}
	if v, ok := numberField(node, "maxLength"); ok && v < n {
		n = v
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + g.rng.IntN(26))
	}
	return string(buf)
}

func (g *Generator) array(node map[string]any) []any {
	items, _ := node["items"].(map[string]any)
	minItems, hasMin := numberField(node, "minItems")
	if !hasMin {
		minItems = 1
	}
	maxItems, hasMax := numberField(node, "maxItems")
	if !hasMax {
		maxItems = defaultItems
	}
	if maxItems < minItems {
		maxItems = minItems
	}
	unique, _ := node["uniqueItems"].(bool)
	if unique {
		if pool := candidates(items); pool != nil {
			g.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
			if maxItems > len(pool) {
				maxItems = len(pool)
			}
			return pool[:maxItems]
		}
	}
	n := minItems + g.rng.IntN(maxItems-minItems+1)
	out := make([]any, n)
	for i := range out {
		out[i] = g.value(items)
	}
	return out
}

// candidates lists every value a bounded item schema admits, or nil when
// the set is open-ended.
func candidates(items map[string]any) []any {
	if enum, ok := items["enum"].([]any); ok {
		return append([]any(nil), enum...)
	}
	if typeOf(items) != "integer" {
		return nil
	}
	lo, hi := intBounds(items)
	pool := make([]any, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		pool = append(pool, i)
	}
	return pool
}

func typeOf(node map[string]any) string {
	switch t := node["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	if _, ok := node["properties"]; ok {
		return "object"
	}
	return ""
}

func intBounds(node map[string]any) (int, int) {
	lo, hi := defaultLow, defaultHigh
	if v, ok := numberField(node, "minimum"); ok {
		lo = v
	}
	if v, ok := numberField(node, "exclusiveMinimum"); ok {
		lo = v + 1
	}
	if v, ok := numberField(node, "maximum"); ok {
		hi = v
	}
	if v, ok := numberField(node, "exclusiveMaximum"); ok {
		hi = v - 1
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func numberField(node map[string]any, key string) (int, bool) {
	f, ok := node[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
