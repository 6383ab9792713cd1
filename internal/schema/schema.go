package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Draft is the JSON Schema dialect every wrapped schema declares.
const Draft = "http://json-schema.org/draft-07/schema#"

// Registered kinds. A wrapped schema is an object with exactly one
// required property whose name is the kind.
const (
	KindSubmission = "submission"
	KindVote       = "vote"
)

var kinds = map[string]struct{}{
	KindSubmission: {},
	KindVote:       {},
}

// Document is a JSON Schema in decoded form.
type Document map[string]any

// Kinds returns the registered kinds in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for kind := range kinds {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// SchemaError reports a malformed schema or an unknown kind.
type SchemaError struct {
	Kind string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("schema: invalid schema: %v", e.Err)
	}
	return fmt.Sprintf("schema: invalid %s schema: %v", e.Kind, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ValidationError reports a value that does not satisfy a compiled schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: value rejected: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Wrap encloses payload as the single required property named kind.
// The result is itself checked against the draft-07 meta-schema.
func Wrap(kind string, payload Document) (Document, error) {
	if _, ok := kinds[kind]; !ok {
		return nil, &SchemaError{Kind: kind, Err: fmt.Errorf("unknown kind %q", kind)}
	}
	if payload == nil {
		return nil, &SchemaError{Kind: kind, Err: fmt.Errorf("payload schema is required")}
	}
	doc := Document{
		"$schema": Draft,
		"type":    "object",
		"properties": map[string]any{
			kind: map[string]any(payload),
		},
		"required":             []any{kind},
		"additionalProperties": false,
	}
	if err := Validate(doc); err != nil {
		return nil, &SchemaError{Kind: kind, Err: err}
	}
	return doc, nil
}

// Validate confirms doc is a well-formed draft-07 schema.
func Validate(doc Document) error {
	_, err := Compile(doc)
	return err
}

// Validator is a compiled schema ready to check values.
type Validator struct {
	doc      Document
	compiled *jsonschema.Schema
}

const resourceName = "schema.json"

// Compile parses doc into a reusable Validator.
func Compile(doc Document) (*Validator, error) {
	if doc == nil {
		return nil, &SchemaError{Err: fmt.Errorf("schema is empty")}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &SchemaError{Err: err}
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, &SchemaError{Err: err}
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, &SchemaError{Err: err}
	}
	return &Validator{doc: doc, compiled: compiled}, nil
}

// MustCompile panics when doc does not compile.
func MustCompile(doc Document) *Validator {
	v, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return v
}

// Document returns the schema the validator was compiled from.
func (v *Validator) Document() Document {
	if v == nil {
		return nil
	}
	return v.doc
}

// Validate checks value against the compiled schema.
func (v *Validator) Validate(value any) error {
	_, err := v.Normalize(value)
	return err
}

// Normalize validates value and returns it in its plain JSON form:
// numbers become float64, arrays []any and objects map[string]any.
func (v *Validator) Normalize(value any) (any, error) {
	if v == nil || v.compiled == nil {
		return nil, &ValidationError{Err: fmt.Errorf("no schema")}
	}
	decoded, err := Plain(value)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	if err := v.compiled.Validate(decoded); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return decoded, nil
}

// Plain converts value to the representation encoding/json decodes into.
func Plain(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return decoded, nil
}

// Pretty renders doc as indented JSON for inclusion in prompts.
func Pretty(doc Document) string {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
