package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapProducesSingleRequiredProperty(t *testing.T) {
	doc, err := Wrap(KindVote, Document{"type": "string", "enum": []any{"yes", "no"}})
	require.NoError(t, err)
	require.Equal(t, "object", doc["type"])
	require.Equal(t, []any{"vote"}, doc["required"])
	require.Equal(t, false, doc["additionalProperties"])

	v, err := Compile(doc)
	require.NoError(t, err)
	require.NoError(t, v.Validate(map[string]any{"vote": "yes"}))

	var verr *ValidationError
	require.ErrorAs(t, v.Validate(map[string]any{"vote": "maybe"}), &verr)
	require.ErrorAs(t, v.Validate(map[string]any{"vote": "yes", "extra": 1}), &verr)
	require.ErrorAs(t, v.Validate(map[string]any{}), &verr)
}

func TestWrapRejectsUnknownKind(t *testing.T) {
	_, err := Wrap("ballot", Document{"type": "string"})
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "ballot", serr.Kind)
}

func TestWrapRejectsMalformedPayload(t *testing.T) {
	_, err := Wrap(KindSubmission, Document{"type": "objekt"})
	var serr *SchemaError
	require.True(t, errors.As(err, &serr))
}

func TestNormalizeReturnsPlainJSON(t *testing.T) {
	v := MustCompile(Document{
		"type":  "array",
		"items": map[string]any{"type": "integer"},
	})
	got, err := v.Normalize([]int{3, 1, 2})
	require.NoError(t, err)
	require.Equal(t, []any{3.0, 1.0, 2.0}, got)
}

func TestIntegerBoundsEnforced(t *testing.T) {
	doc, err := Wrap(KindVote, Document{"type": "integer", "minimum": 1, "maximum": 10})
	require.NoError(t, err)
	v := MustCompile(doc)
	require.NoError(t, v.Validate(map[string]any{"vote": 10}))
	require.Error(t, v.Validate(map[string]any{"vote": 11}))
	require.Error(t, v.Validate(map[string]any{"vote": 2.5}))
}

func TestKindsSorted(t *testing.T) {
	require.Equal(t, []string{"submission", "vote"}, Kinds())
}
