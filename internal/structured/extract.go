package structured

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kingrea/deliberate/internal/schema"
)

var fenced = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)```")

// ExtractJSON finds the JSON document inside free-form model output. A
// fenced ```json block wins; otherwise the first balanced object or array
// that parses is returned.
func ExtractJSON(text string) (string, bool) {
	for _, match := range fenced.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(match[1])
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end := balancedEnd(text, start)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// balancedEnd returns the index closing the bracket opened at start, or -1.
func balancedEnd(text string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (open == '{' && c != '}') || (open == '[' && c != ']') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// Coerce turns a raw responder reply into plain JSON values. Strings and
// byte slices are parsed, anything else is normalized through encoding/json.
func Coerce(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("structured: empty response")
	case string:
		return decodeText(v)
	case []byte:
		return decodeText(string(v))
	case json.RawMessage:
		return decodeText(string(v))
	default:
		return schema.Plain(v)
	}
}

func decodeText(text string) (any, error) {
	payload, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("structured: no JSON found in response")
	}
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("structured: decode response: %w", err)
	}
	return decoded, nil
}
