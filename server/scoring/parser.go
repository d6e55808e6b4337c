package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNotObject = errors.New("top-level JSON value is not an object")

// Parse recovers a JSON object from raw model output. It tries, in order,
// the trimmed text as-is, the text with a surrounding code fence removed,
// and the span from the first '{' to the last '}'. Numbers are kept as
// json.Number so no precision is lost before normalization.
func Parse(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &EmptyResponseError{}
	}

	obj, err := decodeObject(s)
	if err == nil {
		return obj, nil
	}
	firstErr := err

	cleaned := stripCodeFence(s)
	if cleaned != s {
		if obj, err := decodeObject(cleaned); err == nil {
			return obj, nil
		}
	}

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if obj, err := decodeObject(cleaned[start : end+1]); err == nil {
			return obj, nil
		}
	}

	return nil, &MalformedResponseError{Raw: raw, Err: firstErr}
}

// decodeObject strictly decodes s as exactly one JSON object.
func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value at offset %d", dec.InputOffset())
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// stripCodeFence removes a leading ``` (with an optional language tag such
// as "json") and a trailing ```.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || isFenceTag(tag) {
			s = s[nl+1:]
		}
	} else if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isFenceTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
