package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/kaptinlin/jsonschema"
)

// ParseObject extracts a JSON object from model output. Markdown fences and
// surrounding prose are stripped; malformed JSON goes through jsonrepair.
func ParseObject(text string) (map[string]any, error) {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return nil, &ParseError{Raw: text, Err: errors.New("empty output")}
	}
	if obj, err := decodeObject(text); err == nil {
		return obj, nil
	}

	candidate := text
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate = text[start : end+1]
		if obj, err := decodeObject(candidate); err == nil {
			return obj, nil
		}
	} else if start >= 0 {
		candidate = text[start:]
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, &ParseError{Raw: text, Err: fmt.Errorf("repair: %w", err)}
	}
	obj, err := decodeObject(repaired)
	if err != nil {
		return nil, &ParseError{Raw: text, Err: err}
	}
	return obj, nil
}

func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var compiled sync.Map // schema JSON -> *jsonschema.Schema

// Validate checks obj against schema. A nil schema accepts anything.
func Validate(schema Schema, obj map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)
	var s *jsonschema.Schema
	if v, ok := compiled.Load(key); ok {
		s = v.(*jsonschema.Schema)
	} else {
		s, err = jsonschema.NewCompiler().Compile(raw)
		if err != nil {
			return fmt.Errorf("compile schema: %w", err)
		}
		compiled.Store(key, s)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return &ParseError{Err: fmt.Errorf("marshal output: %w", err)}
	}
	result := s.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return &ParseError{Raw: string(data), Err: fmt.Errorf("schema validation failed: %v", result.Errors)}
}
