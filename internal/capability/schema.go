// Copyright 2025 James Ross
package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON Schema used to validate capability inputs,
// outputs, and configs. The zero value (nil) accepts everything.
type Schema struct {
	raw      json.RawMessage
	compiled *gojsonschema.Schema
}

// NewSchema compiles a JSON Schema document.
func NewSchema(raw []byte) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{raw: json.RawMessage(raw), compiled: compiled}, nil
}

// MustSchema compiles a schema literal and panics on error. For
// package-level schema constants only.
func MustSchema(raw string) *Schema {
	s, err := NewSchema([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks data against the schema and returns an error listing
// every violation. A nil schema accepts any value.
func (s *Schema) Validate(data any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema violation: %s", strings.Join(msgs, "; "))
}

// Accepts reports whether data satisfies the schema.
func (s *Schema) Accepts(data any) bool {
	return s.Validate(data) == nil
}

// Raw returns the schema document as written.
func (s *Schema) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	return s.raw
}

// Describe renders the schema for inclusion in a prompt.
func (s *Schema) Describe() string {
	if s == nil || len(s.raw) == 0 {
		return "{}"
	}
	var buf strings.Builder
	if err := json.Indent(&buf, s.raw, "", "  "); err != nil {
		return string(s.raw)
	}
	return buf.String()
}
