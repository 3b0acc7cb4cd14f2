package core

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"
)

// ToolDescriptor describes one invocable remote capability: its name, the
// JSON Schema its arguments must satisfy, and a description shown to the
// model. Descriptors are immutable once discovered; the set is read-only for
// the lifetime of a session epoch.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	// Serial flags tools that are not safe for concurrent invocation; the
	// session serializes calls against them per tool name.
	Serial bool `json:"serial,omitempty"`
}

// Validate checks serialized arguments against the descriptor's schema and
// returns a *SchemaValidationError on mismatch. Dynamic, schema-free model
// output is never trusted implicitly: every dispatch passes through here.
// A nil InputSchema accepts any valid JSON object.
func (d ToolDescriptor) Validate(arguments json.RawMessage) error {
	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}
	if !json.Valid(arguments) {
		return &SchemaValidationError{Tool: d.Name, Violations: []string{"arguments are not valid JSON"}}
	}
	if d.InputSchema == nil {
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.InputSchema))
	if err != nil {
		return &SchemaValidationError{Tool: d.Name, Violations: []string{"descriptor schema does not compile: " + err.Error()}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(arguments))
	if err != nil {
		return &SchemaValidationError{Tool: d.Name, Violations: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &SchemaValidationError{Tool: d.Name, Violations: violations}
}
