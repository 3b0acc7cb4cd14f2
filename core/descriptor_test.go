package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contributorsDescriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        "list_contributors",
		Description: "List the contributors of a repository",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":  map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
			"required": []string{"repo"},
		},
	}
}

func TestToolDescriptor_ValidateAccepts(t *testing.T) {
	d := contributorsDescriptor()
	assert.NoError(t, d.Validate(json.RawMessage(`{"repo":"R"}`)))
	assert.NoError(t, d.Validate(json.RawMessage(`{"repo":"R","limit":10}`)))
}

func TestToolDescriptor_ValidateRejects(t *testing.T) {
	d := contributorsDescriptor()

	tests := []struct {
		name string
		args string
	}{
		{"missing required field", `{"limit":3}`},
		{"wrong type", `{"repo":42}`},
		{"not json", `{"repo":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Validate(json.RawMessage(tt.args))
			require.Error(t, err)

			var sve *SchemaValidationError
			require.True(t, errors.As(err, &sve), "expected SchemaValidationError, got %T", err)
			assert.Equal(t, "list_contributors", sve.Tool)
			assert.NotEmpty(t, sve.Violations)
		})
	}
}

func TestToolDescriptor_NilSchemaAcceptsAnything(t *testing.T) {
	d := ToolDescriptor{Name: "freeform"}
	assert.NoError(t, d.Validate(nil))
	assert.NoError(t, d.Validate(json.RawMessage(`{"anything":true}`)))
}

func TestErrorResult(t *testing.T) {
	req := InvocationRequest{ID: "call-1", Tool: "list_contributors"}
	res := ErrorResult(req, errors.New("boom"))

	assert.Equal(t, req.ID, res.ID)
	assert.Equal(t, InvocationError, res.Status)
	assert.Equal(t, "error: boom", res.Content())
}
