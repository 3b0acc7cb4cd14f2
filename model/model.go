package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/gitscout/core"
)

// Request captures the normalized model input produced by the reasoning
// loop: the pinned system instruction, the full conversation so far, and the
// catalog of invocable tools.
type Request struct {
	System string                `json:"system,omitempty"`
	Turns  []core.Turn           `json:"turns"`
	Tools  []core.ToolDescriptor `json:"tools,omitempty"`
	Stream bool                  `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one element of the generation stream. Partial chunks carry text
// deltas; the terminal chunk carries either the final answer text or the
// tool-call directives the loop must dispatch, never both.
type Chunk struct {
	Partial      bool            `json:"partial"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"` // "stop", "tool_calls", "length"
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "anthropic", "bedrock", "openai", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Client is the minimal interface the reasoning loop requires to drive
// generation. The returned chunk stream is lazy, finite and non-restartable;
// both channels are closed when generation ends. Cancelling ctx aborts the
// stream mid-flight.
type Client interface {
	Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Script is one canned MockClient response: either final text, tool-call
// directives, or an error.
type Script struct {
	Text      string
	ToolCalls []core.ToolCall
	Err       error
}

// MockClient is a lightweight in-memory Client useful for tests & examples.
// Each Generate call consumes the next Script in order; calls past the end
// fail. Safe for concurrent use.
type MockClient struct {
	info    Info
	scripts []Script

	mu    sync.Mutex
	calls int
}

// NewMockClient constructs a MockClient with basic tool support enabled.
func NewMockClient(scripts ...Script) *MockClient {
	return &MockClient{
		info:    Info{Name: "mock", Provider: "mock", SupportsTools: true},
		scripts: scripts,
	}
}

// Calls returns how many times Generate has been invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Client; emits optional streaming char chunks then the
// scripted terminal chunk.
func (m *MockClient) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	respCh := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	if m.calls >= len(m.scripts) {
		m.calls++
		m.mu.Unlock()
		close(respCh)
		errCh <- fmt.Errorf("mock client exhausted after %d scripted responses", len(m.scripts))
		close(errCh)
		return respCh, errCh
	}
	script := m.scripts[m.calls]
	m.calls++
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if script.Err != nil {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
			case errCh <- script.Err:
			}
			return
		}

		if req.Stream && script.Text != "" {
			for _, r := range script.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Chunk{Partial: true, Text: string(r)}:
				}
			}
		}

		finish := "stop"
		if len(script.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Chunk{Text: script.Text, ToolCalls: script.ToolCalls, FinishReason: finish}:
		}
	}()
	return respCh, errCh
}

// Info implements the Client interface.
func (m *MockClient) Info() Info { return m.info }
