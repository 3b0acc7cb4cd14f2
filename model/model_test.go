package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/retry"
)

// collect drains a generation stream into its chunks and terminal error.
func collect(t *testing.T, chunks <-chan Chunk, errs <-chan error) ([]Chunk, error) {
	t.Helper()
	var out []Chunk
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return out, <-errs
			}
			out = append(out, c)
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not terminate")
		}
	}
}

func TestMockClient_ScriptsInOrder(t *testing.T) {
	call := core.ToolCall{ID: "c1", Name: "list_contributors", Arguments: json.RawMessage(`{"repo":"R"}`)}
	m := NewMockClient(
		Script{ToolCalls: []core.ToolCall{call}},
		Script{Text: "alice and bob contributed"},
	)

	ch, errs := m.Generate(context.Background(), Request{})
	chunks, err := collect(t, ch, errs)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tool_calls", chunks[0].FinishReason)
	assert.Equal(t, "list_contributors", chunks[0].ToolCalls[0].Name)

	ch, errs = m.Generate(context.Background(), Request{})
	chunks, err = collect(t, ch, errs)
	require.NoError(t, err)
	assert.Equal(t, "alice and bob contributed", chunks[0].Text)

	ch, errs = m.Generate(context.Background(), Request{})
	_, err = collect(t, ch, errs)
	assert.Error(t, err, "exhausted script must fail")
}

func TestMockClient_StreamingEmitsPartials(t *testing.T) {
	m := NewMockClient(Script{Text: "hi"})
	ch, errs := m.Generate(context.Background(), Request{Stream: true})
	chunks, err := collect(t, ch, errs)

	require.NoError(t, err)
	require.Len(t, chunks, 3) // 'h', 'i', terminal
	assert.True(t, chunks[0].Partial)
	assert.Equal(t, "h", chunks[0].Text)
	assert.False(t, chunks[2].Partial)
}

func TestMockClient_StreamCancellable(t *testing.T) {
	m := NewMockClient(Script{Text: "a long answer that streams"})
	ctx, cancel := context.WithCancel(context.Background())

	chunks, errs := m.Generate(ctx, Request{Stream: true})
	<-chunks // consume one chunk, then stop pulling
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("producer did not observe cancellation")
	}
}

// timeoutClient simulates a backend that hangs for the first n calls.
type timeoutClient struct {
	hangs int
	calls int
}

func (c *timeoutClient) Info() Info { return Info{Name: "slow", Provider: "test"} }

func (c *timeoutClient) Generate(ctx context.Context, _ Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	c.calls++
	hang := c.calls <= c.hangs
	go func() {
		defer close(chunks)
		defer close(errs)
		if hang {
			<-ctx.Done()
			errs <- ctx.Err()
			return
		}
		chunks <- Chunk{Text: "done", FinishReason: "stop"}
	}()
	return chunks, errs
}

func TestReliableClient_RetriesTimeouts(t *testing.T) {
	inner := &timeoutClient{hangs: 2}
	c := NewReliableClient(inner, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, 20*time.Millisecond)

	ch, errs := c.Generate(context.Background(), Request{})
	chunks, err := collect(t, ch, errs)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "done", chunks[0].Text)
}

func TestReliableClient_TimeoutExhaustionSurfaces(t *testing.T) {
	inner := &timeoutClient{hangs: 10}
	c := NewReliableClient(inner, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, 20*time.Millisecond)

	ch, errs := c.Generate(context.Background(), Request{})
	_, err := collect(t, ch, errs)
	var timeout *core.ModelTimeoutError
	require.True(t, errors.As(err, &timeout), "expected ModelTimeoutError, got %v", err)
	assert.Equal(t, 2, inner.calls)
}

func TestReliableClient_MalformedNeverRetried(t *testing.T) {
	malformed := &core.MalformedResponseError{Raw: "{oops", Err: errors.New("unexpected end of JSON")}
	m := NewMockClient(Script{Err: malformed})
	c := NewReliableClient(m, retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, time.Second)

	ch, errs := c.Generate(context.Background(), Request{})
	_, err := collect(t, ch, errs)
	var got *core.MalformedResponseError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 1, m.Calls())
}

func TestReliableClient_ParentCancellationNotConverted(t *testing.T) {
	inner := &timeoutClient{hangs: 10}
	c := NewReliableClient(inner, retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs := c.Generate(ctx, Request{})
	cancel()

	_, err := collect(t, chunks, errs)
	assert.ErrorIs(t, err, context.Canceled)
}
