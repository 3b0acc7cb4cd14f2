package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/toolserver"
)

// ErrInjected is the transport failure produced by FailConnects and
// FailCalls.
var ErrInjected = errors.New("testutil: injected transport failure")

// ToolHandler produces the result payload for one scripted tool invocation.
// Returning an error yields an error-status response frame.
type ToolHandler func(args json.RawMessage, creds map[string]string) (any, error)

// ScriptedTransport is an in-memory toolserver.Transport. It answers
// handshakes with a canned catalog and routes invoke frames to registered
// handlers. Counters and failure injection let tests exercise the backoff
// and reconnect paths deterministically.
type ScriptedTransport struct {
	mu sync.Mutex

	version  int
	tools    []core.ToolDescriptor
	handlers map[string]ToolHandler

	connected    bool
	closed       bool
	failConnects int
	failCalls    int

	connects int
	calls    map[string]int // method or tool name → count
}

// NewScriptedTransport creates a transport that serves the given catalog.
func NewScriptedTransport(tools ...core.ToolDescriptor) *ScriptedTransport {
	return &ScriptedTransport{
		version:  toolserver.ProtocolVersion,
		tools:    tools,
		handlers: make(map[string]ToolHandler),
		calls:    make(map[string]int),
	}
}

// Handle registers the handler answering invocations of the named tool.
func (t *ScriptedTransport) Handle(tool string, h ToolHandler) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[tool] = h
	return t
}

// ServeVersion overrides the protocol version reported by the handshake.
func (t *ScriptedTransport) ServeVersion(v int) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.version = v
	return t
}

// FailConnects makes the next n Connect calls fail with ErrInjected.
func (t *ScriptedTransport) FailConnects(n int) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failConnects = n
	return t
}

// FailCalls makes the next n Call frames fail with ErrInjected, simulating a
// broken channel.
func (t *ScriptedTransport) FailCalls(n int) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCalls = n
	return t
}

// Connects reports how many Connect attempts were made.
func (t *ScriptedTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Calls reports how many frames were dispatched for the given method or tool
// name ("handshake", "ping", or a tool).
func (t *ScriptedTransport) Calls(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[name]
}

// Closed reports whether Close was called.
func (t *ScriptedTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Connect implements the toolserver.Transport interface.
func (t *ScriptedTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.failConnects > 0 {
		t.failConnects--
		return ErrInjected
	}
	t.connected = true
	t.closed = false
	return nil
}

// Call implements the toolserver.Transport interface.
func (t *ScriptedTransport) Call(ctx context.Context, req toolserver.Request) (*toolserver.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if !t.connected || t.closed {
		t.mu.Unlock()
		return nil, toolserver.ErrTransportClosed
	}
	if t.failCalls > 0 {
		t.failCalls--
		t.connected = false
		t.mu.Unlock()
		return nil, ErrInjected
	}

	switch req.Method {
	case toolserver.MethodHandshake:
		t.calls[toolserver.MethodHandshake]++
		version := t.version
		tools := append([]core.ToolDescriptor(nil), t.tools...)
		t.mu.Unlock()
		return okResponse(req.ID, toolserver.HandshakeResult{Version: version, Tools: tools})

	case toolserver.MethodPing:
		t.calls[toolserver.MethodPing]++
		t.mu.Unlock()
		return &toolserver.Response{ID: req.ID, Status: "ok"}, nil

	case toolserver.MethodInvoke:
		var params toolserver.InvokeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.mu.Unlock()
			return nil, fmt.Errorf("decode invoke params: %w", err)
		}
		t.calls[params.Tool]++
		handler := t.handlers[params.Tool]
		t.mu.Unlock()

		if handler == nil {
			return &toolserver.Response{
				ID:     req.ID,
				Status: "error",
				Error:  fmt.Sprintf("unknown tool %q", params.Tool),
			}, nil
		}
		result, err := handler(params.Arguments, params.Credentials)
		if err != nil {
			return &toolserver.Response{ID: req.ID, Status: "error", Error: err.Error()}, nil
		}
		return okResponse(req.ID, result)

	default:
		t.mu.Unlock()
		return &toolserver.Response{
			ID:     req.ID,
			Status: "error",
			Error:  fmt.Sprintf("unknown method %q", req.Method),
		}, nil
	}
}

// Close implements the toolserver.Transport interface.
func (t *ScriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.connected = false
	return nil
}

func okResponse(id string, result any) (*toolserver.Response, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &toolserver.Response{ID: id, Status: "ok", Result: payload}, nil
}
