package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/gitscout/core"
)

// ProtocolVersion is the wire protocol version this client speaks. The
// handshake accepts any server version less than or equal to it.
const ProtocolVersion = 1

// ClientName identifies this client in the handshake frame.
const ClientName = "gitscout"

// Wire methods.
const (
	MethodHandshake = "handshake"
	MethodInvoke    = "invoke"
	MethodPing      = "ping"
)

// Request is a single newline-delimited JSON frame sent to the server.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the server's reply frame, correlated by ID.
type Response struct {
	ID     string          `json:"id"`
	Status string          `json:"status"` // "ok" or "error"
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HandshakeParams is the payload of the initial handshake frame.
type HandshakeParams struct {
	Version int    `json:"version"`
	Client  string `json:"client"`
}

// HandshakeResult carries the negotiated version and the server's tool catalog.
type HandshakeResult struct {
	Version int                   `json:"version"`
	Tools   []core.ToolDescriptor `json:"tools"`
}

// InvokeParams is the payload of a tool invocation frame. Credentials are
// exposed for this single frame only and never logged.
type InvokeParams struct {
	Tool        string            `json:"tool"`
	Arguments   json.RawMessage   `json:"arguments,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// Transport is a bidirectional request/response channel to a tool server.
// Implementations must be safe for concurrent Call use after Connect returns.
type Transport interface {
	// Connect establishes the underlying channel (spawn a subprocess, dial a
	// socket). It does not perform the handshake; the Session does.
	Connect(ctx context.Context) error

	// Call sends a frame and blocks until the correlated response arrives,
	// the context is done, or the transport fails.
	Call(ctx context.Context, req Request) (*Response, error)

	// Close tears the channel down. Safe to call more than once; pending
	// calls fail.
	Close() error
}

// checkVersion validates the server's negotiated protocol version. Servers
// newer than the client are rejected; older ones are accepted.
func checkVersion(server int) error {
	if server <= 0 || server > ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d (client speaks %d)", server, ProtocolVersion)
	}
	return nil
}

// decodeResult unmarshals an ok-status response payload into v, converting
// error-status frames into *core.ToolInvocationError up front.
func decodeResult(method string, resp *Response, v any) error {
	if resp.Status != "ok" {
		return &core.ToolInvocationError{Tool: method, Message: resp.Error}
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, v); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
