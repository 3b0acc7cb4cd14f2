package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hupe1980/gitscout/logging"
)

// WebSocketTransportOptions configure a WebSocketTransport.
type WebSocketTransportOptions struct {
	// HandshakeTimeout bounds the websocket dial itself.
	HandshakeTimeout time.Duration

	// Logger receives transport-level diagnostics. Defaults to NoOp.
	Logger logging.Logger
}

// WebSocketTransport exchanges JSON frames over a long-lived websocket
// connection. Writes are serialized by a mutex; a reader goroutine
// correlates responses to pending calls by frame id.
type WebSocketTransport struct {
	url  string
	opts WebSocketTransportOptions

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *Response
	closed  bool
}

// NewWebSocketTransport creates a transport that will dial url on Connect.
func NewWebSocketTransport(url string, optFns ...func(o *WebSocketTransportOptions)) *WebSocketTransport {
	opts := WebSocketTransportOptions{
		HandshakeTimeout: 30 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &WebSocketTransport{
		url:     url,
		opts:    opts,
		pending: make(map[string]chan *Response),
	}
}

// Connect implements the Transport interface.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.closed {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.conn = conn
	t.closed = false
	t.pending = make(map[string]chan *Response)

	go t.listen(conn)

	return nil
}

// listen reads frames until the connection drops, dispatching each to the
// pending call that issued it.
func (t *WebSocketTransport) listen(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.opts.Logger.Warn("discarding unparsable frame", "error", err)
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if ok {
			ch <- &resp
		}
	}

	t.failPending()
}

// Call implements the Transport interface.
func (t *WebSocketTransport) Call(ctx context.Context, req Request) (*Response, error) {
	ch := make(chan *Response, 1)

	t.mu.Lock()
	if t.closed || t.conn == nil {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.pending[req.ID] = ch
	err := t.conn.WriteJSON(req)
	t.mu.Unlock()

	if err != nil {
		t.drop(req.ID)
		return nil, fmt.Errorf("write frame: %w", err)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, ErrTransportClosed
		}
		return resp, nil
	case <-ctx.Done():
		t.drop(req.ID)
		return nil, ctx.Err()
	}
}

// Close implements the Transport interface.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	t.failPending()

	return nil
}

func (t *WebSocketTransport) drop(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *WebSocketTransport) failPending() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]chan *Response)
	t.closed = true
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- nil
	}
}
