package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/hupe1980/gitscout/logging"
)

// ErrTransportClosed is returned by Call after the transport has been closed
// or its underlying channel has failed.
var ErrTransportClosed = errors.New("toolserver: transport closed")

// maxFrameSize bounds a single newline-delimited frame. Tool results can be
// large (file contents, search hits) so this is generous.
const maxFrameSize = 16 * 1024 * 1024

// StdioTransportOptions configure a StdioTransport.
type StdioTransportOptions struct {
	// Env holds extra environment entries (KEY=VALUE) for the subprocess.
	// Secrets must not be passed here; credentials travel inside invoke
	// frames instead.
	Env []string

	// Logger receives transport-level diagnostics. Defaults to NoOp.
	Logger logging.Logger
}

// StdioTransport talks newline-delimited JSON over the stdin/stdout of a
// spawned subprocess. A reader goroutine correlates responses to pending
// calls by frame id.
type StdioTransport struct {
	command string
	args    []string
	opts    StdioTransportOptions

	// mu guards connection state and the pending map; writeMu serializes
	// stdin writes so a full pipe never stalls other callers or Close.
	mu      sync.Mutex
	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan *Response
	closed  bool
}

// NewStdioTransport creates a transport that will spawn command with args on
// Connect.
func NewStdioTransport(command string, args []string, optFns ...func(o *StdioTransportOptions)) *StdioTransport {
	opts := StdioTransportOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &StdioTransport{
		command: command,
		args:    args,
		opts:    opts,
		pending: make(map[string]chan *Response),
	}
}

// Connect implements the Transport interface. It spawns the subprocess and
// starts the response reader.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil && !t.closed {
		return nil
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	if len(t.opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), t.opts.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.closed = false
	t.pending = make(map[string]chan *Response)

	go t.listen(stdout)

	return nil
}

// listen reads frames until stdout closes, dispatching each to the pending
// call that issued it.
func (t *StdioTransport) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
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

	// Stream ended: the subprocess exited or stdout broke. Fail everything
	// still waiting.
	t.failPending()
}

// Call implements the Transport interface.
func (t *StdioTransport) Call(ctx context.Context, req Request) (*Response, error) {
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	ch := make(chan *Response, 1)

	t.mu.Lock()
	if t.closed || t.stdin == nil {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.pending[req.ID] = ch
	stdin := t.stdin
	t.mu.Unlock()

	t.writeMu.Lock()
	_, err = stdin.Write(append(frame, '\n'))
	t.writeMu.Unlock()

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

// Close implements the Transport interface. The subprocess is killed if it
// does not exit with its pipes.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	t.failPending()

	return nil
}

func (t *StdioTransport) drop(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// failPending unblocks every waiting Call with a nil response, which Call
// surfaces as ErrTransportClosed.
func (t *StdioTransport) failPending() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]chan *Response)
	t.closed = true
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- nil
	}
}
