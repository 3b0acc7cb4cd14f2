package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/internal/util"
	"github.com/hupe1980/gitscout/logging"
	"github.com/hupe1980/gitscout/retry"
)

// Status is the lifecycle state of a Session.
type Status int

const (
	// StatusDisconnected is the initial state before Connect.
	StatusDisconnected Status = iota
	// StatusConnecting is set while the backoff ladder is being climbed.
	StatusConnecting
	// StatusReady means the handshake succeeded and Invoke may be called.
	StatusReady
	// StatusFailed means Connect exhausted its attempt cap.
	StatusFailed
	// StatusClosed means Close was called; the session is unusable.
	StatusClosed
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// SessionOptions configure a Session.
type SessionOptions struct {
	// Endpoint names the peer in errors and logs (a command line or URL).
	Endpoint string

	// ConnectPolicy drives the exponential backoff of Connect.
	ConnectPolicy retry.Policy

	// CallTimeout bounds each individual Invoke round-trip.
	CallTimeout time.Duration

	// FanOutLimit caps how many Invoke calls run against the transport at
	// once, across all callers.
	FanOutLimit int

	// SurfaceTransientToolErrors makes a transport failure that was recovered
	// by the automatic reconnect-and-retry visible in the returned result
	// instead of fully hidden.
	SurfaceTransientToolErrors bool

	// Logger receives session lifecycle and invocation records.
	Logger logging.Logger
}

// Session owns one connection to a tool server: connect with backoff,
// version handshake, concurrent-safe invocation, deterministic close.
// A Session may be shared across reasoning loops.
type Session struct {
	transport Transport
	opts      SessionOptions

	sem chan struct{}

	mu          sync.Mutex
	status      Status
	epoch       uint64
	descriptors []core.ToolDescriptor
	serial      map[string]*sync.Mutex
	reconnectMu sync.Mutex
}

// NewSession creates a session over the given transport. Connect must be
// called before Invoke.
func NewSession(transport Transport, optFns ...func(o *SessionOptions)) *Session {
	opts := SessionOptions{
		ConnectPolicy: retry.DefaultPolicy(),
		CallTimeout:   120 * time.Second,
		FanOutLimit:   4,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FanOutLimit < 1 {
		opts.FanOutLimit = 1
	}
	return &Session{
		transport: transport,
		opts:      opts,
		sem:       make(chan struct{}, opts.FanOutLimit),
		serial:    make(map[string]*sync.Mutex),
	}
}

// Connect establishes the transport and performs the capability handshake,
// retrying with exponential backoff up to the policy's attempt cap. On
// exhaustion the session ends up Failed and a *core.ConnectionError is
// returned.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return core.ErrSessionClosed
	}
	s.status = StatusConnecting
	s.mu.Unlock()

	attempts := 0
	err := retry.Do(ctx, s.opts.ConnectPolicy, func(ctx context.Context) error {
		attempts++
		return s.dial(ctx)
	}, nil)
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.mu.Unlock()
		s.opts.Logger.Error("tool server connect failed",
			"endpoint", s.opts.Endpoint, "attempts", attempts, "error", err)
		return &core.ConnectionError{Endpoint: s.opts.Endpoint, Attempts: attempts, Err: err}
	}

	s.opts.Logger.Info("tool server connected",
		"endpoint", s.opts.Endpoint, "epoch", s.Epoch(), "tools", len(s.Descriptors()))

	return nil
}

// dial performs one transport connect plus handshake and, on success,
// advances the epoch and installs the new catalog.
func (s *Session) dial(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}

	params, err := json.Marshal(HandshakeParams{Version: ProtocolVersion, Client: ClientName})
	if err != nil {
		return err
	}
	resp, err := s.transport.Call(ctx, Request{
		ID:     util.NewID(),
		Method: MethodHandshake,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	var hs HandshakeResult
	if err := decodeResult(MethodHandshake, resp, &hs); err != nil {
		return err
	}
	if err := checkVersion(hs.Version); err != nil {
		return err
	}

	s.mu.Lock()
	s.epoch++
	s.status = StatusReady
	s.descriptors = hs.Tools
	// Keep existing per-tool mutexes across reconnects so a serialized call
	// straddling a redial cannot overlap a new one.
	for _, d := range hs.Tools {
		if d.Serial {
			if _, ok := s.serial[d.Name]; !ok {
				s.serial[d.Name] = &sync.Mutex{}
			}
		}
	}
	s.mu.Unlock()

	return nil
}

// Invoke dispatches one request under the per-call timeout. A failed tool
// never returns an error: transport exhaustion and error-status responses
// both come back as an error-payload result. The returned error is non-nil
// only for caller cancellation or a closed session.
//
// On a transport failure the session reconnects and retries the call at most
// once; duplicate side effects are bounded by that single retry.
func (s *Session) Invoke(ctx context.Context, req core.InvocationRequest, creds *core.CredentialContext) (core.InvocationResult, error) {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return core.ErrorResult(req, core.ErrSessionClosed), core.ErrSessionClosed
	}
	serialMu := s.serial[req.Tool]
	s.mu.Unlock()

	// Tools flagged non-concurrent-safe run one at a time per name.
	if serialMu != nil {
		serialMu.Lock()
		defer serialMu.Unlock()
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return core.ErrorResult(req, ctx.Err()), ctx.Err()
	}

	start := time.Now()
	res, err := s.invokeOnce(ctx, req, creds)
	logging.ToolCall(s.opts.Logger, req.Tool, req.ID, time.Since(start), err)
	return res, err
}

func (s *Session) invokeOnce(ctx context.Context, req core.InvocationRequest, creds *core.CredentialContext) (core.InvocationResult, error) {
	resp, firstErr := s.call(ctx, req, creds)
	if firstErr != nil {
		if ctx.Err() != nil {
			return core.ErrorResult(req, ctx.Err()), ctx.Err()
		}

		// Transport failure: reconnect and retry exactly once.
		s.opts.Logger.Warn("tool call transport failure, reconnecting",
			"tool", req.Tool, "error", firstErr)
		if rerr := s.reconnect(ctx); rerr != nil {
			return core.ErrorResult(req, &core.ToolInvocationError{
				Tool:    req.Tool,
				Message: fmt.Sprintf("transport failed and reconnect did not recover: %v", rerr),
			}), nil
		}

		var err error
		resp, err = s.call(ctx, req, creds)
		if err != nil {
			if ctx.Err() != nil {
				return core.ErrorResult(req, ctx.Err()), ctx.Err()
			}
			return core.ErrorResult(req, &core.ToolInvocationError{
				Tool:    req.Tool,
				Message: fmt.Sprintf("transport failed twice: %v", err),
			}), nil
		}
	}

	res := core.InvocationResult{ID: req.ID, Tool: req.Tool}
	if resp.Status == "ok" {
		res.Status = core.InvocationOK
		res.Result = resp.Result
	} else {
		res.Status = core.InvocationError
		res.Error = resp.Error
	}
	if firstErr != nil && s.opts.SurfaceTransientToolErrors {
		res.TransientError = firstErr.Error()
	}
	return res, nil
}

// call sends one invoke frame under the per-call timeout. Credentials are
// exposed for this single frame only.
func (s *Session) call(ctx context.Context, req core.InvocationRequest, creds *core.CredentialContext) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	var exposed map[string]string
	if creds != nil {
		exposed = creds.Expose()
	}
	params, err := json.Marshal(InvokeParams{
		Tool:        req.Tool,
		Arguments:   req.Arguments,
		Credentials: exposed,
	})
	if err != nil {
		return nil, fmt.Errorf("encode invoke params: %w", err)
	}

	return s.transport.Call(callCtx, Request{
		ID:     req.ID,
		Method: MethodInvoke,
		Params: params,
	})
}

// reconnect re-dials once (no backoff ladder: Invoke's retry budget is a
// single attempt). Concurrent invokes that fail together share one redial.
func (s *Session) reconnect(ctx context.Context) error {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return core.ErrSessionClosed
	}
	s.mu.Unlock()

	return s.dial(ctx)
}

// Ping sends a connectivity probe and reports whether the server answered.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusReady {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("session not ready: %s", status)
	}
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	resp, err := s.transport.Call(callCtx, Request{ID: util.NewID(), Method: MethodPing})
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ping: %s", resp.Error)
	}
	return nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Epoch returns the connection epoch. It starts at zero and increments on
// every successful (re)connect; the catalog keys its cache on it.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Descriptors returns the tool descriptors delivered by the latest handshake.
func (s *Session) Descriptors() []core.ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ToolDescriptor, len(s.descriptors))
	copy(out, s.descriptors)
	return out
}

// Close releases the transport. Safe to call more than once; subsequent
// Connect and Invoke calls fail with core.ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	s.mu.Unlock()

	err := s.transport.Close()
	s.opts.Logger.Info("tool server session closed", "endpoint", s.opts.Endpoint)
	return err
}
