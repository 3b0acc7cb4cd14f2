package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/internal/util"
	"github.com/hupe1980/gitscout/logging"
	"github.com/hupe1980/gitscout/loop"
	"github.com/hupe1980/gitscout/model"
)

// ErrCoordinatorClosed is returned by Submit after Close.
var ErrCoordinatorClosed = errors.New("coordinator is closed")

// Options configure a Coordinator.
type Options struct {
	// MaxConcurrent bounds how many reasoning loops run at once.
	MaxConcurrent int

	// QueueSize bounds how many submitted queries may wait for a worker.
	// Submit blocks when the queue is full.
	QueueSize int

	// QueryTimeout is the overall per-query deadline, distinct from the
	// per-call timeouts inside the loop. Exceeding it cancels the loop with
	// core.ErrQueryDeadlineExceeded.
	QueryTimeout time.Duration

	// HistorySize caps the retained history; the oldest record is evicted
	// first. <= 0 disables retention.
	HistorySize int

	// LoopOptions are applied to every reasoning loop the coordinator
	// creates.
	LoopOptions []func(o *loop.Options)

	// Logger receives coordinator lifecycle records.
	Logger logging.Logger
}

// Record is one completed query in the history.
type Record struct {
	QueryID        string     `json:"query_id"`
	Query          string     `json:"query"`
	State          loop.State `json:"state"`
	Answer         string     `json:"answer,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	Iterations     int        `json:"iterations"`
	ToolCalls      int        `json:"tool_calls"`
	ToolsAvailable int        `json:"tools_available"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	CompletedAt    time.Time  `json:"completed_at"`
}

// Handle tracks one submitted query.
type Handle struct {
	ID string

	query     string
	submitted time.Time
	cancel    context.CancelFunc

	done    chan struct{}
	outcome *loop.Outcome
}

// Done is closed when the query reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the query terminates or ctx is done.
func (h *Handle) Result(ctx context.Context) (*loop.Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type task struct {
	handle *Handle
	ctx    context.Context
	creds  *core.CredentialContext
}

// Status is a point-in-time snapshot of coordinator load.
type Status struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
}

// Coordinator runs reasoning loops for submitted queries with bounded
// concurrency and FIFO dispatch.
type Coordinator struct {
	client model.Client
	tools  loop.ToolInvoker
	source loop.ToolSource
	opts   Options

	rootCtx    context.Context
	rootCancel context.CancelFunc

	queue chan *task
	wg    sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*Handle
	history []Record
	closed  bool
}

// New creates a coordinator and starts its worker pool.
func New(client model.Client, tools loop.ToolInvoker, source loop.ToolSource, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		MaxConcurrent: 4,
		QueueSize:     16,
		QueryTimeout:  10 * time.Minute,
		HistorySize:   50,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client:     client,
		tools:      tools,
		source:     source,
		opts:       opts,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		queue:      make(chan *task, opts.QueueSize),
		active:     make(map[string]*Handle),
	}

	for i := 0; i < opts.MaxConcurrent; i++ {
		c.wg.Add(1)
		go c.worker()
	}

	return c
}

// Submit enqueues a query. It blocks while the queue is full and returns as
// soon as the query is accepted; use the handle to wait for the result. The
// credential context is owned by the query from here on and zeroed when it
// terminates.
func (c *Coordinator) Submit(ctx context.Context, query string, creds *core.CredentialContext) (*Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	c.mu.Unlock()

	qctx, cancel := context.WithCancel(c.rootCtx)
	h := &Handle{
		ID:        util.NewID(),
		query:     query,
		submitted: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.active[h.ID] = h
	c.mu.Unlock()

	select {
	case c.queue <- &task{handle: h, ctx: qctx, creds: creds}:
		c.opts.Logger.Debug("query accepted", "query_id", h.ID)
		return h, nil
	case <-ctx.Done():
		cancel()
		c.detach(h.ID)
		return nil, ctx.Err()
	case <-c.rootCtx.Done():
		cancel()
		c.detach(h.ID)
		return nil, ErrCoordinatorClosed
	}
}

// Cancel aborts the query with the given handle id. It reports false when no
// such query is active.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	h, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// History returns a copy of the retained records, oldest first.
func (c *Coordinator) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.history))
	copy(out, c.history)
	return out
}

// Status reports current load.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Active:    len(c.active),
		Queued:    len(c.queue),
		Completed: len(c.history),
	}
}

// Close cancels all active queries, stops the workers and drains the queue.
// Safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.rootCancel()
	close(c.queue)
	c.wg.Wait()
	return nil
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for t := range c.queue {
		c.run(t)
	}
}

func (c *Coordinator) run(t *task) {
	h := t.handle
	defer h.cancel()

	ctx := t.ctx
	var cancel context.CancelFunc
	if c.opts.QueryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.QueryTimeout)
		defer cancel()
	}

	l := loop.New(h.ID, c.client, c.tools, c.source, c.opts.LoopOptions...)
	out := l.Run(ctx, h.query, t.creds)

	// A blown per-query deadline reads differently from a caller cancel.
	if out.State == loop.StateCancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) && t.ctx.Err() == nil {
		out.Err = core.ErrQueryDeadlineExceeded
		out.FailureReason = out.Err.Error()
	}

	toolsAvailable := 0
	if tools, err := c.source.Discover(context.Background()); err == nil {
		toolsAvailable = len(tools)
	}

	h.outcome = out
	c.record(h, out, toolsAvailable)
	c.detach(h.ID)
	close(h.done)
}

func (c *Coordinator) record(h *Handle, out *loop.Outcome, toolsAvailable int) {
	rec := Record{
		QueryID:        h.ID,
		Query:          h.query,
		State:          out.State,
		Answer:         out.Answer,
		FailureReason:  out.FailureReason,
		Iterations:     out.Iterations,
		ToolCalls:      out.ToolCalls,
		ToolsAvailable: toolsAvailable,
		SubmittedAt:    h.submitted,
		CompletedAt:    time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.HistorySize <= 0 {
		return
	}
	c.history = append(c.history, rec)
	if len(c.history) > c.opts.HistorySize {
		c.history = c.history[len(c.history)-c.opts.HistorySize:]
	}
}

func (c *Coordinator) detach(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	return fmt.Sprintf("active=%d queued=%d completed=%d", s.Active, s.Queued, s.Completed)
}
