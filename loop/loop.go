package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/internal/util"
	"github.com/hupe1980/gitscout/logging"
	"github.com/hupe1980/gitscout/model"
)

// DefaultSystemPrompt is the pinned instruction turn for repository research.
const DefaultSystemPrompt = `You are a Git Repository Research assistant with access to comprehensive repository analysis tools.

Use the available tools to:
- Analyze Git repositories and their structure
- Research code patterns, dependencies, and architecture
- Examine commit history, contributors, and development patterns
- Investigate issues, pull requests, and project documentation
- Provide insights on code quality, security, and best practices
- Compare repositories and analyze trends

When analyzing repositories:
1. Always provide clear, actionable insights
2. Use multiple tools to get comprehensive information
3. Explain technical concepts in an accessible way
4. Highlight important findings and potential issues
5. Suggest improvements or next steps when appropriate

Provide accurate analysis based on the repository data and research tools available.`

// ToolInvoker dispatches one tool invocation. *toolserver.Session satisfies
// it; Invoke must be safe for concurrent callers.
type ToolInvoker interface {
	Invoke(ctx context.Context, req core.InvocationRequest, creds *core.CredentialContext) (core.InvocationResult, error)
}

// ToolSource provides the tool catalog. *toolserver.Catalog satisfies it.
type ToolSource interface {
	Discover(ctx context.Context) ([]core.ToolDescriptor, error)
}

// Options configure a Loop.
type Options struct {
	// SystemPrompt is appended as a pinned turn that truncation never evicts.
	SystemPrompt string

	// MaxIterations caps the number of model generations per query. Reaching
	// the cap fails the query with ErrLoopLimitExceeded.
	MaxIterations int

	// FanOutLimit bounds how many tool calls from one model turn run
	// concurrently.
	FanOutLimit int

	// ContextBudget is the conversation truncation budget in estimated
	// tokens. <= 0 disables truncation.
	ContextBudget int

	// DrainTimeout is how long in-flight tool calls may finish after
	// cancellation before their results are discarded.
	DrainTimeout time.Duration

	// OnPartial, when set, receives streamed text deltas as the model
	// produces them and enables streaming generation.
	OnPartial func(text string)

	// Logger receives loop lifecycle records.
	Logger logging.Logger
}

// Outcome is the terminal record of one query.
type Outcome struct {
	QueryID       string
	State         State
	Answer        string
	FailureReason string
	Err           error
	Transcript    []core.Turn
	Iterations    int
	ToolCalls     int
}

// Loop drives one query's reason/act/observe cycle. Create one per query
// with New and run it once.
type Loop struct {
	id     string
	client model.Client
	tools  ToolInvoker
	source ToolSource
	opts   Options

	mu         sync.Mutex
	state      State
	iterations int
}

// New creates a reasoning loop for a single query.
func New(id string, client model.Client, tools ToolInvoker, source ToolSource, optFns ...func(o *Options)) *Loop {
	opts := Options{
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: 10,
		FanOutLimit:   4,
		DrainTimeout:  5 * time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FanOutLimit < 1 {
		opts.FanOutLimit = 1
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	return &Loop{
		id:     id,
		client: client,
		tools:  tools,
		source: source,
		opts:   opts,
		state:  StateIdle,
	}
}

// State returns the current phase of the loop.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Iterations returns the number of model generations so far.
func (l *Loop) Iterations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iterations
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run executes the query to a terminal state. The outcome always carries the
// transcript accumulated so far, even on failure or cancellation. Credentials
// are zeroed and the conversation sealed on every exit path.
func (l *Loop) Run(ctx context.Context, query string, creds *core.CredentialContext) *Outcome {
	start := time.Now()
	conv := core.NewConversation(l.opts.ContextBudget)
	toolCalls := 0

	finish := func(state State, answer string, err error) *Outcome {
		l.setState(state)
		conv.Seal()
		if creds != nil {
			creds.Zero()
		}
		out := &Outcome{
			QueryID:    l.id,
			State:      state,
			Answer:     answer,
			Err:        err,
			Transcript: conv.Turns(),
			Iterations: l.Iterations(),
			ToolCalls:  toolCalls,
		}
		if err != nil {
			out.FailureReason = err.Error()
		}
		logging.Query(l.opts.Logger, l.id, state.String(), out.Iterations, time.Since(start))
		return out
	}

	conv.Append(core.NewSystemTurn(l.opts.SystemPrompt))
	conv.Append(core.NewUserTurn(query))

	descriptors, err := l.source.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return finish(StateCancelled, "", ctx.Err())
		}
		return finish(StateFailed, "", fmt.Errorf("tool discovery: %w", err))
	}
	byName := make(map[string]core.ToolDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	malformedRetried := false

	for iter := 1; iter <= l.opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return finish(StateCancelled, "", ctx.Err())
		}

		l.mu.Lock()
		l.iterations = iter
		l.state = StateAwaitingModel
		l.mu.Unlock()

		chunk, err := l.generate(ctx, conv, descriptors)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateCancelled, "", ctx.Err())
			}
			var malformed *core.MalformedResponseError
			if errors.As(err, &malformed) && !malformedRetried {
				// One corrective turn; a second malformed response fails the
				// query.
				malformedRetried = true
				conv.Append(core.NewUserTurn(fmt.Sprintf(
					"Your previous response could not be parsed (%v). Answer again, either with plain text or with well-formed tool calls.", malformed.Err)))
				continue
			}
			return finish(StateFailed, "", err)
		}

		if len(chunk.ToolCalls) == 0 {
			conv.Append(core.NewAssistantTurn(chunk.Text))
			return finish(StateFinished, chunk.Text, nil)
		}

		l.setState(StateToolCallRequested)
		for i := range chunk.ToolCalls {
			// Some backends omit call ids; pairing still needs one.
			if chunk.ToolCalls[i].ID == "" {
				chunk.ToolCalls[i].ID = util.NewCallID()
			}
		}
		conv.Append(core.NewAssistantTurn(chunk.Text, chunk.ToolCalls...))
		toolCalls += len(chunk.ToolCalls)

		l.setState(StateAwaitingTool)
		results, err := l.dispatch(ctx, chunk.ToolCalls, byName, creds)

		// Every request id gets exactly one result turn before the next
		// model call. On cancellation, dispatch returns only the results
		// that completed in time; those still make the transcript.
		for _, res := range results {
			content := res.Content()
			if res.TransientError != "" {
				content = fmt.Sprintf("[transient transport failure, call was retried: %s]\n%s",
					res.TransientError, content)
			}
			conv.Append(core.NewToolTurn(res.ID, content))
		}
		if err != nil {
			return finish(StateCancelled, "", err)
		}
	}

	return finish(StateFailed, "", core.ErrLoopLimitExceeded)
}

// generate runs one model call and consumes its stream until the terminal
// chunk arrives.
func (l *Loop) generate(ctx context.Context, conv *core.Conversation, descriptors []core.ToolDescriptor) (*model.Chunk, error) {
	req := model.Request{
		System: l.opts.SystemPrompt,
		Turns:  conv.Turns(),
		Tools:  descriptors,
		Stream: l.opts.OnPartial != nil,
	}

	start := time.Now()
	chunks, errs := l.client.Generate(ctx, req)

	var final *model.Chunk
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Both channels close together; a buffered error beats a
				// missing terminal chunk.
				select {
				case err := <-errs:
					if err != nil {
						logging.ModelCall(l.opts.Logger, l.client.Info().Provider, l.client.Info().Name, time.Since(start), err)
						return nil, err
					}
				default:
				}
				if final == nil {
					err := fmt.Errorf("model stream ended without a terminal chunk")
					logging.ModelCall(l.opts.Logger, l.client.Info().Provider, l.client.Info().Name, time.Since(start), err)
					return nil, &core.MalformedResponseError{Err: err}
				}
				logging.ModelCall(l.opts.Logger, l.client.Info().Provider, l.client.Info().Name, time.Since(start), nil)
				return final, nil
			}
			if chunk.Partial {
				if l.opts.OnPartial != nil {
					l.opts.OnPartial(chunk.Text)
				}
				continue
			}
			c := chunk
			final = &c
		case err := <-errs:
			if err != nil {
				logging.ModelCall(l.opts.Logger, l.client.Info().Provider, l.client.Info().Name, time.Since(start), err)
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dispatch validates and executes the tool calls of one model turn with
// bounded fan-out. Invalid calls (unknown tool, schema mismatch) are answered
// locally with error results and never reach the transport. The only error
// returned is cancellation; alongside it, dispatch still returns the results
// that completed before the drain deadline, in call order. Calls still in
// flight at the deadline are discarded.
func (l *Loop) dispatch(ctx context.Context, calls []core.ToolCall, byName map[string]core.ToolDescriptor, creds *core.CredentialContext) ([]core.InvocationResult, error) {
	results := make([]core.InvocationResult, len(calls))
	completed := make([]atomic.Bool, len(calls))
	sem := make(chan struct{}, l.opts.FanOutLimit)
	var wg sync.WaitGroup

	for i, call := range calls {
		req := core.InvocationRequest{ID: call.ID, Tool: call.Name, Arguments: call.Arguments}

		td, known := byName[call.Name]
		if !known {
			results[i] = core.ErrorResult(req, &core.SchemaValidationError{
				Tool:       call.Name,
				Violations: []string{"tool not present in the discovered catalog"},
			})
			completed[i].Store(true)
			continue
		}
		if err := td.Validate(call.Arguments); err != nil {
			results[i] = core.ErrorResult(req, err)
			completed[i].Store(true)
			continue
		}

		wg.Add(1)
		go func(i int, req core.InvocationRequest) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			res, err := l.tools.Invoke(ctx, req, creds)
			if err != nil {
				// Cancelled in flight: the call produced nothing worth a
				// transcript turn.
				if ctx.Err() != nil {
					return
				}
				res = core.ErrorResult(req, err)
			}
			results[i] = res
			completed[i].Store(true)
		}(i, req)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if ctx.Err() != nil {
			return completedOf(results, completed), ctx.Err()
		}
		return results, nil
	case <-ctx.Done():
		// Let in-flight calls drain briefly; whatever finishes inside the
		// window still counts.
		select {
		case <-done:
		case <-time.After(l.opts.DrainTimeout):
			l.opts.Logger.Warn("discarding in-flight tool results after drain window",
				"query_id", l.id, "drain_timeout", l.opts.DrainTimeout)
		}
		return completedOf(results, completed), ctx.Err()
	}
}

// completedOf filters results down to the entries whose calls finished. The
// atomic flag is the publication point for the matching result entry.
func completedOf(results []core.InvocationResult, completed []atomic.Bool) []core.InvocationResult {
	out := make([]core.InvocationResult, 0, len(results))
	for i := range results {
		if completed[i].Load() {
			out = append(out, results[i])
		}
	}
	return out
}
