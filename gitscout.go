// Package gitscout provides a high-level façade over the repository-research
// engine: a tool-server session, a capability catalog, a model client and a
// bounded query coordinator. Most applications interact with this package by:
//  1. Creating a GitScout via New() with a config.Config (or the defaults)
//  2. Submitting natural-language questions with Submit (or asking
//     synchronously with Ask)
//  3. Inspecting history, cancelling queries, and closing on shutdown
//
// The façade delegates query execution to coordinator.Coordinator while
// keeping setup ergonomics concise. Defaults are safe for local development;
// production deployments typically supply a structured logger and a real
// model backend.
package gitscout

import (
	"context"
	"fmt"

	"github.com/hupe1980/gitscout/config"
	"github.com/hupe1980/gitscout/coordinator"
	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/logging"
	"github.com/hupe1980/gitscout/loop"
	"github.com/hupe1980/gitscout/model"
	"github.com/hupe1980/gitscout/model/bedrock"
	"github.com/hupe1980/gitscout/toolserver"
)

// Version of the gitscout module.
const Version = "0.1.0"

// Options configure the GitScout instance.
type Options struct {
	// Config carries endpoints, timeouts, concurrency caps and retry
	// policies. Defaults to config.DefaultConfig().
	Config config.Config

	// Client overrides the model backend. When nil, a Bedrock-backed
	// Anthropic client is built from Config (region, model id, temperature,
	// max tokens).
	Client model.Client

	// Transport overrides the tool-server transport. When nil, one is built
	// from Config: ToolServerCommand spawns a stdio subprocess,
	// ToolServerURL dials a websocket.
	Transport toolserver.Transport

	// SystemPrompt overrides the pinned instruction turn. Defaults to
	// loop.DefaultSystemPrompt.
	SystemPrompt string

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// GitScout is the high-level façade aggregating session, catalog, model and
// coordinator.
type GitScout struct {
	opts    Options
	session *toolserver.Session
	catalog *toolserver.Catalog
	coord   *coordinator.Coordinator
}

// New builds and connects a GitScout instance. The tool-server connection is
// established eagerly so that misconfiguration surfaces here rather than on
// the first query.
func New(ctx context.Context, optFns ...func(o *Options)) (*GitScout, error) {
	opts := Options{
		Config:       config.DefaultConfig(),
		SystemPrompt: loop.DefaultSystemPrompt,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	transport, endpoint, err := buildTransport(opts)
	if err != nil {
		return nil, err
	}

	session := toolserver.NewSession(transport, func(o *toolserver.SessionOptions) {
		o.Endpoint = endpoint
		o.ConnectPolicy = cfg.RetryPolicy()
		o.CallTimeout = cfg.CallTimeout
		o.FanOutLimit = cfg.FanOutLimit
		o.SurfaceTransientToolErrors = cfg.SurfaceTransientToolErrors
		o.Logger = opts.Logger
	})

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := session.Connect(connectCtx); err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client, err = bedrock.New(ctx, func(o *bedrock.Options) {
			o.Region = cfg.Region
			o.Model = cfg.ModelID
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
		})
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("build model client: %w", err)
		}
	}
	client = model.NewReliableClient(client, cfg.RetryPolicy(), cfg.ModelTimeout)

	catalog := toolserver.NewCatalog(session)

	coord := coordinator.New(client, session, catalog, func(o *coordinator.Options) {
		o.MaxConcurrent = cfg.MaxConcurrentLoops
		o.QueryTimeout = cfg.QueryTimeout
		o.HistorySize = cfg.HistorySize
		o.Logger = opts.Logger
		o.LoopOptions = []func(lo *loop.Options){func(lo *loop.Options) {
			lo.SystemPrompt = opts.SystemPrompt
			lo.MaxIterations = cfg.MaxIterations
			lo.FanOutLimit = cfg.FanOutLimit
			lo.ContextBudget = cfg.ContextBudget
			lo.DrainTimeout = cfg.DrainTimeout
			lo.Logger = opts.Logger
		}}
	})

	return &GitScout{
		opts:    opts,
		session: session,
		catalog: catalog,
		coord:   coord,
	}, nil
}

func buildTransport(opts Options) (toolserver.Transport, string, error) {
	if opts.Transport != nil {
		return opts.Transport, "custom", nil
	}
	cfg := opts.Config
	switch {
	case cfg.ToolServerCommand != "":
		tr := toolserver.NewStdioTransport(cfg.ToolServerCommand, cfg.ToolServerArgs,
			func(o *toolserver.StdioTransportOptions) { o.Logger = opts.Logger })
		return tr, cfg.ToolServerCommand, nil
	case cfg.ToolServerURL != "":
		tr := toolserver.NewWebSocketTransport(cfg.ToolServerURL,
			func(o *toolserver.WebSocketTransportOptions) { o.Logger = opts.Logger })
		return tr, cfg.ToolServerURL, nil
	default:
		return nil, "", fmt.Errorf("no tool server configured: set tool_server_command or tool_server_url, or supply a Transport")
	}
}

// Submit enqueues a question asynchronously; the handle tracks its outcome.
// Credentials (e.g. a GitHub token) are owned by the query and zeroed when it
// terminates; pass nil when no credentials are needed.
func (g *GitScout) Submit(ctx context.Context, query string, creds *core.CredentialContext) (*coordinator.Handle, error) {
	return g.coord.Submit(ctx, query, creds)
}

// Ask submits a question and blocks until its outcome.
func (g *GitScout) Ask(ctx context.Context, query string, creds *core.CredentialContext) (*loop.Outcome, error) {
	h, err := g.Submit(ctx, query, creds)
	if err != nil {
		return nil, err
	}
	return h.Result(ctx)
}

// Cancel aborts a running or queued query by handle id.
func (g *GitScout) Cancel(id string) bool {
	return g.coord.Cancel(id)
}

// History returns the retained records of completed queries, oldest first.
func (g *GitScout) History() []coordinator.Record {
	return g.coord.History()
}

// Tools returns the discovered tool catalog.
func (g *GitScout) Tools(ctx context.Context) ([]core.ToolDescriptor, error) {
	return g.catalog.Discover(ctx)
}

// ToolDescriptions returns a name→description map of the catalog.
func (g *GitScout) ToolDescriptions(ctx context.Context) (map[string]string, error) {
	return g.catalog.Descriptions(ctx)
}

// Ping probes tool-server connectivity.
func (g *GitScout) Ping(ctx context.Context) error {
	return g.session.Ping(ctx)
}

// Status reports the session state and coordinator load.
func (g *GitScout) Status() (toolserver.Status, coordinator.Status) {
	return g.session.Status(), g.coord.Status()
}

// Close shuts down the coordinator and releases the tool-server session.
// Safe to call more than once.
func (g *GitScout) Close() error {
	err := g.coord.Close()
	if serr := g.session.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}
