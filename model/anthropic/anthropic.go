// Package anthropic provides a model.Client backed by the Anthropic Messages
// API, including function/tool calling.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/model"
)

// Options configures the Anthropic adapter (model id, temperature, max
// tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// Provider overrides the Info provider label; the Bedrock wrapper sets
	// it to "bedrock".
	Provider string
}

// Client wraps the Anthropic Messages API behind the generic model.Client interface.
type Client struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic client using the official SDK.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewFromClient creates an adapter from an existing SDK client. Used by the
// Bedrock wrapper, which configures the client with AWS request options.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.1,
		MaxTokens:   4096,
		Provider:    "anthropic",
	}
}

// Info implements the model.Client interface.
func (c *Client) Info() model.Info {
	return model.Info{Name: string(c.opts.Model), Provider: c.opts.Provider, SupportsTools: true}
}

// Generate implements the model.Client interface. The Messages API is called
// non-streaming; the terminal chunk carries either the answer text or the
// tool-call directives.
func (c *Client) Generate(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if req.Stream {
			errCh <- fmt.Errorf("streaming not yet implemented for the anthropic adapter")
			return
		}

		params := anthropic.MessageNewParams{
			Model:       c.opts.Model,
			Messages:    buildMessages(req.Turns),
			MaxTokens:   c.opts.MaxTokens,
			Temperature: anthropic.Float(c.opts.Temperature),
		}
		if system := systemBlocks(req); len(system) > 0 {
			params.System = system
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var text string
		var calls []core.ToolCall
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.AsText().Text
			case "tool_use":
				toolBlock := block.AsToolUse()
				args, err := json.Marshal(toolBlock.Input)
				if err != nil {
					errCh <- &core.MalformedResponseError{Raw: fmt.Sprintf("%v", toolBlock.Input), Err: err}
					return
				}
				calls = append(calls, core.ToolCall{ID: toolBlock.ID, Name: toolBlock.Name, Arguments: args})
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}

		chunk := model.Chunk{Text: text, ToolCalls: calls, FinishReason: finishReason}
		if len(calls) > 0 {
			// Directive chunks carry only the calls; any accompanying
			// chain-of-thought text stays out of the answer path.
			chunk.Text = ""
		}
		chunk.Usage = &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// buildMessages converts conversation turns to Anthropic message params.
// Tool results are indexed by call id and emitted as tool_result blocks in a
// user message directly after the assistant message that issued the calls.
func buildMessages(turns []core.Turn) []anthropic.MessageParam {
	results := make(map[string]string)
	for _, t := range turns {
		if t.Role == core.RoleTool && t.CallID != "" {
			results[t.CallID] = t.Content
		}
	}

	var messages []anthropic.MessageParam
	for _, t := range turns {
		switch t.Role {
		case core.RoleSystem, core.RoleTool:
			continue // system handled separately, tool results attached below
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if t.Content != "" {
				content = append(content, anthropic.NewTextBlock(t.Content))
			}
			var resultBlocks []anthropic.ContentBlockParamUnion
			for _, tc := range t.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						input = string(tc.Arguments)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
				if resp, ok := results[tc.ID]; ok {
					resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(tc.ID, resp, false))
					delete(results, tc.ID)
				}
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
			if len(resultBlocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
			}
		default: // user and unknown roles
			if t.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
			}
		}
	}
	return messages
}

// systemBlocks gathers the request system prompt plus any pinned system turns.
func systemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.System != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.System})
	}
	for _, t := range req.Turns {
		if t.Role == core.RoleSystem && t.Content != "" && t.Content != req.System {
			blocks = append(blocks, anthropic.TextBlockParam{Text: t.Content})
		}
	}
	return blocks
}

// buildTools converts tool descriptors to the Anthropic tool format.
func buildTools(tools []core.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if td.InputSchema != nil {
			if properties, ok := td.InputSchema["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(td.InputSchema)
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        td.Name,
				Description: anthropic.String(td.Description),
				InputSchema: inputSchema,
			},
		}
	}
	return out
}

// requiredFields normalizes the schema's required list, which may arrive as
// []string (authored in Go) or []any (decoded from JSON).
func requiredFields(schema map[string]any) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []any:
		out := make([]string, 0, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
