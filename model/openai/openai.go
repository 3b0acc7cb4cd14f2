// Package openai provides a model.Client backed by the OpenAI Chat
// Completions API (streaming + function/tool calling). It adapts gitscout's
// conversation turns into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/model"
	"github.com/openai/openai-go"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete directives when the finish reason is
// emitted. Internal helper (unexported).
type aggCall struct{ id, name, args string }

// Options configure the OpenAI adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Client wraps the OpenAI Chat Completions API behind the generic model.Client interface.
type Client struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI client using the official SDK (API key from env).
func New(optFns ...func(o *Options)) *Client {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new adapter from an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.1,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// Info implements the model.Client interface.
func (c *Client) Info() model.Info {
	return model.Info{Name: c.opts.Model, Provider: "openai", SupportsTools: true}
}

// Generate implements the model.Client interface.
func (c *Client) Generate(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := c.buildParams(req)
		if req.Stream {
			c.handleStreaming(ctx, params, out, errCh)
			return
		}
		c.handleNonStreaming(ctx, params, out, errCh)
	}()

	return out, errCh
}

// buildMessages converts conversation turns into OpenAI chat messages,
// attaching tool result messages directly after the assistant message that
// issued the calls.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	results := make(map[string]string)
	for _, t := range req.Turns {
		if t.Role == core.RoleTool && t.CallID != "" {
			results[t.CallID] = t.Content
		}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, t := range req.Turns {
		switch t.Role {
		case core.RoleTool:
			continue
		case core.RoleSystem:
			if t.Content != "" && t.Content != req.System {
				messages = append(messages, openai.SystemMessage(t.Content))
			}
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case core.RoleAssistant:
			if len(t.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(t.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(t.ToolCalls))
			for i, tc := range t.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
			for _, tc := range t.ToolCalls {
				if resp, ok := results[tc.ID]; ok {
					messages = append(messages, openai.ToolMessage(resp, tc.ID))
					delete(results, tc.ID)
				}
			}
		default:
			if t.Content != "" {
				messages = append(messages, openai.UserMessage(t.Content))
			}
		}
	}
	return messages
}

// buildParams assembles the request parameters including tool definitions.
func (c *Client) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, td := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        td.Name,
				Description: openai.String(td.Description),
				Parameters:  td.InputSchema,
			},
		}
	}
	params.Tools = tools
	return params
}

// toolCallsFromAgg finalizes aggregated streaming deltas into directives,
// rejecting unparseable argument payloads.
func toolCallsFromAgg(agg map[int64]*aggCall) ([]core.ToolCall, error) {
	calls := make([]core.ToolCall, 0, len(agg))
	for _, ac := range agg {
		args := ac.args
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, &core.MalformedResponseError{Raw: args, Err: fmt.Errorf("tool call arguments are not valid JSON")}
		}
		calls = append(calls, core.ToolCall{ID: ac.id, Name: ac.name, Arguments: json.RawMessage(args)})
	}
	return calls, nil
}

// handleStreaming processes streaming responses and forwards partial / final chunks.
func (c *Client) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Chunk,
	errCh chan<- error,
) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	var text string
	agg := map[int64]*aggCall{}

	for stream.Next() {
		ck := stream.Current()
		for _, choice := range ck.Choices {
			if choice.Delta.Content != "" {
				text += choice.Delta.Content
				select {
				case out <- model.Chunk{Partial: true, Text: choice.Delta.Content}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				ac, ok := agg[tc.Index]
				if !ok {
					ac = &aggCall{}
					agg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if choice.FinishReason != "" {
				calls, err := toolCallsFromAgg(agg)
				if err != nil {
					errCh <- err
					return
				}
				chunk := model.Chunk{Text: text, ToolCalls: calls, FinishReason: choice.FinishReason}
				if len(calls) > 0 {
					chunk.Text = ""
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					errCh <- ctx.Err()
				}
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
	}
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (c *Client) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Chunk,
	errCh chan<- error,
) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- &core.MalformedResponseError{Raw: "", Err: fmt.Errorf("completion carried no choices")}
		return
	}

	choice := resp.Choices[0]
	var calls []core.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			errCh <- &core.MalformedResponseError{Raw: args, Err: fmt.Errorf("tool call arguments are not valid JSON")}
			return
		}
		calls = append(calls, core.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args)})
	}

	chunk := model.Chunk{
		Text:         choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: string(choice.FinishReason),
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(calls) > 0 {
		chunk.Text = ""
	}

	select {
	case out <- chunk:
	case <-ctx.Done():
		errCh <- ctx.Err()
	}
}
