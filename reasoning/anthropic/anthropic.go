// Package anthropic provides a ReasoningGateway backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/reasoning"
)

// Options configures the Anthropic gateway (model id, temperature, max
// tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Gateway wraps the Anthropic Messages API behind core.ReasoningGateway.
type Gateway struct {
	client *anthropic.Client
	opts   Options
}

// NewGateway creates a gateway using the official client.
func NewGateway(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Gateway{client: &client, opts: opts}
}

// NewGatewayFromClient creates a gateway from an existing client.
func NewGatewayFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

// Generate implements core.ReasoningGateway. The four-layer context is
// rendered into a system instruction plus the episodic exchange history;
// tool_use blocks in the reply map onto core.ToolCall values.
func (g *Gateway) Generate(ctx context.Context, rc core.Context) (core.ReasoningResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       g.opts.Model,
		Messages:    buildMessages(rc),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: anthropic.Float(g.opts.Temperature),
	}
	if sys := reasoning.SystemPrompt(rc); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ReasoningResponse{}, fmt.Errorf("%w: %v", core.ErrReasoningTimeout, err)
		}
		return core.ReasoningResponse{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var out core.ReasoningResponse
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			out.Text += textBlock.Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}

	switch string(resp.StopReason) {
	case "refusal":
		return core.ReasoningResponse{}, fmt.Errorf("%w: model refused", core.ErrReasoningRejected)
	case "max_tokens":
		out.Confidence = 0.5
	default:
		out.Confidence = 1.0
	}
	return out, nil
}

// buildMessages converts the episodic window plus the current input into
// Anthropic message params.
func buildMessages(rc core.Context) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(rc.Episodic.Recent)*2+1)
	for _, ex := range rc.Episodic.Recent {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(ex.Input)))
		if ex.Response != "" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Response)))
		}
	}
	return append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(rc.Input)))
}
