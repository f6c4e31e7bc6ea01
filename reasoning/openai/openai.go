// Package openai provides a ReasoningGateway backed by the OpenAI Chat
// Completions API (non-streaming). It renders the four-layer context into a
// system message plus the episodic exchange history.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/reasoning"
)

// Options configure the OpenAI gateway. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Gateway wraps the OpenAI Chat Completions API behind core.ReasoningGateway.
type Gateway struct {
	client *openai.Client
	opts   Options
}

// NewGateway creates a gateway using the official client.
func NewGateway(optFns ...func(o *Options)) *Gateway {
	client := openai.NewClient()
	return NewGatewayFromClient(&client, optFns...)
}

// NewGatewayFromClient creates a gateway from an existing client.
func NewGatewayFromClient(client *openai.Client, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

// Generate implements core.ReasoningGateway.
func (g *Gateway) Generate(ctx context.Context, rc core.Context) (core.ReasoningResponse, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(rc),
		Model:               g.opts.Model,
		Temperature:         openai.Float(g.opts.Temperature),
		MaxCompletionTokens: openai.Int(g.opts.MaxCompletionTokens),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ReasoningResponse{}, fmt.Errorf("%w: %v", core.ErrReasoningTimeout, err)
		}
		return core.ReasoningResponse{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.ReasoningResponse{}, fmt.Errorf("%w: no choices returned", core.ErrReasoningRejected)
	}

	ch0 := resp.Choices[0]
	out := core.ReasoningResponse{Text: ch0.Message.Content}
	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	switch ch0.FinishReason {
	case "content_filter":
		return core.ReasoningResponse{}, fmt.Errorf("%w: content filtered", core.ErrReasoningRejected)
	case "length":
		out.Confidence = 0.5
	default:
		out.Confidence = 1.0
	}
	return out, nil
}

// buildMessages converts the context into chat messages: system instruction,
// one user/assistant pair per recent exchange, then the current input.
func buildMessages(rc core.Context) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(rc.Episodic.Recent)*2+2)
	if sys := reasoning.SystemPrompt(rc); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}
	for _, ex := range rc.Episodic.Recent {
		messages = append(messages, openai.UserMessage(ex.Input))
		if ex.Response != "" {
			messages = append(messages, openai.AssistantMessage(ex.Response))
		}
	}
	return append(messages, openai.UserMessage(rc.Input))
}
