// Claude replies through the Messages API.
//
// Information Hiding:
// - System turns merged into the request's system field
// - Content blocks flattened to plain text
// - Input and output token counts arriving in separate stream events

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider answers conversations with a Claude model.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider builds a Claude provider. opts reach the SDK client,
// which is how tests point it at a local server.
func NewAnthropicProvider(apiKey, model string, maxTokens uint32, temperature float32, opts ...option.RequestOption) *AnthropicProvider {
	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{
		client:      anthropic.NewClient(clientOpts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: float64(temperature),
	}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// Chat returns the whole reply at once.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	reply, err := p.client.Messages.New(ctx, p.request(messages))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range reply.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	return LLMResponse{
		Content: text.String(),
		Usage:   claudeUsage(reply.Usage.InputTokens, reply.Usage.OutputTokens),
	}, nil
}

// StreamChat forwards text deltas to chunks.
func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.request(messages))

	var in, out int64
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			in = ev.Message.Usage.InputTokens
		case anthropic.MessageDeltaEvent:
			out = ev.Usage.OutputTokens
		case anthropic.ContentBlockDeltaEvent:
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			select {
			case chunks <- delta.Text:
			case <-ctx.Done():
				return claudeUsage(in, out), ctx.Err()
			}
		}
	}
	if err := stream.Err(); err != nil {
		return claudeUsage(in, out), fmt.Errorf("stream error: %w", err)
	}
	return claudeUsage(in, out), nil
}

func (p *AnthropicProvider) request(messages []ChatMessage) anthropic.MessageNewParams {
	turns, system := anthropicTurns(messages)
	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    turns,
		Temperature: anthropic.Float(p.temperature),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return req
}

// anthropicTurns splits system text from the user/assistant turns. System
// entries anywhere in the conversation are joined in order.
func anthropicTurns(messages []ChatMessage) ([]anthropic.MessageParam, string) {
	var turns []anthropic.MessageParam
	var system []string
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user":
			turns = append(turns, anthropic.NewUserMessage(block))
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(block))
		}
	}
	return turns, strings.Join(system, "\n\n")
}

// claudeUsage returns nil when the API reported no tokens at all.
func claudeUsage(in, out int64) *TokenUsage {
	if in == 0 && out == 0 {
		return nil
	}
	return &TokenUsage{
		PromptTokens:     uint32(in),
		CompletionTokens: uint32(out),
		TotalTokens:      uint32(in + out),
	}
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
