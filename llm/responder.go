package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richinex/chatvault/model"
)

// Responder answers a conversation history with one provider.
type Responder struct {
	provider     Provider
	systemPrompt string
}

// NewResponder creates a responder. systemPrompt may be empty.
func NewResponder(provider Provider, systemPrompt string) *Responder {
	return &Responder{provider: provider, systemPrompt: systemPrompt}
}

// Provider returns the underlying provider.
func (r *Responder) Provider() Provider {
	return r.provider
}

// Reply asks the provider for the next assistant message.
func (r *Responder) Reply(ctx context.Context, history []model.HistoryEntry) (LLMResponse, error) {
	messages, err := r.messages(history)
	if err != nil {
		return LLMResponse{}, err
	}
	resp, err := r.provider.Chat(ctx, messages)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("%s: %w", r.provider.Name(), err)
	}
	return resp, nil
}

// StreamReply is Reply with each chunk handed to onChunk as it arrives. The
// returned response carries the full text.
func (r *Responder) StreamReply(ctx context.Context, history []model.HistoryEntry, onChunk func(string)) (LLMResponse, error) {
	messages, err := r.messages(history)
	if err != nil {
		return LLMResponse{}, err
	}

	chunks := make(chan string)
	var usage *TokenUsage
	var streamErr error
	go func() {
		defer close(chunks)
		usage, streamErr = r.provider.StreamChat(ctx, messages, chunks)
	}()

	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if streamErr != nil {
		return LLMResponse{Content: sb.String(), Usage: usage}, fmt.Errorf("%s: %w", r.provider.Name(), streamErr)
	}
	return LLMResponse{Content: sb.String(), Usage: usage}, nil
}

func (r *Responder) messages(history []model.HistoryEntry) ([]ChatMessage, error) {
	if len(history) == 0 {
		return nil, errors.New("conversation has no messages to reply to")
	}
	return FromHistory(r.systemPrompt, history), nil
}
