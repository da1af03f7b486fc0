// Package llm answers a stored conversation with a chat model.
//
// Information Hiding:
// - Vendor SDKs and their request shapes stay inside one file each
// - Where a vendor wants the system prompt (a field, a config, a message)
// - How usage is reported while streaming

package llm

import (
	"context"
)

// Provider sends a replayed conversation to one vendor and returns the next
// assistant turn.
type Provider interface {
	// Name is the vendor key recorded in message metadata.
	Name() string

	// Model is the model ID recorded in message metadata.
	Model() string

	Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error)

	// StreamChat sends text deltas to chunks as they arrive and returns
	// usage when the vendor reports it. It does not close chunks.
	StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error)
}
