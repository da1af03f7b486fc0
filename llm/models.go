// Package llm provides shared data models for LLM providers.
package llm

import "github.com/richinex/chatvault/model"

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// toolOutputPrefix marks stored tool output replayed as a user turn. None of
// the providers accept a bare tool message without the call that produced it.
const toolOutputPrefix = "Tool output:\n"

// FromHistory converts a conversation history into provider messages. A
// non-empty systemPrompt is placed first; system entries in the history are
// kept where they are.
func FromHistory(systemPrompt string, history []model.HistoryEntry) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, SystemMessage(systemPrompt))
	}
	for _, h := range history {
		switch h.Role {
		case model.RoleUser:
			out = append(out, UserMessage(h.Content))
		case model.RoleAssistant:
			out = append(out, AssistantMessage(h.Content))
		case model.RoleSystem:
			out = append(out, SystemMessage(h.Content))
		case model.RoleTool:
			out = append(out, UserMessage(toolOutputPrefix+h.Content))
		}
	}
	return out
}

// LLMResponse represents a response from an LLM provider.
type LLMResponse struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}
