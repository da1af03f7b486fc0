// Package storage provides the persistence contracts for conversations and
// attachment bytes, plus the backends that satisfy them.
//
// Information Hiding:
// - Backend implementation details hidden behind MessagesBackend / FilesBackend
// - Allows swapping between memory, filesystem, SQLite, bbolt, Postgres, MongoDB without API changes
// - Every backend round-trips conversations through the shared Record codec

package storage

import (
	"context"
	"sort"
	"time"

	"github.com/richinex/chatvault/model"
)

// MessagesBackend persists whole conversations keyed by conversation ID.
type MessagesBackend interface {
	// Save upserts the full conversation. Repeated saves overwrite.
	Save(ctx context.Context, conv *model.Conversation) error

	// Get loads a conversation.
	// Returns nil, nil if the conversation doesn't exist.
	// Returns error only for storage failures, never for missing conversations.
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)

	// GetByUser returns every conversation owned by userID.
	// Returns an empty slice (not nil) when there are none.
	GetByUser(ctx context.Context, userID string) ([]*model.Conversation, error)

	// Delete removes a conversation and reports whether one existed.
	Delete(ctx context.Context, conversationID string) (bool, error)
}

// ConversationLister is implemented by backends that can page through every
// stored conversation, most recently active first.
type ConversationLister interface {
	List(ctx context.Context, limit, offset int) ([]*model.Conversation, error)
}

// FilesBackend stores attachment bytes under opaque keys.
type FilesBackend interface {
	// Upload stores data under key, overwriting any previous object.
	Upload(ctx context.Context, key string, data []byte, contentType string) error

	// Download returns the stored bytes.
	// Returns nil, false, nil if the key doesn't exist.
	Download(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes the object and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks for the object without reading it.
	Exists(ctx context.Context, key string) (bool, error)

	// SignedURL returns a time-limited retrieval URL. downloadFilename, when
	// non-empty, is suggested to the client as the saved file name.
	// Returns "", false, nil when the backend cannot sign URLs or the key is absent.
	SignedURL(ctx context.Context, key string, expiresIn time.Duration, downloadFilename string) (string, bool, error)
}

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 100

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// page slices an already ordered result set.
func page(convs []*model.Conversation, limit, offset int) []*model.Conversation {
	limit, offset = normalizePage(limit, offset)
	if offset >= len(convs) {
		return []*model.Conversation{}
	}
	end := offset + limit
	if end > len(convs) {
		end = len(convs)
	}
	return convs[offset:end]
}

// sortConversations orders by LastActive descending, then by ID.
func sortConversations(convs []*model.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i].LastActive(), convs[j].LastActive()
		if !a.Equal(b) {
			return a.After(b)
		}
		return convs[i].ID() < convs[j].ID()
	})
}
