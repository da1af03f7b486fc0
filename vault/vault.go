// Package vault provides the ChatVault facade: conversations, their messages
// and their file attachments over a pluggable pair of storage backends.
//
// Information Hiding:
// - Storage key layout for attachment bytes hidden from callers
// - Backend choice hidden behind storage.MessagesBackend / storage.FilesBackend
// - Every mutation through a Conversation handle is persisted before it returns
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/chatvault/model"
	"github.com/richinex/chatvault/storage"
)

// MetadataArchived is the conversation metadata key set by ArchiveConversation.
const MetadataArchived = "archived"

// ErrListUnsupported is returned by ListConversations when the messages
// backend cannot page through conversations.
var ErrListUnsupported = errors.New("messages backend does not support listing")

// ChatVault ties a messages backend and a files backend together.
// It is safe for concurrent use if both backends are; individual
// Conversation handles are not.
type ChatVault struct {
	messages storage.MessagesBackend
	files    storage.FilesBackend
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a ChatVault.
type Option func(*ChatVault)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(v *ChatVault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *ChatVault) {
		if now != nil {
			v.now = now
		}
	}
}

// WithIDGenerator replaces uuid.NewString for conversation IDs.
func WithIDGenerator(newID func() string) Option {
	return func(v *ChatVault) {
		if newID != nil {
			v.newID = newID
		}
	}
}

// New creates a ChatVault over the given backends.
func New(messages storage.MessagesBackend, files storage.FilesBackend, opts ...Option) *ChatVault {
	v := &ChatVault{
		messages: messages,
		files:    files,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Messages returns the messages backend.
func (v *ChatVault) Messages() storage.MessagesBackend {
	return v.messages
}

// Files returns the files backend.
func (v *ChatVault) Files() storage.FilesBackend {
	return v.files
}

// CreateConversation creates and persists a new conversation. An empty userID
// creates an anonymous conversation.
func (v *ChatVault) CreateConversation(ctx context.Context, userID string, metadata map[string]any) (*Conversation, error) {
	if userID != "" {
		if err := model.ValidateUserID(userID); err != nil {
			return nil, err
		}
	}
	conv, err := model.NewConversation(v.newID(), userID, v.now())
	if err != nil {
		return nil, err
	}
	for k, val := range metadata {
		if err := conv.SetMetadata(k, val); err != nil {
			return nil, err
		}
	}

	if err := v.messages.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save new conversation: %w", err)
	}
	v.logger.Debug("conversation created", "conversation_id", conv.ID(), "user_id", userID)
	return v.bind(conv), nil
}

// GetConversation loads a conversation.
// Returns nil, nil if it doesn't exist.
func (v *ChatVault) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, model.Invalid("conversation_id", "must not be empty")
	}
	conv, err := v.messages.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, nil
	}
	return v.bind(conv), nil
}

// GetConversations returns every conversation owned by userID, in the order
// the backend reports them.
func (v *ChatVault) GetConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	if userID == "" {
		return nil, model.Invalid("user_id", "must not be empty")
	}
	convs, err := v.messages.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return v.bindAll(convs), nil
}

// ListConversations pages through every conversation, most recently active
// first. The messages backend must implement storage.ConversationLister.
func (v *ChatVault) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	lister, ok := v.messages.(storage.ConversationLister)
	if !ok {
		return nil, ErrListUnsupported
	}
	convs, err := lister.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return v.bindAll(convs), nil
}

// DeleteConversation removes the conversation record. Attachment bytes stay
// in the files backend; use PurgeConversation to remove them too.
func (v *ChatVault) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, model.Invalid("conversation_id", "must not be empty")
	}
	existed, err := v.messages.Delete(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	v.logger.Debug("conversation deleted", "conversation_id", conversationID, "existed", existed)
	return existed, nil
}

// PurgeConversation deletes every attachment's bytes, then the record. If a
// byte delete fails the record is kept so the purge can be retried.
func (v *ChatVault) PurgeConversation(ctx context.Context, conversationID string) (bool, error) {
	c, err := v.GetConversation(ctx, conversationID)
	if err != nil || c == nil {
		return false, err
	}
	for _, f := range c.conv.Attachments() {
		if _, err := v.files.Delete(ctx, f.StorageKey); err != nil {
			return false, fmt.Errorf("failed to delete attachment %q: %w", f.Filename, err)
		}
	}
	existed, err := v.messages.Delete(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	v.logger.Debug("conversation purged",
		"conversation_id", conversationID,
		"attachments", len(c.conv.Attachments()))
	return existed, nil
}

// ArchiveConversation marks the conversation archived in its metadata.
// Returns false if it doesn't exist.
func (v *ChatVault) ArchiveConversation(ctx context.Context, conversationID string) (bool, error) {
	c, err := v.GetConversation(ctx, conversationID)
	if err != nil || c == nil {
		return false, err
	}
	if err := c.SetMetadata(ctx, MetadataArchived, true); err != nil {
		return false, err
	}
	v.logger.Debug("conversation archived", "conversation_id", conversationID)
	return true, nil
}

func (v *ChatVault) bind(conv *model.Conversation) *Conversation {
	return &Conversation{vault: v, conv: conv}
}

func (v *ChatVault) bindAll(convs []*model.Conversation) []*Conversation {
	out := make([]*Conversation, 0, len(convs))
	for _, conv := range convs {
		out = append(out, v.bind(conv))
	}
	return out
}

// StorageKey returns where the bytes of filename live for a conversation:
// "{user}/{conversation}/{filename}", or "{conversation}/{filename}" when
// the conversation is anonymous.
func StorageKey(conversationID, userID, filename string) string {
	if userID == "" {
		return conversationID + "/" + filename
	}
	return userID + "/" + conversationID + "/" + filename
}
