// Record types for the backend-agnostic persisted representation.
//
// Information Hiding:
// - Entity internals hidden behind model.Snapshot
// - Timestamps flattened to epoch seconds, user_id to nullable string
// - Decoding validates the rebuilt conversation so no backend returns partial data
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/richinex/chatvault/model"
)

// Record is the persisted form of a conversation. Every backend stores and
// loads conversations through it.
type Record struct {
	ConversationID string          `json:"conversation_id" bson:"_id"`
	UserID         *string         `json:"user_id" bson:"user_id"`
	Title          string          `json:"title" bson:"title"`
	CreatedAt      int64           `json:"created_at" bson:"created_at"`
	LastActive     int64           `json:"last_active" bson:"last_active"`
	Messages       []MessageRecord `json:"messages" bson:"messages"`
	Files          []FileRecord    `json:"files" bson:"files"`
	Metadata       map[string]any  `json:"metadata" bson:"metadata"`
}

// MessageRecord is the persisted form of a message.
type MessageRecord struct {
	Role      string         `json:"role" bson:"role"`
	Content   string         `json:"content" bson:"content"`
	Timestamp int64          `json:"timestamp" bson:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// FileRecord is the persisted form of an attachment.
type FileRecord struct {
	Filename    string         `json:"filename" bson:"filename"`
	ContentType string         `json:"content_type" bson:"content_type"`
	Size        int64          `json:"size" bson:"size"`
	StorageKey  string         `json:"storage_key" bson:"storage_key"`
	UploadedAt  int64          `json:"uploaded_at" bson:"uploaded_at"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NewRecord flattens a conversation into its persisted form.
func NewRecord(conv *model.Conversation) Record {
	s := conv.Snapshot()

	rec := Record{
		ConversationID: s.ID,
		Title:          s.Title,
		CreatedAt:      s.CreatedAt.Unix(),
		LastActive:     s.LastActive.Unix(),
		Messages:       make([]MessageRecord, 0, len(s.Messages)),
		Files:          make([]FileRecord, 0, len(s.Files)),
		Metadata:       s.Metadata,
	}
	if s.UserID != "" {
		userID := s.UserID
		rec.UserID = &userID
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	for _, m := range s.Messages {
		rec.Messages = append(rec.Messages, MessageRecord{
			Role:      m.Role.String(),
			Content:   m.Content,
			Timestamp: m.Timestamp.Unix(),
			Metadata:  m.Metadata,
		})
	}
	for _, f := range s.Files {
		rec.Files = append(rec.Files, FileRecord{
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Size:        f.Size,
			StorageKey:  f.StorageKey,
			UploadedAt:  unixOrZero(f.UploadedAt),
			Metadata:    f.Metadata,
		})
	}
	return rec
}

// Conversation rebuilds the entity. Any record that violates the entity
// invariants is reported as ErrCorruptRecord.
func (r Record) Conversation() (*model.Conversation, error) {
	s := model.Snapshot{
		ID:         r.ConversationID,
		Title:      r.Title,
		CreatedAt:  fromUnix(r.CreatedAt),
		LastActive: fromUnix(r.LastActive),
		Messages:   make([]model.Message, 0, len(r.Messages)),
		Files:      make([]model.FileAttachment, 0, len(r.Files)),
		Metadata:   r.Metadata,
	}
	if r.UserID != nil {
		s.UserID = *r.UserID
	}

	for i, m := range r.Messages {
		role, err := model.ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrCorruptRecord, i, err)
		}
		s.Messages = append(s.Messages, model.Message{
			Role:      role,
			Content:   m.Content,
			Timestamp: fromUnix(m.Timestamp),
			Metadata:  m.Metadata,
		})
	}
	for _, f := range r.Files {
		s.Files = append(s.Files, model.FileAttachment{
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Size:        f.Size,
			StorageKey:  f.StorageKey,
			UploadedAt:  fromUnix(f.UploadedAt),
			Metadata:    f.Metadata,
		})
	}

	conv, err := model.FromSnapshot(s)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation %q: %v", ErrCorruptRecord, r.ConversationID, err)
	}
	return conv, nil
}

// EncodeRecord serializes a conversation to bytes.
func EncodeRecord(conv *model.Conversation) ([]byte, error) {
	data, err := json.Marshal(NewRecord(conv))
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation: %w", err)
	}
	return data, nil
}

// DecodeRecord parses bytes produced by EncodeRecord.
func DecodeRecord(data []byte) (*model.Conversation, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec.Conversation()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
