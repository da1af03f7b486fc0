// Package storage provides in-memory conversation storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and development only: nothing survives a restart

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/chatvault/model"
)

// MemoryMessages implements MessagesBackend using an in-memory map.
// Data is lost when process terminates.
type MemoryMessages struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryMessages creates a new in-memory messages backend.
func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{
		records: make(map[string]Record),
	}
}

// Save replaces the stored record for the conversation.
func (s *MemoryMessages) Save(ctx context.Context, conv *model.Conversation) error {
	// NewRecord deep-copies, so later mutations of conv don't leak in
	rec := NewRecord(conv)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ConversationID] = rec
	return nil
}

// Get loads a conversation.
// Returns nil, nil if it doesn't exist.
func (s *MemoryMessages) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	rec, ok := s.records[conversationID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	conv, err := rec.Conversation()
	if err != nil {
		return nil, backendErr("memory", "get", conversationID, err)
	}
	return conv, nil
}

// GetByUser scans every record. Results are ordered by LastActive, newest first.
func (s *MemoryMessages) GetByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	matched := make([]Record, 0)
	for _, rec := range s.records {
		if rec.UserID != nil && *rec.UserID == userID {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	return s.decodeSorted("get_by_user", matched)
}

// Delete removes a conversation.
func (s *MemoryMessages) Delete(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[conversationID]; !ok {
		return false, nil
	}
	delete(s.records, conversationID)
	return true, nil
}

// List pages through every conversation, newest activity first.
func (s *MemoryMessages) List(ctx context.Context, limit, offset int) ([]*model.Conversation, error) {
	s.mu.RLock()
	all := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	s.mu.RUnlock()

	convs, err := s.decodeSorted("list", all)
	if err != nil {
		return nil, err
	}
	return page(convs, limit, offset), nil
}

// Clear drops every conversation. Useful for testing.
func (s *MemoryMessages) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]Record)
}

// Len returns the number of stored conversations.
func (s *MemoryMessages) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func (s *MemoryMessages) decodeSorted(op string, recs []Record) ([]*model.Conversation, error) {
	sortRecords(recs)

	convs := make([]*model.Conversation, 0, len(recs))
	for _, rec := range recs {
		conv, err := rec.Conversation()
		if err != nil {
			return nil, backendErr("memory", op, rec.ConversationID, err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// sortRecords orders by LastActive descending, then by ID for stable output.
func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].LastActive != recs[j].LastActive {
			return recs[i].LastActive > recs[j].LastActive
		}
		return recs[i].ConversationID < recs[j].ConversationID
	})
}

// Verify MemoryMessages implements MessagesBackend and ConversationLister
var (
	_ MessagesBackend    = (*MemoryMessages)(nil)
	_ ConversationLister = (*MemoryMessages)(nil)
)
