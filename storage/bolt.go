package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/richinex/chatvault/model"
)

var conversationsBucket = []byte("conversations")

// BoltMessages implements MessagesBackend on a single bbolt file. Each
// conversation is one key in the conversations bucket holding its encoded
// record.
type BoltMessages struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string) (*BoltMessages, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltMessages{db: db}, nil
}

// Close releases the file lock.
func (s *BoltMessages) Close() error {
	return s.db.Close()
}

// Save overwrites the conversation's record.
func (s *BoltMessages) Save(ctx context.Context, conv *model.Conversation) error {
	data, err := EncodeRecord(conv)
	if err != nil {
		return backendErr("bolt", "save", conv.ID(), err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put([]byte(conv.ID()), data)
	})
	if err != nil {
		return backendErr("bolt", "save", conv.ID(), err)
	}
	return nil
}

// Get loads a conversation.
// Returns nil, nil if it doesn't exist.
func (s *BoltMessages) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(conversationID))
		if v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, backendErr("bolt", "get", conversationID, err)
	}
	if data == nil {
		return nil, nil
	}
	conv, err := DecodeRecord(data)
	if err != nil {
		return nil, backendErr("bolt", "get", conversationID, err)
	}
	return conv, nil
}

// GetByUser scans the bucket. Results are ordered by LastActive, newest first.
func (s *BoltMessages) GetByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	convs, err := s.scan(func(c *model.Conversation) bool {
		return c.UserID() != "" && c.UserID() == userID
	})
	if err != nil {
		return nil, backendErr("bolt", "get_by_user", userID, err)
	}
	return convs, nil
}

// List pages through every conversation, newest activity first.
func (s *BoltMessages) List(ctx context.Context, limit, offset int) ([]*model.Conversation, error) {
	convs, err := s.scan(func(*model.Conversation) bool { return true })
	if err != nil {
		return nil, backendErr("bolt", "list", "", err)
	}
	return page(convs, limit, offset), nil
}

// Delete removes a conversation.
func (s *BoltMessages) Delete(ctx context.Context, conversationID string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		key := []byte(conversationID)
		if b.Get(key) == nil {
			return nil
		}
		existed = true
		return b.Delete(key)
	})
	if err != nil {
		return false, backendErr("bolt", "delete", conversationID, err)
	}
	return existed, nil
}

func (s *BoltMessages) scan(keep func(*model.Conversation) bool) ([]*model.Conversation, error) {
	convs := []*model.Conversation{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			conv, err := DecodeRecord(v)
			if err != nil {
				return fmt.Errorf("conversation %q: %w", k, err)
			}
			if keep(conv) {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortConversations(convs)
	return convs, nil
}

// Verify BoltMessages implements MessagesBackend and ConversationLister
var (
	_ MessagesBackend    = (*BoltMessages)(nil)
	_ ConversationLister = (*BoltMessages)(nil)
)
