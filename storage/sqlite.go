// Package storage provides SQLite conversation storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/chatvault/model"
)

// SqliteMessages implements MessagesBackend using SQLite.
// Conversations, messages and attachment records live in separate tables;
// message order is kept by message_index.
type SqliteMessages struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteMessages, error) {
	// Create parent directory if needed
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	return newSqlite(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteMessages, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	return newSqlite(db)
}

func newSqlite(db *sql.DB) (*SqliteMessages, error) {
	s := &SqliteMessages{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SqliteMessages) Close() error {
	return s.db.Close()
}

func (s *SqliteMessages) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_active INTEGER NOT NULL,
			metadata TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user
		ON conversations(user_id, last_active DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			metadata TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE,
			UNIQUE(conversation_id, message_index)
		);

		CREATE TABLE IF NOT EXISTS files (
			conversation_id TEXT NOT NULL,
			file_index INTEGER NOT NULL,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			storage_key TEXT NOT NULL,
			uploaded_at INTEGER NOT NULL,
			metadata TEXT,
			PRIMARY KEY (conversation_id, filename),
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save rewrites the conversation row and all of its messages and attachment
// records in a single transaction.
func (s *SqliteMessages) Save(ctx context.Context, conv *model.Conversation) error {
	rec := NewRecord(conv)
	if err := s.save(ctx, rec); err != nil {
		return backendErr("sqlite", "save", rec.ConversationID, err)
	}
	return nil
}

func (s *SqliteMessages) save(ctx context.Context, rec Record) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, user_id, title, created_at, last_active, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			created_at = excluded.created_at,
			last_active = excluded.last_active,
			metadata = excluded.metadata`,
		rec.ConversationID, rec.UserID, rec.Title, rec.CreatedAt, rec.LastActive, meta)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	// Clear existing children for this conversation
	if _, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", rec.ConversationID); err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM files WHERE conversation_id = ?", rec.ConversationID); err != nil {
		return fmt.Errorf("failed to clear old files: %w", err)
	}

	msgStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (conversation_id, message_index, role, content, timestamp, metadata) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	for i, m := range rec.Messages {
		mm, err := encodeMetadata(m.Metadata)
		if err != nil {
			return err
		}
		if _, err = msgStmt.ExecContext(ctx, rec.ConversationID, i, m.Role, m.Content, m.Timestamp, mm); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	fileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (conversation_id, file_index, filename, content_type, size, storage_key, uploaded_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer fileStmt.Close()

	for i, f := range rec.Files {
		fm, err := encodeMetadata(f.Metadata)
		if err != nil {
			return err
		}
		if _, err = fileStmt.ExecContext(ctx, rec.ConversationID, i, f.Filename, f.ContentType, f.Size, f.StorageKey, f.UploadedAt, fm); err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get loads a conversation.
// Returns nil, nil if it doesn't exist.
func (s *SqliteMessages) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	rec, found, err := s.loadRecord(ctx, conversationID)
	if err != nil {
		return nil, backendErr("sqlite", "get", conversationID, err)
	}
	if !found {
		return nil, nil
	}
	conv, err := rec.Conversation()
	if err != nil {
		return nil, backendErr("sqlite", "get", conversationID, err)
	}
	return conv, nil
}

// GetByUser returns the user's conversations, most recently active first.
func (s *SqliteMessages) GetByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	ids, err := s.queryIDs(ctx, `
		SELECT conversation_id FROM conversations
		WHERE user_id = ?
		ORDER BY last_active DESC, conversation_id ASC`, userID)
	if err != nil {
		return nil, backendErr("sqlite", "get_by_user", userID, err)
	}
	return s.loadAll(ctx, "get_by_user", ids)
}

// List pages through every conversation, most recently active first.
func (s *SqliteMessages) List(ctx context.Context, limit, offset int) ([]*model.Conversation, error) {
	limit, offset = normalizePage(limit, offset)
	ids, err := s.queryIDs(ctx, `
		SELECT conversation_id FROM conversations
		ORDER BY last_active DESC, conversation_id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, backendErr("sqlite", "list", "", err)
	}
	return s.loadAll(ctx, "list", ids)
}

// Delete removes a conversation with its messages and attachment records.
func (s *SqliteMessages) Delete(ctx context.Context, conversationID string) (bool, error) {
	deleted, err := s.delete(ctx, conversationID)
	if err != nil {
		return false, backendErr("sqlite", "delete", conversationID, err)
	}
	return deleted, nil
}

func (s *SqliteMessages) delete(ctx context.Context, conversationID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE conversation_id = ?", conversationID); err != nil {
		return false, fmt.Errorf("failed to delete files: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE conversation_id = ?", conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n > 0, nil
}

// queryIDs collects IDs before any per-conversation query runs, so the
// single-connection in-memory database never has two open result sets.
func (s *SqliteMessages) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	ids := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return ids, nil
}

func (s *SqliteMessages) loadAll(ctx context.Context, op string, ids []string) ([]*model.Conversation, error) {
	convs := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		rec, found, err := s.loadRecord(ctx, id)
		if err != nil {
			return nil, backendErr("sqlite", op, id, err)
		}
		if !found {
			// deleted between the id query and the load
			continue
		}
		conv, err := rec.Conversation()
		if err != nil {
			return nil, backendErr("sqlite", op, id, err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// loadRecord reads the conversation row and its children inside one
// transaction, so a concurrent Save is seen entirely or not at all.
func (s *SqliteMessages) loadRecord(ctx context.Context, conversationID string) (Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rec Record
	var userID, meta sql.NullString

	err = tx.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, title, created_at, last_active, metadata
		FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&rec.ConversationID, &userID, &rec.Title, &rec.CreatedAt, &rec.LastActive, &meta)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get conversation: %w", err)
	}
	if userID.Valid {
		rec.UserID = &userID.String
	}
	if rec.Metadata, err = decodeMetadata(meta); err != nil {
		return Record{}, false, err
	}

	if rec.Messages, err = loadMessages(ctx, tx, conversationID); err != nil {
		return Record{}, false, err
	}
	if rec.Files, err = loadFiles(ctx, tx, conversationID); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func loadMessages(ctx context.Context, tx *sql.Tx, conversationID string) ([]MessageRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT role, content, timestamp, metadata FROM messages
		WHERE conversation_id = ? ORDER BY message_index ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []MessageRecord{}
	for rows.Next() {
		var m MessageRecord
		var meta sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func loadFiles(ctx context.Context, tx *sql.Tx, conversationID string) ([]FileRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT filename, content_type, size, storage_key, uploaded_at, metadata FROM files
		WHERE conversation_id = ? ORDER BY file_index ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []FileRecord{}
	for rows.Next() {
		var f FileRecord
		var meta sql.NullString
		if err := rows.Scan(&f.Filename, &f.ContentType, &f.Size, &f.StorageKey, &f.UploadedAt, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		if f.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}

// encodeMetadata converts empty maps to NULL.
func encodeMetadata(m map[string]any) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptRecord, err)
	}
	return m, nil
}

// Verify SqliteMessages implements MessagesBackend and ConversationLister
var (
	_ MessagesBackend    = (*SqliteMessages)(nil)
	_ ConversationLister = (*SqliteMessages)(nil)
)
