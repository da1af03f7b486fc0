package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/richinex/chatvault/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chatvault_conversations (
    conversation_id TEXT PRIMARY KEY,
    user_id TEXT,
    last_active BIGINT NOT NULL,
    record JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS chatvault_conversations_user_idx
    ON chatvault_conversations (user_id, last_active DESC);
`

// PostgresMessages implements MessagesBackend on Postgres. The encoded record
// lives in a JSONB column; user_id and last_active are copied out for
// indexed lookups.
type PostgresMessages struct {
	DB *pgxpool.Pool
}

// NewPostgresMessages connects to Postgres and makes sure the table exists.
func NewPostgresMessages(ctx context.Context, connStr string) (*PostgresMessages, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	ps := &PostgresMessages{DB: db}
	if err := ps.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

// EnsureSchema creates the conversations table and its index.
func (ps *PostgresMessages) EnsureSchema(ctx context.Context) error {
	if _, err := ps.DB.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (ps *PostgresMessages) Close() error {
	ps.DB.Close()
	return nil
}

// Save upserts the conversation's record.
func (ps *PostgresMessages) Save(ctx context.Context, conv *model.Conversation) error {
	rec := NewRecord(conv)
	data, err := EncodeRecord(conv)
	if err != nil {
		return backendErr("postgres", "save", rec.ConversationID, err)
	}
	_, err = ps.DB.Exec(ctx, `
        INSERT INTO chatvault_conversations (conversation_id, user_id, last_active, record)
        VALUES ($1, $2, $3, $4::jsonb)
        ON CONFLICT (conversation_id) DO UPDATE
        SET user_id = EXCLUDED.user_id,
            last_active = EXCLUDED.last_active,
            record = EXCLUDED.record`,
		rec.ConversationID, rec.UserID, rec.LastActive, string(data))
	if err != nil {
		return backendErr("postgres", "save", rec.ConversationID, err)
	}
	return nil
}

// Get loads a conversation.
// Returns nil, nil if it doesn't exist.
func (ps *PostgresMessages) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var data string
	err := ps.DB.QueryRow(ctx,
		`SELECT record::text FROM chatvault_conversations WHERE conversation_id = $1`,
		conversationID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr("postgres", "get", conversationID, err)
	}
	conv, err := DecodeRecord([]byte(data))
	if err != nil {
		return nil, backendErr("postgres", "get", conversationID, err)
	}
	return conv, nil
}

// GetByUser returns the user's conversations, most recently active first.
func (ps *PostgresMessages) GetByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	convs, err := ps.query(ctx, `
        SELECT record::text FROM chatvault_conversations
        WHERE user_id = $1
        ORDER BY last_active DESC, conversation_id ASC`, userID)
	if err != nil {
		return nil, backendErr("postgres", "get_by_user", userID, err)
	}
	return convs, nil
}

// List pages through every conversation, most recently active first.
func (ps *PostgresMessages) List(ctx context.Context, limit, offset int) ([]*model.Conversation, error) {
	limit, offset = normalizePage(limit, offset)
	convs, err := ps.query(ctx, `
        SELECT record::text FROM chatvault_conversations
        ORDER BY last_active DESC, conversation_id ASC
        LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, backendErr("postgres", "list", "", err)
	}
	return convs, nil
}

// Delete removes a conversation.
func (ps *PostgresMessages) Delete(ctx context.Context, conversationID string) (bool, error) {
	tag, err := ps.DB.Exec(ctx,
		`DELETE FROM chatvault_conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return false, backendErr("postgres", "delete", conversationID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (ps *PostgresMessages) query(ctx context.Context, sql string, args ...any) ([]*model.Conversation, error) {
	rows, err := ps.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []*model.Conversation{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		conv, err := DecodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return convs, nil
}

// Verify PostgresMessages implements MessagesBackend and ConversationLister
var (
	_ MessagesBackend    = (*PostgresMessages)(nil)
	_ ConversationLister = (*PostgresMessages)(nil)
)
