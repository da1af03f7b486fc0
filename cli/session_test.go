package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/chatvault/config"
	"github.com/richinex/chatvault/internal/logger"
	"github.com/richinex/chatvault/model"
	"github.com/richinex/chatvault/storage"
)

func TestOpenMessagesLocalBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  config.MessagesConfig
	}{
		{"memory", config.MessagesConfig{Backend: config.BackendMemory}},
		{"sqlite", config.MessagesConfig{Backend: config.BackendSqlite, SqlitePath: filepath.Join(dir, "db", "cv.db")}},
		{"bolt", config.MessagesConfig{Backend: config.BackendBolt, BoltPath: filepath.Join(dir, "db", "cv.bolt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, closeFn, err := OpenMessages(ctx, tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, closeFn)
			defer func() { assert.NoError(t, closeFn()) }()

			conv, err := model.NewConversation("c1", "u1", epoch)
			require.NoError(t, err)
			require.NoError(t, backend.Save(ctx, conv))

			loaded, err := backend.Get(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, "u1", loaded.UserID())
		})
	}
}

func TestOpenMessagesUnknownBackend(t *testing.T) {
	_, _, err := OpenMessages(context.Background(), config.MessagesConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestOpenFilesSignedURLs(t *testing.T) {
	ctx := context.Background()

	plain, err := OpenFiles(config.FilesConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, plain.Upload(ctx, "k/a.txt", []byte("x"), "text/plain"))
	_, ok, err := plain.SignedURL(ctx, "k/a.txt", 0, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	signed, err := OpenFiles(config.FilesConfig{Dir: t.TempDir(), URLBase: "https://files.example.com", URLSecret: "s"})
	require.NoError(t, err)
	require.NoError(t, signed.Upload(ctx, "k/a.txt", []byte("x"), "text/plain"))
	u, ok, err := signed.SignedURL(ctx, "k/a.txt", 0, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, u, "https://files.example.com/k/a.txt?")
}

func TestOpenSession(t *testing.T) {
	ctx := context.Background()
	settings := config.Settings{
		Messages: config.MessagesConfig{Backend: config.BackendMemory},
		Files:    config.FilesConfig{Dir: t.TempDir()},
	}
	var logs bytes.Buffer
	sess, err := Open(ctx, settings, logger.New("debug", "text", &logs))
	require.NoError(t, err)
	defer sess.Close()

	_, isMemory := sess.Vault.Messages().(*storage.MemoryMessages)
	assert.True(t, isMemory)
	assert.Same(t, sess.Files, sess.Vault.Files())
	assert.Contains(t, logs.String(), "backends opened")
}

func TestNewResponder(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	r, err := NewResponder(config.LLMConfig{Provider: "anthropic", Model: "claude-opus-4-20250514", MaxTokens: 100, Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", r.Provider().Name())
	assert.Equal(t, "claude-opus-4-20250514", r.Provider().Model())

	t.Setenv("OPENAI_API_KEY", "")
	_, err = NewResponder(config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = NewResponder(config.LLMConfig{})
	assert.Error(t, err)
}
