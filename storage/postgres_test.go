package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Set CHATVAULT_TEST_POSTGRES_URL to a disposable database to run these.
// The conversations table is truncated before every subtest.
func newTestPostgres(t *testing.T) *PostgresMessages {
	t.Helper()
	connStr := os.Getenv("CHATVAULT_TEST_POSTGRES_URL")
	if connStr == "" {
		t.Skip("CHATVAULT_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresMessages(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.DB.Exec(ctx, "TRUNCATE chatvault_conversations")
	require.NoError(t, err)
	return store
}

func TestPostgresMessagesContract(t *testing.T) {
	if os.Getenv("CHATVAULT_TEST_POSTGRES_URL") == "" {
		t.Skip("CHATVAULT_TEST_POSTGRES_URL not set")
	}
	runMessagesBackendContract(t, func(t *testing.T) MessagesBackend {
		return newTestPostgres(t)
	})
}
