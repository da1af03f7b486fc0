package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Set CHATVAULT_TEST_MONGO_URI to run these. Each subtest gets its own
// collection, dropped on cleanup.
func newTestMongo(t *testing.T) *MongoMessages {
	t.Helper()
	uri := os.Getenv("CHATVAULT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHATVAULT_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	collection := fmt.Sprintf("conversations_%d", time.Now().UnixNano())
	store, err := NewMongoMessages(ctx, uri, "chatvault_test", collection)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.collection.Drop(context.Background())
		store.Close()
	})
	return store
}

func TestMongoMessagesContract(t *testing.T) {
	if os.Getenv("CHATVAULT_TEST_MONGO_URI") == "" {
		t.Skip("CHATVAULT_TEST_MONGO_URI not set")
	}
	runMessagesBackendContract(t, func(t *testing.T) MessagesBackend {
		return newTestMongo(t)
	})
}

func TestNewMongoMessagesRequiresSettings(t *testing.T) {
	ctx := context.Background()

	_, err := NewMongoMessages(ctx, "", "db", "coll")
	assert.Error(t, err)
	_, err = NewMongoMessages(ctx, "mongodb://localhost:27017", "", "coll")
	assert.Error(t, err)
	_, err = NewMongoMessages(ctx, "mongodb://localhost:27017", "db", "")
	assert.Error(t, err)
}

func TestNormalizeBSONRecord(t *testing.T) {
	rec := Record{
		Metadata: map[string]any{
			"labels": primitive.A{"a", primitive.D{{Key: "k", Value: "v"}}},
			"nested": primitive.D{{Key: "inner", Value: primitive.M{"x": int32(1)}}},
			"plain":  "text",
		},
		Messages: []MessageRecord{{Metadata: map[string]any{"doc": bson.M{"y": true}}}},
		Files:    []FileRecord{{Metadata: nil}},
	}

	got := normalizeBSONRecord(rec)

	assert.Equal(t, map[string]any{
		"labels": []any{"a", map[string]any{"k": "v"}},
		"nested": map[string]any{"inner": map[string]any{"x": int32(1)}},
		"plain":  "text",
	}, got.Metadata)
	assert.Equal(t, map[string]any{"doc": map[string]any{"y": true}}, got.Messages[0].Metadata)
	assert.Nil(t, got.Files[0].Metadata)
}
