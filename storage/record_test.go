package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/chatvault/model"
)

func TestRecordRoundTrip(t *testing.T) {
	conv := fullConversation(t, "conv-1", "u1")

	data, err := EncodeRecord(conv)
	require.NoError(t, err)

	loaded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, conv.Snapshot(), loaded.Snapshot())
}

func TestRecordWireFormat(t *testing.T) {
	conv := fullConversation(t, "conv-1", "u1")

	data, err := EncodeRecord(conv)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "conv-1", raw["conversation_id"])
	assert.Equal(t, "u1", raw["user_id"])
	assert.Equal(t, float64(epoch.Unix()), raw["created_at"])
	assert.Equal(t, float64(epoch.Add(2*time.Minute).Unix()), raw["last_active"])

	msgs := raw["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, map[string]any{"source": "web", "prompt_tokens": float64(12)}, first["metadata"])
	_, hasMeta := msgs[1].(map[string]any)["metadata"]
	assert.False(t, hasMeta, "empty message metadata is omitted")

	files := raw["files"].([]any)
	require.Len(t, files, 1)
	file := files[0].(map[string]any)
	assert.Equal(t, "report.pdf", file["filename"])
	assert.Equal(t, "u1/conv-1/report.pdf", file["storage_key"])
	assert.Equal(t, float64(1024), file["size"])
}

func TestRecordAnonymousUserIsNull(t *testing.T) {
	conv := newConversation(t, "anon", "", epoch)

	data, err := EncodeRecord(conv)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	v, ok := raw["user_id"]
	assert.True(t, ok)
	assert.Nil(t, v)

	loaded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.True(t, loaded.Anonymous())
	assert.Equal(t, map[string]any{}, loaded.Metadata())
}

func TestDecodeRecordRejectsCorruptData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"conversation_id":`},
		{"missing id", `{"conversation_id":"","created_at":1700000000,"last_active":1700000000}`},
		{"missing created_at", `{"conversation_id":"c","created_at":0,"last_active":0}`},
		{"last_active before created_at", `{"conversation_id":"c","created_at":1700000000,"last_active":1600000000}`},
		{"unknown role", `{"conversation_id":"c","created_at":1700000000,"last_active":1700000000,
			"messages":[{"role":"wizard","content":"x","timestamp":1700000000}]}`},
		{"message without timestamp", `{"conversation_id":"c","created_at":1700000000,"last_active":1700000000,
			"messages":[{"role":"user","content":"x","timestamp":0}]}`},
		{"duplicate filename", `{"conversation_id":"c","created_at":1700000000,"last_active":1700000000,
			"files":[{"filename":"a","size":1,"storage_key":"c/a"},{"filename":"a","size":1,"storage_key":"c/a"}]}`},
		{"negative size", `{"conversation_id":"c","created_at":1700000000,"last_active":1700000000,
			"files":[{"filename":"a","size":-1,"storage_key":"c/a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := DecodeRecord([]byte(tt.data))
			assert.Nil(t, conv)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptRecord), "got %v", err)
		})
	}
}

func TestRecordPreservesMessageRoles(t *testing.T) {
	conv := newConversation(t, "c", "u1", epoch)
	for _, role := range []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool} {
		addMessage(t, conv, role, string(role), epoch)
	}

	loaded, err := NewRecord(conv).Conversation()
	require.NoError(t, err)
	for i, m := range loaded.Messages() {
		assert.Equal(t, conv.Messages()[i].Role, m.Role)
	}
}
