package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestConversation(t *testing.T, userID string) *Conversation {
	t.Helper()
	c, err := NewConversation("conv-1", userID, t0)
	require.NoError(t, err)
	return c
}

func mustMessage(t *testing.T, role Role, content string, at time.Time) Message {
	t.Helper()
	msg, err := NewMessage(role, content, nil, at)
	require.NoError(t, err)
	return msg
}

func TestNewConversationDefaults(t *testing.T) {
	c := newTestConversation(t, "u1")

	assert.Equal(t, "conv-1", c.ID())
	assert.Equal(t, "u1", c.UserID())
	assert.Equal(t, "", c.Title())
	assert.Equal(t, t0, c.CreatedAt())
	assert.Equal(t, t0, c.LastActive())
	assert.Empty(t, c.Messages())
	assert.Empty(t, c.Attachments())
	assert.NotNil(t, c.Metadata())
}

func TestNewConversationRejectsEmptyID(t *testing.T) {
	_, err := NewConversation("", "u1", t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNewConversationTruncatesToSeconds(t *testing.T) {
	c, err := NewConversation("c", "", t0.Add(750*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, t0, c.CreatedAt())
	assert.True(t, c.Anonymous())
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	c := newTestConversation(t, "")
	contents := []string{"one", "two", "three", "four"}
	for i, s := range contents {
		require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, s, t0.Add(time.Duration(i)*time.Second))))
	}

	msgs := c.Messages()
	require.Len(t, msgs, len(contents))
	for i, s := range contents {
		assert.Equal(t, s, msgs[i].Content)
	}
}

func TestAppendMessageBumpsLastActive(t *testing.T) {
	c := newTestConversation(t, "")
	later := t0.Add(time.Minute)

	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "hi", later)))
	assert.Equal(t, later, c.LastActive())
}

func TestAppendMessageNeverMovesLastActiveBeforeCreation(t *testing.T) {
	c := newTestConversation(t, "")

	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "hi", t0.Add(-time.Hour))))
	assert.Equal(t, t0, c.LastActive())
	require.NoError(t, c.Validate())
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	c := newTestConversation(t, "")
	err := c.AppendMessage(Message{Role: "robot", Content: "x", Timestamp: t0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Empty(t, c.Messages())
}

func TestAutoTitleFromFirstUserMessage(t *testing.T) {
	c := newTestConversation(t, "")
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleSystem, "be brief", t0)))
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "What is the weather today?", t0)))
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "second", t0)))

	assert.Equal(t, "What is the weather today?", c.Title())
}

func TestAutoTitleTruncatesLongMessages(t *testing.T) {
	c := newTestConversation(t, "")
	long := strings.Repeat("é", 60)
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, long, t0)))

	assert.Equal(t, strings.Repeat("é", 50)+"...", c.Title())
}

func TestAutoTitleKeepsExplicitTitle(t *testing.T) {
	c := newTestConversation(t, "")
	c.SetTitle("Planning")
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "hello", t0)))

	assert.Equal(t, "Planning", c.Title())
}

func TestPutAttachmentOverwritesByFilename(t *testing.T) {
	c := newTestConversation(t, "")
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "a.pdf", Size: 10, StorageKey: "k1", UploadedAt: t0}))
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "b.txt", Size: 1, StorageKey: "k2", UploadedAt: t0}))
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "a.pdf", Size: 20, StorageKey: "k1", UploadedAt: t0}))

	files := c.Attachments()
	require.Len(t, files, 2)
	assert.Equal(t, "a.pdf", files[0].Filename)
	assert.Equal(t, int64(20), files[0].Size)
	assert.Equal(t, DefaultContentType, files[0].ContentType)
	assert.Equal(t, "b.txt", files[1].Filename)
}

func TestPutAttachmentDoesNotBumpLastActive(t *testing.T) {
	c := newTestConversation(t, "")
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "a.pdf", StorageKey: "k", UploadedAt: t0.Add(time.Hour)}))

	assert.Equal(t, t0, c.LastActive())
}

func TestPutAttachmentRejectsBadFilenames(t *testing.T) {
	c := newTestConversation(t, "")
	for _, name := range []string{"", ".", "..", "../x", `a\b`, "dir/file"} {
		err := c.PutAttachment(FileAttachment{Filename: name, StorageKey: "k"})
		assert.Truef(t, errors.Is(err, ErrValidation), "filename %q should be rejected", name)
	}
	assert.Empty(t, c.Attachments())
}

func TestRemoveAttachment(t *testing.T) {
	c := newTestConversation(t, "")
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "a", StorageKey: "k"}))

	assert.True(t, c.RemoveAttachment("a"))
	assert.False(t, c.RemoveAttachment("a"))
	_, ok := c.Attachment("a")
	assert.False(t, ok)
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := newTestConversation(t, "")
	msg, err := NewMessage(RoleUser, "hi", map[string]any{"k": "v"}, t0)
	require.NoError(t, err)
	require.NoError(t, c.AppendMessage(msg))
	require.NoError(t, c.SetMetadata("tag", "x"))

	msgs := c.Messages()
	msgs[0].Content = "changed"
	msgs[0].Metadata["k"] = "changed"
	meta := c.Metadata()
	meta["tag"] = "changed"

	assert.Equal(t, "hi", c.Messages()[0].Content)
	assert.Equal(t, "v", c.Messages()[0].Metadata["k"])
	v, _ := c.MetadataValue("tag")
	assert.Equal(t, "x", v)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := newTestConversation(t, "u1")
	c.SetTitle("t")
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "hi", t0.Add(time.Second))))
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "a", StorageKey: "k", Size: 3, UploadedAt: t0}))
	require.NoError(t, c.SetMetadata("archived", true))

	restored, err := FromSnapshot(c.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, c.Snapshot(), restored.Snapshot())
	assert.Equal(t, c.Snapshot(), c.Clone().Snapshot())
}

func TestMetadataTakesJSONForm(t *testing.T) {
	c := newTestConversation(t, "u1")
	require.NoError(t, c.SetMetadata("n", 1))
	require.NoError(t, c.SetMetadata("limits", map[string]int32{"max": 2}))

	msg, err := NewMessage(RoleAssistant, "ok", map[string]any{"total_tokens": int64(5), "ids": []int{1, 2}}, t0)
	require.NoError(t, err)
	require.NoError(t, c.AppendMessage(msg))
	require.NoError(t, c.PutAttachment(FileAttachment{Filename: "a", StorageKey: "k", Metadata: map[string]any{"pages": uint8(3)}}))

	v, _ := c.MetadataValue("n")
	assert.Equal(t, float64(1), v)
	v, _ = c.MetadataValue("limits")
	assert.Equal(t, map[string]any{"max": float64(2)}, v)
	assert.Equal(t, map[string]any{"total_tokens": float64(5), "ids": []any{float64(1), float64(2)}}, c.Messages()[0].Metadata)
	f, _ := c.Attachment("a")
	assert.Equal(t, map[string]any{"pages": float64(3)}, f.Metadata)

	restored, err := FromSnapshot(Snapshot{
		ID:         "c",
		CreatedAt:  t0,
		LastActive: t0,
		Metadata:   map[string]any{"n": int32(7)},
	})
	require.NoError(t, err)
	v, _ = restored.MetadataValue("n")
	assert.Equal(t, float64(7), v)
}

func TestMetadataRejectsUnencodableValues(t *testing.T) {
	c := newTestConversation(t, "")
	err := c.SetMetadata("fn", func() {})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewMessage(RoleUser, "hi", map[string]any{"ch": make(chan int)}, t0)
	assert.True(t, errors.Is(err, ErrValidation))

	_, ok := c.MetadataValue("fn")
	assert.False(t, ok)
}

func TestFromSnapshotRejectsBrokenInvariants(t *testing.T) {
	_, err := FromSnapshot(Snapshot{ID: "c", CreatedAt: t0, LastActive: t0.Add(-time.Second)})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = FromSnapshot(Snapshot{
		ID:         "c",
		CreatedAt:  t0,
		LastActive: t0,
		Files: []FileAttachment{
			{Filename: "a", StorageKey: "k"},
			{Filename: "a", StorageKey: "k2"},
		},
	})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestHistory(t *testing.T) {
	c := newTestConversation(t, "")
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleUser, "Hello", t0)))
	require.NoError(t, c.AppendMessage(mustMessage(t, RoleAssistant, "Hi", t0)))

	assert.Equal(t, []HistoryEntry{
		{Role: RoleUser, Content: "Hello"},
		{Role: RoleAssistant, Content: "Hi"},
	}, c.History())
}

func TestValidateUserID(t *testing.T) {
	for _, ok := range []string{"u1", "alice@example.com", "team-7"} {
		assert.NoErrorf(t, ValidateUserID(ok), "user %q", ok)
	}
	for _, bad := range []string{"", ".", "..", ".meta", ".hidden", "a/b", `a\b`, "a\x00b"} {
		assert.Truef(t, errors.Is(ValidateUserID(bad), ErrValidation), "user %q", bad)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Assistant ")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	_, err = ParseRole("narrator")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)
}
