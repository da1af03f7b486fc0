package vault

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/chatvault/model"
	"github.com/richinex/chatvault/storage"
)

func TestConversationSearch(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	conv, err := fx.vault.CreateConversation(ctx, "u1", nil)
	require.NoError(t, err)

	for _, m := range []struct {
		role    model.Role
		content string
	}{
		{model.RoleUser, "Can you summarise the quarterly report?"},
		{model.RoleAssistant, "The report shows revenue up. The REPORT also flags costs."},
		{model.RoleUser, "Thanks"},
	} {
		_, err := conv.AddMessage(ctx, m.role, m.content, nil)
		require.NoError(t, err)
	}

	matches := conv.Search("report")
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Index)
	assert.Equal(t, 1, matches[0].Hits)
	assert.Equal(t, model.RoleUser, matches[0].Message.Role)
	assert.Equal(t, 1, matches[1].Index)
	assert.Equal(t, 2, matches[1].Hits)
	assert.Contains(t, matches[1].Snippet, "The report shows")

	assert.Empty(t, conv.Search("invoice"))
	assert.Empty(t, conv.Search(""))
}

func TestConversationSearchEmpty(t *testing.T) {
	fx := newFixture(t)
	conv, err := fx.vault.CreateConversation(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, conv.Search("anything"))
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100)
	s := snippet(long, long, 100, len("needle"))
	assert.True(t, strings.HasPrefix(s, "..."))
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Contains(t, s, "needle")
	assert.Len(t, s, 3+snippetRadius+len("needle")+snippetRadius+3)

	assert.Equal(t, "short needle", snippet("short needle", "short needle", 6, 6))

	// cut points never split a multi-byte rune
	wide := strings.Repeat("é", 30) + "x" + strings.Repeat("é", 30)
	s = snippet(wide, wide, 60, 1)
	for _, r := range s {
		assert.NotEqual(t, '�', r)
	}
}

func TestResolveConversationID(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	ids := []string{"3f2a9c01", "3f2b7700", "a91e4400"}
	i := 0
	v := New(fx.messages, fx.files, WithIDGenerator(func() string {
		id := ids[i]
		i++
		return id
	}))
	for range ids {
		_, err := v.CreateConversation(ctx, "u1", nil)
		require.NoError(t, err)
	}

	id, err := v.ResolveConversationID(ctx, "a9")
	require.NoError(t, err)
	assert.Equal(t, "a91e4400", id)

	id, err = v.ResolveConversationID(ctx, "3f2b")
	require.NoError(t, err)
	assert.Equal(t, "3f2b7700", id)

	id, err = v.ResolveConversationID(ctx, "3f2a9c01")
	require.NoError(t, err)
	assert.Equal(t, "3f2a9c01", id)

	_, err = v.ResolveConversationID(ctx, "3f")
	assert.ErrorIs(t, err, ErrAmbiguousID)
	assert.Contains(t, err.Error(), "3f2a9c01, 3f2b7700")

	id, err = v.ResolveConversationID(ctx, "zz")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = v.ResolveConversationID(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestResolveConversationIDNeedsLister(t *testing.T) {
	v := New(unlistable{storage.NewMemoryMessages()}, nil)
	_, err := v.ResolveConversationID(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrListUnsupported)
}
