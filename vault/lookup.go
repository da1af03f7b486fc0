package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richinex/chatvault/internal/dsa"
	"github.com/richinex/chatvault/storage"
)

// ErrAmbiguousID is returned by ResolveConversationID when a prefix matches
// more than one conversation.
var ErrAmbiguousID = errors.New("conversation id prefix is ambiguous")

// resolvePageSize is how many conversations are read per page while
// building the ID index.
const resolvePageSize = 500

// ResolveConversationID expands a unique prefix of a conversation ID to the
// full ID. An exact ID resolves to itself.
// Returns "", nil if nothing matches.
func (v *ChatVault) ResolveConversationID(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", nil
	}
	lister, ok := v.messages.(storage.ConversationLister)
	if !ok {
		return "", ErrListUnsupported
	}

	ids := dsa.NewTrie[struct{}]()
	for offset := 0; ; offset += resolvePageSize {
		page, err := lister.List(ctx, resolvePageSize, offset)
		if err != nil {
			return "", fmt.Errorf("failed to list conversations: %w", err)
		}
		for _, conv := range page {
			ids.Insert(conv.ID(), struct{}{})
		}
		if len(page) < resolvePageSize {
			break
		}
	}

	if _, exact := ids.Get(prefix); exact {
		return prefix, nil
	}
	matches := ids.WithPrefix(prefix, 2)
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		candidates := ids.WithPrefix(prefix, 5)
		return "", fmt.Errorf("%w: %q matches %s", ErrAmbiguousID, prefix, strings.Join(candidates, ", "))
	}
}
