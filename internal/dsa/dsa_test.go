package dsa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuffixArraySearch(t *testing.T) {
	sa := BuildSuffixArray("banana")
	assert.Equal(t, 6, sa.Len())
	assert.Equal(t, []int{1, 3}, sa.Search("ana"))
	assert.Equal(t, []int{0}, sa.Search("banana"))
	assert.Equal(t, []int{5}, sa.Search("a")[2:])
	assert.Equal(t, 3, sa.Count("a"))
	assert.Empty(t, sa.Search("bananas"))
	assert.Empty(t, sa.Search("x"))
	assert.Empty(t, sa.Search(""))
}

func TestSuffixArrayMatchesNaiveSearch(t *testing.T) {
	text := "the cat sat on the mat with the other cat"
	sa := BuildSuffixArray(text)
	for _, pattern := range []string{"the", "cat", "at", " ", "t", "mat with", "dog"} {
		var want []int
		for i := 0; i+len(pattern) <= len(text); i++ {
			if strings.HasPrefix(text[i:], pattern) {
				want = append(want, i)
			}
		}
		assert.Equal(t, want, sa.Search(pattern), pattern)
	}
}

func TestSuffixArrayEmptyText(t *testing.T) {
	sa := BuildSuffixArray("")
	assert.Equal(t, 0, sa.Len())
	assert.Empty(t, sa.Search("a"))
}

func TestMessageIndexSearch(t *testing.T) {
	ix := NewMessageIndex([]string{
		"Where is the Report?",
		"",
		"The report is attached.",
		"reporting done",
	})

	hits := ix.Search("REPORT")
	require.Len(t, hits, 3)
	assert.Equal(t, Hit{Message: 0, Offset: 13}, hits[0])
	assert.Equal(t, Hit{Message: 2, Offset: 4}, hits[1])
	assert.Equal(t, Hit{Message: 3, Offset: 0}, hits[2])
	assert.Equal(t, "the report is attached.", ix.Folded(2))

	assert.Empty(t, ix.Search("attached.reporting"))
	assert.Empty(t, ix.Search("a\x00b"))
	assert.Empty(t, ix.Search(""))
}

func TestMessageIndexEmpty(t *testing.T) {
	ix := NewMessageIndex(nil)
	assert.Empty(t, ix.Search("anything"))
}

func TestTrie(t *testing.T) {
	trie := NewTrie[int]()
	trie.Insert("3f2a9c", 1)
	trie.Insert("3f2b00", 2)
	trie.Insert("a91e44", 3)
	trie.Insert("a91e44", 4)

	assert.Equal(t, 3, trie.Len())
	v, ok := trie.Get("a91e44")
	require.True(t, ok)
	assert.Equal(t, 4, v)

	assert.Equal(t, []string{"3f2a9c", "3f2b00"}, trie.WithPrefix("3f2", 0))
	assert.Len(t, trie.WithPrefix("3f2", 1), 1)
	assert.Equal(t, []string{"a91e44"}, trie.WithPrefix("a", 0))
	assert.Empty(t, trie.WithPrefix("zz", 0))

	assert.True(t, trie.Delete("3f2b00"))
	assert.False(t, trie.Delete("3f2b00"))
	_, ok = trie.Get("3f2b00")
	assert.False(t, ok)
}
