package dsa

import (
	"github.com/armon/go-radix"
)

// Trie wraps go-radix, a compressed prefix tree. Lookups cost O(k) in the
// key length; prefix walks add O(m) in the number of matches.
type Trie[V any] struct {
	tree *radix.Tree
}

// NewTrie creates an empty tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{tree: radix.New()}
}

// Insert adds or replaces key.
func (t *Trie[V]) Insert(key string, value V) {
	t.tree.Insert(key, value)
}

// Get looks up an exact key.
func (t *Trie[V]) Get(key string) (V, bool) {
	val, found := t.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// Delete removes key and reports whether it was present.
func (t *Trie[V]) Delete(key string) bool {
	_, deleted := t.tree.Delete(key)
	return deleted
}

// Len returns the number of keys.
func (t *Trie[V]) Len() int {
	return t.tree.Len()
}

// WithPrefix returns up to limit keys starting with prefix, in key order.
// A limit of zero or less means no limit.
func (t *Trie[V]) WithPrefix(prefix string, limit int) []string {
	var keys []string
	t.tree.WalkPrefix(prefix, func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return limit > 0 && len(keys) >= limit
	})
	return keys
}
