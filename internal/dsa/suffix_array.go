// Package dsa provides the in-memory indexes behind message search and
// conversation ID lookup.
package dsa

import (
	"sort"
	"strings"
)

// SuffixArray indexes a text for substring search.
// Search is O(m log n) for a pattern of length m over a text of length n.
type SuffixArray struct {
	text string
	sa   []int // sa[i] = start of the i-th smallest suffix
}

// BuildSuffixArray constructs the suffix array of text by prefix doubling,
// O(n log^2 n).
func BuildSuffixArray(text string) *SuffixArray {
	n := len(text)
	s := &SuffixArray{text: text, sa: make([]int, n)}
	if n == 0 {
		return s
	}

	rank := make([]int, n)
	next := make([]int, n)
	for i := 0; i < n; i++ {
		s.sa[i] = i
		rank[i] = int(text[i])
	}

	// second returns the rank k bytes further on, -1 past the end.
	second := func(i, k int) int {
		if i+k < n {
			return rank[i+k]
		}
		return -1
	}

	for k := 1; ; k *= 2 {
		sort.Slice(s.sa, func(a, b int) bool {
			x, y := s.sa[a], s.sa[b]
			if rank[x] != rank[y] {
				return rank[x] < rank[y]
			}
			return second(x, k) < second(y, k)
		})

		next[s.sa[0]] = 0
		for i := 1; i < n; i++ {
			prev, cur := s.sa[i-1], s.sa[i]
			next[cur] = next[prev]
			if rank[prev] != rank[cur] || second(prev, k) != second(cur, k) {
				next[cur]++
			}
		}
		copy(rank, next)

		if rank[s.sa[n-1]] == n-1 || k >= n {
			break
		}
	}
	return s
}

// Len returns the length of the indexed text.
func (s *SuffixArray) Len() int {
	return len(s.text)
}

// Search returns the start of every occurrence of pattern, ascending.
func (s *SuffixArray) Search(pattern string) []int {
	m := len(pattern)
	if m == 0 || len(s.sa) == 0 {
		return nil
	}

	// cmp compares pattern with the first m bytes of the i-th suffix.
	cmp := func(i int) int {
		suffix := s.text[s.sa[i]:]
		if len(suffix) > m {
			suffix = suffix[:m]
		}
		return strings.Compare(suffix, pattern)
	}
	left := sort.Search(len(s.sa), func(i int) bool { return cmp(i) >= 0 })
	right := sort.Search(len(s.sa), func(i int) bool { return cmp(i) > 0 })
	if left >= right {
		return nil
	}

	matches := make([]int, 0, right-left)
	for i := left; i < right; i++ {
		matches = append(matches, s.sa[i])
	}
	sort.Ints(matches)
	return matches
}

// Count returns the number of occurrences of pattern.
func (s *SuffixArray) Count(pattern string) int {
	return len(s.Search(pattern))
}
