package dsa

import (
	"sort"
	"strings"
)

// separator never occurs in a query, so no match can span two messages.
const separator = "\x00"

// Hit is one occurrence of a query inside a message.
type Hit struct {
	Message int // index of the message in the indexed slice
	Offset  int // byte offset inside the folded message text
}

// MessageIndex answers case-insensitive substring queries over an ordered
// list of message contents with one suffix array.
type MessageIndex struct {
	sa     *SuffixArray
	starts []int
	folded []string
}

// NewMessageIndex indexes contents. Index positions in results refer to
// positions in contents.
func NewMessageIndex(contents []string) *MessageIndex {
	ix := &MessageIndex{
		starts: make([]int, len(contents)),
		folded: make([]string, len(contents)),
	}
	var sb strings.Builder
	for i, c := range contents {
		ix.folded[i] = Fold(c)
		ix.starts[i] = sb.Len()
		sb.WriteString(ix.folded[i])
		sb.WriteString(separator)
	}
	ix.sa = BuildSuffixArray(sb.String())
	return ix
}

// Fold is the normalization applied to indexed text and queries.
func Fold(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, separator, " "))
}

// Folded returns the indexed form of message i.
func (ix *MessageIndex) Folded(i int) string {
	return ix.folded[i]
}

// Search returns every hit of query, ordered by message then offset.
func (ix *MessageIndex) Search(query string) []Hit {
	if query == "" || strings.Contains(query, separator) {
		return nil
	}
	positions := ix.sa.Search(strings.ToLower(query))
	hits := make([]Hit, 0, len(positions))
	for _, pos := range positions {
		msg := sort.SearchInts(ix.starts, pos+1) - 1
		hits = append(hits, Hit{Message: msg, Offset: pos - ix.starts[msg]})
	}
	return hits
}
