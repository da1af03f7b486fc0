package vault

import (
	"github.com/richinex/chatvault/internal/dsa"
	"github.com/richinex/chatvault/model"
)

// snippetRadius is how many bytes of context a match snippet keeps on each
// side of the first hit.
const snippetRadius = 40

// MessageMatch is a message containing a search query.
type MessageMatch struct {
	Index   int // position in GetMessages
	Message model.Message
	Hits    int
	Snippet string
}

// Search finds messages containing query, ignoring case, in append order.
func (c *Conversation) Search(query string) []MessageMatch {
	msgs := c.conv.Messages()
	contents := make([]string, len(msgs))
	for i, m := range msgs {
		contents[i] = m.Content
	}
	ix := dsa.NewMessageIndex(contents)

	var matches []MessageMatch
	for _, hit := range ix.Search(query) {
		if n := len(matches); n > 0 && matches[n-1].Index == hit.Message {
			matches[n-1].Hits++
			continue
		}
		matches = append(matches, MessageMatch{
			Index:   hit.Message,
			Message: msgs[hit.Message],
			Hits:    1,
			Snippet: snippet(msgs[hit.Message].Content, ix.Folded(hit.Message), hit.Offset, len(query)),
		})
	}
	return matches
}

// snippet cuts the text around a hit. Offsets are in folded text, which only
// lines up with the original when folding kept the byte length.
func snippet(original, folded string, offset, length int) string {
	text := original
	if len(folded) != len(original) {
		text = folded
	}
	start := max(offset-snippetRadius, 0)
	end := min(offset+length+snippetRadius, len(text))
	// keep UTF-8 sequences whole
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}

	out := text[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
