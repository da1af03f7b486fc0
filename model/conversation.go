package model

import (
	"time"
	"unicode/utf8"
)

// autoTitleLength is how many runes of the first user message become the title.
const autoTitleLength = 50

// Conversation is a chat thread with an ordered message history and a set of
// file attachments keyed by filename.
//
// A Conversation is not safe for concurrent mutation.
type Conversation struct {
	id         string
	userID     string
	title      string
	createdAt  time.Time
	lastActive time.Time
	messages   []Message
	files      []FileAttachment
	metadata   map[string]any
}

// Snapshot is the full state of a conversation, used to rebuild one from a
// persisted record.
type Snapshot struct {
	ID         string
	UserID     string
	Title      string
	CreatedAt  time.Time
	LastActive time.Time
	Messages   []Message
	Files      []FileAttachment
	Metadata   map[string]any
}

// NewConversation creates an empty conversation. An empty userID marks the
// conversation as anonymous.
func NewConversation(id, userID string, at time.Time) (*Conversation, error) {
	if id == "" {
		return nil, invalid("conversation_id", "must not be empty")
	}
	if at.IsZero() {
		return nil, invalid("created_at", "must be set")
	}
	created := Truncate(at)
	return &Conversation{
		id:         id,
		userID:     userID,
		createdAt:  created,
		lastActive: created,
		metadata:   map[string]any{},
	}, nil
}

// FromSnapshot rebuilds a conversation, rejecting any state that breaks the
// entity invariants.
func FromSnapshot(s Snapshot) (*Conversation, error) {
	c, err := NewConversation(s.ID, s.UserID, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.title = s.Title
	c.lastActive = Truncate(s.LastActive)
	meta, err := jsonMap("metadata", s.Metadata)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		c.metadata = meta
	}
	c.messages = make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		m, err := m.normalize()
		if err != nil {
			return nil, err
		}
		c.messages = append(c.messages, m)
	}
	c.files = make([]FileAttachment, 0, len(s.Files))
	for _, f := range s.Files {
		f, err := f.normalize()
		if err != nil {
			return nil, err
		}
		c.files = append(c.files, f)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Snapshot returns a deep copy of the conversation state.
func (c *Conversation) Snapshot() Snapshot {
	return Snapshot{
		ID:         c.id,
		UserID:     c.userID,
		Title:      c.title,
		CreatedAt:  c.createdAt,
		LastActive: c.lastActive,
		Messages:   c.Messages(),
		Files:      c.Attachments(),
		Metadata:   cloneMap(c.metadata),
	}
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	s := c.Snapshot()
	return &Conversation{
		id:         s.ID,
		userID:     s.UserID,
		title:      s.Title,
		createdAt:  s.CreatedAt,
		lastActive: s.LastActive,
		messages:   s.Messages,
		files:      s.Files,
		metadata:   s.Metadata,
	}
}

// Validate checks every invariant of the conversation.
func (c *Conversation) Validate() error {
	if c.id == "" {
		return invalid("conversation_id", "must not be empty")
	}
	if c.createdAt.IsZero() {
		return invalid("created_at", "must be set")
	}
	if c.lastActive.Before(c.createdAt) {
		return invalid("last_active", "must not precede created_at")
	}
	for _, m := range c.messages {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.files))
	for _, f := range c.files {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.Filename]; dup {
			return invalid("filename", "duplicate attachment %q", f.Filename)
		}
		seen[f.Filename] = struct{}{}
	}
	return nil
}

func (c *Conversation) ID() string            { return c.id }
func (c *Conversation) UserID() string        { return c.userID }
func (c *Conversation) Title() string         { return c.title }
func (c *Conversation) CreatedAt() time.Time  { return c.createdAt }
func (c *Conversation) LastActive() time.Time { return c.lastActive }

// Anonymous reports whether the conversation has no owner.
func (c *Conversation) Anonymous() bool {
	return c.userID == ""
}

// SetTitle replaces the title.
func (c *Conversation) SetTitle(title string) {
	c.title = title
}

// Metadata returns a copy of the free-form metadata.
func (c *Conversation) Metadata() map[string]any {
	return cloneMap(c.metadata)
}

// MetadataValue returns a single metadata entry.
func (c *Conversation) MetadataValue(key string) (any, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// SetMetadata sets a single metadata entry.
func (c *Conversation) SetMetadata(key string, value any) error {
	if key == "" {
		return invalid("metadata", "key must not be empty")
	}
	v, err := jsonValue("metadata", value)
	if err != nil {
		return err
	}
	c.metadata[key] = v
	return nil
}

// AppendMessage adds msg at the end of the history and bumps LastActive.
// The first user message becomes the title when none is set.
func (c *Conversation) AppendMessage(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	msg, err := msg.normalize()
	if err != nil {
		return err
	}
	msg.Timestamp = Truncate(msg.Timestamp)
	c.messages = append(c.messages, msg)

	c.lastActive = msg.Timestamp
	if c.lastActive.Before(c.createdAt) {
		c.lastActive = c.createdAt
	}
	c.deriveTitle()
	return nil
}

// Messages returns a copy of the history in append order.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.messages)
}

// History returns role/content pairs in append order.
func (c *Conversation) History() []HistoryEntry {
	out := make([]HistoryEntry, len(c.messages))
	for i, m := range c.messages {
		out[i] = HistoryEntry{Role: m.Role, Content: m.Content}
	}
	return out
}

// PutAttachment records an attachment. An existing attachment with the same
// filename is replaced in place. LastActive is not changed.
func (c *Conversation) PutAttachment(f FileAttachment) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f, err := f.normalize()
	if err != nil {
		return err
	}
	if f.ContentType == "" {
		f.ContentType = DefaultContentType
	}
	f.UploadedAt = Truncate(f.UploadedAt)
	for i := range c.files {
		if c.files[i].Filename == f.Filename {
			c.files[i] = f
			return nil
		}
	}
	c.files = append(c.files, f)
	return nil
}

// RemoveAttachment drops the attachment record for filename.
func (c *Conversation) RemoveAttachment(filename string) bool {
	for i := range c.files {
		if c.files[i].Filename == filename {
			c.files = append(c.files[:i], c.files[i+1:]...)
			return true
		}
	}
	return false
}

// Attachment looks up an attachment by filename.
func (c *Conversation) Attachment(filename string) (FileAttachment, bool) {
	for _, f := range c.files {
		if f.Filename == filename {
			return f.clone(), true
		}
	}
	return FileAttachment{}, false
}

// Attachments returns a copy of the attachments in first-attached order.
func (c *Conversation) Attachments() []FileAttachment {
	out := make([]FileAttachment, len(c.files))
	for i, f := range c.files {
		out[i] = f.clone()
	}
	return out
}

func (c *Conversation) deriveTitle() {
	if c.title != "" {
		return
	}
	for _, m := range c.messages {
		if m.Role != RoleUser {
			continue
		}
		c.title = abbreviate(m.Content, autoTitleLength)
		return
	}
}

func abbreviate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
