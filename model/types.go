// Package model provides the conversation domain types shared across packages.
//
// Everything here is pure data plus validation: no I/O happens in this
// package. Persistence lives in storage, orchestration in vault.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// ParseRole parses a string into a Role (case-insensitive).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", invalid("role", "unknown role %q", s)
	}
	return r, nil
}

// DefaultContentType is used for attachments uploaded without a MIME type.
const DefaultContentType = "application/octet-stream"

// Message is a single entry in a conversation.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// NewMessage builds a validated message stamped at the given instant.
func NewMessage(role Role, content string, metadata map[string]any, at time.Time) (Message, error) {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: Truncate(at),
		Metadata:  metadata,
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg.normalize()
}

// Validate checks the message fields.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return invalid("role", "unknown role %q", string(m.Role))
	}
	if m.Timestamp.IsZero() {
		return invalid("timestamp", "must be set")
	}
	return nil
}

func (m Message) clone() Message {
	m.Metadata = compactMap(m.Metadata)
	return m
}

func (m Message) normalize() (Message, error) {
	meta, err := jsonMap("message metadata", m.Metadata)
	if err != nil {
		return Message{}, err
	}
	m.Metadata = meta
	return m, nil
}

// FileAttachment describes a file attached to a conversation. The bytes live
// in a files backend under StorageKey; Filename is what users see.
type FileAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	StorageKey  string
	UploadedAt  time.Time
	Metadata    map[string]any
}

// Validate checks the attachment fields.
func (f FileAttachment) Validate() error {
	if err := ValidateFilename(f.Filename); err != nil {
		return err
	}
	if f.Size < 0 {
		return invalid("size", "must not be negative")
	}
	if f.StorageKey == "" {
		return invalid("storage_key", "must not be empty")
	}
	return nil
}

func (f FileAttachment) clone() FileAttachment {
	f.Metadata = compactMap(f.Metadata)
	return f
}

func (f FileAttachment) normalize() (FileAttachment, error) {
	meta, err := jsonMap("file metadata", f.Metadata)
	if err != nil {
		return FileAttachment{}, err
	}
	f.Metadata = meta
	return f, nil
}

// ValidateFilename checks that name is usable as a single path element.
func ValidateFilename(name string) error {
	return pathElement("filename", name)
}

// ValidateUserID checks a non-empty user ID, which becomes the first element
// of every attachment storage key. IDs starting with a dot are refused so
// they can't collide with "..", "." or the reserved ".meta" tree.
func ValidateUserID(userID string) error {
	if err := pathElement("user_id", userID); err != nil {
		return err
	}
	if strings.HasPrefix(userID, ".") {
		return invalid("user_id", "%q must not start with a dot", userID)
	}
	return nil
}

func pathElement(field, name string) error {
	switch {
	case name == "":
		return invalid(field, "must not be empty")
	case name == "." || name == "..":
		return invalid(field, "%q is not a path element", name)
	case strings.ContainsAny(name, `/\`):
		return invalid(field, "%q must not contain path separators", name)
	case strings.ContainsRune(name, 0):
		return invalid(field, "must not contain NUL")
	}
	return nil
}

// HistoryEntry is the role/content pair handed to LLM providers.
type HistoryEntry struct {
	Role    Role
	Content string
}

// Truncate drops sub-second precision and the monotonic clock reading.
// Persisted records carry epoch seconds, so entities do the same.
func Truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Unix(t.Unix(), 0).UTC()
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// compactMap clones m, mapping an empty map to nil so that optional metadata
// has a single empty representation.
func compactMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return cloneMap(m)
}

// jsonValue returns v as it reads back after a JSON round trip: numbers
// become float64, structs and typed maps become map[string]any. Metadata is
// kept in this form so every backend loads exactly what was saved.
func jsonValue(field string, v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, invalid(field, "value is not JSON-encodable: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, invalid(field, "value is not JSON-encodable: %v", err)
	}
	return out, nil
}

// jsonMap applies jsonValue to every entry. An empty map becomes nil.
func jsonMap(field string, m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := jsonValue(field, v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
