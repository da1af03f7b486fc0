package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/richinex/chatvault/model"
)

// Conversation is a conversation bound to the vault that loaded it. Mutations
// are applied to a copy, persisted, and only then made visible, so a failed
// save leaves the handle as it was.
//
// A Conversation is not safe for concurrent use.
type Conversation struct {
	vault *ChatVault
	conv  *model.Conversation
}

func (c *Conversation) ID() string            { return c.conv.ID() }
func (c *Conversation) UserID() string        { return c.conv.UserID() }
func (c *Conversation) Title() string         { return c.conv.Title() }
func (c *Conversation) CreatedAt() time.Time  { return c.conv.CreatedAt() }
func (c *Conversation) LastActive() time.Time { return c.conv.LastActive() }
func (c *Conversation) Anonymous() bool       { return c.conv.Anonymous() }
func (c *Conversation) MessageCount() int     { return c.conv.MessageCount() }

// Metadata returns a copy of the conversation metadata.
func (c *Conversation) Metadata() map[string]any {
	return c.conv.Metadata()
}

// Archived reports whether ArchiveConversation has been applied.
func (c *Conversation) Archived() bool {
	v, ok := c.conv.MetadataValue(MetadataArchived)
	archived, _ := v.(bool)
	return ok && archived
}

// Model returns a copy of the underlying entity.
func (c *Conversation) Model() *model.Conversation {
	return c.conv.Clone()
}

// GetMessages returns the messages in append order.
func (c *Conversation) GetMessages() []model.Message {
	return c.conv.Messages()
}

// History returns role/content pairs in append order, ready for an LLM.
func (c *Conversation) History() []model.HistoryEntry {
	return c.conv.History()
}

// AddMessage appends a message stamped with the vault clock and saves.
func (c *Conversation) AddMessage(ctx context.Context, role model.Role, content string, metadata map[string]any) (model.Message, error) {
	msg, err := model.NewMessage(role, content, metadata, c.vault.now())
	if err != nil {
		return model.Message{}, err
	}
	err = c.apply(ctx, "add_message", func(next *model.Conversation) error {
		return next.AppendMessage(msg)
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// AttachFile uploads data and records the attachment. Re-attaching a filename
// overwrites both the bytes and the record.
//
// The bytes are uploaded first. If the upload fails nothing is recorded. If
// the record cannot be saved afterwards, the handle keeps its previous
// attachments and the uploaded bytes are left behind and logged.
func (c *Conversation) AttachFile(ctx context.Context, filename string, data []byte, contentType string, metadata map[string]any) (model.FileAttachment, error) {
	if err := model.ValidateFilename(filename); err != nil {
		return model.FileAttachment{}, err
	}
	if contentType == "" {
		contentType = model.DefaultContentType
	}

	key := StorageKey(c.conv.ID(), c.conv.UserID(), filename)
	if err := c.vault.files.Upload(ctx, key, data, contentType); err != nil {
		return model.FileAttachment{}, fmt.Errorf("failed to upload %q: %w", filename, err)
	}

	attachment := model.FileAttachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		StorageKey:  key,
		UploadedAt:  model.Truncate(c.vault.now()),
		Metadata:    metadata,
	}
	err := c.apply(ctx, "attach_file", func(next *model.Conversation) error {
		return next.PutAttachment(attachment)
	})
	if err != nil {
		c.vault.logger.Warn("attachment bytes orphaned",
			"conversation_id", c.conv.ID(),
			"filename", filename,
			"storage_key", key,
			"error", err)
		return model.FileAttachment{}, err
	}
	f, _ := c.conv.Attachment(filename)
	return f, nil
}

// GetFile downloads an attachment's bytes.
// Returns nil, false, nil if no attachment has that filename or its bytes are gone.
func (c *Conversation) GetFile(ctx context.Context, filename string) ([]byte, bool, error) {
	f, ok := c.conv.Attachment(filename)
	if !ok {
		return nil, false, nil
	}
	data, ok, err := c.vault.files.Download(ctx, f.StorageKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to download %q: %w", filename, err)
	}
	return data, ok, nil
}

// GetAttachment returns the attachment record for filename.
func (c *Conversation) GetAttachment(filename string) (model.FileAttachment, bool) {
	return c.conv.Attachment(filename)
}

// ListFiles returns the attachment records in first-attached order.
func (c *Conversation) ListFiles() []model.FileAttachment {
	return c.conv.Attachments()
}

// FileURL asks the files backend for a time-limited URL, suggesting the
// attachment's filename for the download.
// Returns "", false, nil if there is no such attachment or the backend can't sign URLs.
func (c *Conversation) FileURL(ctx context.Context, filename string, expiresIn time.Duration) (string, bool, error) {
	if expiresIn < 0 {
		return "", false, model.Invalid("expires_in", "must not be negative, got %s", expiresIn)
	}
	f, ok := c.conv.Attachment(filename)
	if !ok {
		return "", false, nil
	}
	u, ok, err := c.vault.files.SignedURL(ctx, f.StorageKey, expiresIn, f.Filename)
	if err != nil {
		return "", false, fmt.Errorf("failed to sign url for %q: %w", filename, err)
	}
	return u, ok, nil
}

// RemoveFile drops the attachment record, saves, then deletes the bytes.
// Returns false if no attachment has that filename.
func (c *Conversation) RemoveFile(ctx context.Context, filename string) (bool, error) {
	f, ok := c.conv.Attachment(filename)
	if !ok {
		return false, nil
	}
	err := c.apply(ctx, "remove_file", func(next *model.Conversation) error {
		next.RemoveAttachment(filename)
		return nil
	})
	if err != nil {
		return false, err
	}
	if _, err := c.vault.files.Delete(ctx, f.StorageKey); err != nil {
		return true, fmt.Errorf("failed to delete bytes of %q: %w", filename, err)
	}
	return true, nil
}

// Rename sets the title and saves.
func (c *Conversation) Rename(ctx context.Context, title string) error {
	return c.apply(ctx, "rename", func(next *model.Conversation) error {
		next.SetTitle(title)
		return nil
	})
}

// SetMetadata sets one metadata entry and saves.
func (c *Conversation) SetMetadata(ctx context.Context, key string, value any) error {
	return c.apply(ctx, "set_metadata", func(next *model.Conversation) error {
		return next.SetMetadata(key, value)
	})
}

// Save persists the conversation as it is.
func (c *Conversation) Save(ctx context.Context) error {
	if err := c.vault.messages.Save(ctx, c.conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// apply runs mutate on a copy, saves the copy and swaps it in.
func (c *Conversation) apply(ctx context.Context, op string, mutate func(*model.Conversation) error) error {
	next := c.conv.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := c.vault.messages.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	c.conv = next
	c.vault.logger.Debug("conversation updated", "conversation_id", next.ID(), "op", op)
	return nil
}
