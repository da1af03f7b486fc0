// Command execution for CLI commands.
//
// Information Hiding:
// - Conversation lookup and not-found reporting hidden
// - Chat turn persistence hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/richinex/chatvault/llm"
	"github.com/richinex/chatvault/model"
	"github.com/richinex/chatvault/vault"
)

// ErrNotFound is returned when a command names a conversation or file that
// doesn't exist.
var ErrNotFound = errors.New("not found")

const (
	timeLayout     = "2006-01-02 15:04:05"
	previewLength  = 60
	defaultURLTTL  = 15 * time.Minute
	chatExitPrompt = "Type 'exit' to quit."
)

// Runner executes commands against one vault.
type Runner struct {
	Vault *vault.ChatVault
	Out   io.Writer
	In    io.Reader

	// Responder is built on first use so that commands that don't talk to
	// an LLM never need an API key.
	Responder func() (*llm.Responder, error)
}

// NewRunner creates a runner writing to stdout and reading from stdin.
func NewRunner(v *vault.ChatVault, responder func() (*llm.Responder, error)) *Runner {
	return &Runner{Vault: v, Out: os.Stdout, In: os.Stdin, Responder: responder}
}

// Create starts a conversation and prints its ID.
func (r *Runner) Create(ctx context.Context, userID, title string, metadata map[string]string) error {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	conv, err := r.Vault.CreateConversation(ctx, userID, meta)
	if err != nil {
		return err
	}
	if title != "" {
		if err := conv.Rename(ctx, title); err != nil {
			return err
		}
	}
	fmt.Fprintln(r.Out, conv.ID())
	return nil
}

// Show prints a conversation's summary, metadata and attachments.
func (r *Runner) Show(ctx context.Context, id string) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}

	user := conv.UserID()
	if conv.Anonymous() {
		user = "(anonymous)"
	}
	fmt.Fprintf(r.Out, "ID:          %s\n", conv.ID())
	fmt.Fprintf(r.Out, "User:        %s\n", user)
	fmt.Fprintf(r.Out, "Title:       %s\n", conv.Title())
	fmt.Fprintf(r.Out, "Created:     %s\n", formatTime(conv.CreatedAt()))
	fmt.Fprintf(r.Out, "Last active: %s\n", formatTime(conv.LastActive()))
	fmt.Fprintf(r.Out, "Messages:    %d\n", conv.MessageCount())
	fmt.Fprintf(r.Out, "Archived:    %t\n", conv.Archived())
	if msgs := conv.GetMessages(); len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		fmt.Fprintf(r.Out, "Last:        %s: %s\n", last.Role, preview(last.Content))
	}

	if meta := conv.Metadata(); len(meta) > 0 {
		fmt.Fprintln(r.Out, "Metadata:")
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(r.Out, "  %s: %v\n", k, meta[k])
		}
	}
	if files := conv.ListFiles(); len(files) > 0 {
		fmt.Fprintln(r.Out, "Files:")
		for _, f := range files {
			fmt.Fprintf(r.Out, "  %s (%s, %d bytes)\n", f.Filename, f.ContentType, f.Size)
		}
	}
	return nil
}

// List prints a user's conversations, or every conversation a page at a time
// when userID is empty.
func (r *Runner) List(ctx context.Context, userID string, limit, offset int) error {
	var (
		convs []*vault.Conversation
		err   error
	)
	if userID != "" {
		convs, err = r.Vault.GetConversations(ctx, userID)
	} else {
		convs, err = r.Vault.ListConversations(ctx, limit, offset)
	}
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(r.Out, "No conversations.")
		return nil
	}

	tw := tabwriter.NewWriter(r.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tMESSAGES\tLAST ACTIVE\tTITLE")
	for _, c := range convs {
		title := c.Title()
		if c.Archived() {
			title += " [archived]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.ID(), c.UserID(), c.MessageCount(), formatTime(c.LastActive()), title)
	}
	return tw.Flush()
}

// Delete removes a conversation. With purge, attachment bytes go too.
func (r *Runner) Delete(ctx context.Context, id string, purge bool) error {
	id, err := r.resolve(ctx, id)
	if err != nil {
		return err
	}
	var existed bool
	if purge {
		existed, err = r.Vault.PurgeConversation(ctx, id)
	} else {
		existed, err = r.Vault.DeleteConversation(ctx, id)
	}
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	fmt.Fprintf(r.Out, "Deleted %s\n", id)
	return nil
}

// Messages prints the history, oldest first. A positive last keeps only the
// newest messages.
func (r *Runner) Messages(ctx context.Context, id string, last int) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	msgs := conv.GetMessages()
	if last > 0 && len(msgs) > last {
		msgs = msgs[len(msgs)-last:]
	}
	for _, m := range msgs {
		fmt.Fprintf(r.Out, "[%s] %s: %s\n", formatTime(m.Timestamp), m.Role, m.Content)
	}
	return nil
}

// Search prints the messages containing query, ignoring case.
func (r *Runner) Search(ctx context.Context, id, query string) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	matches := conv.Search(query)
	if len(matches) == 0 {
		fmt.Fprintln(r.Out, "No matches.")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(r.Out, "#%d %s (%d): %s\n", m.Index+1, m.Message.Role, m.Hits, preview(m.Snippet))
	}
	return nil
}

// Say appends one message without asking an LLM.
func (r *Runner) Say(ctx context.Context, id, role, content string) error {
	parsed, err := model.ParseRole(role)
	if err != nil {
		return err
	}
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := conv.AddMessage(ctx, parsed, content, nil); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "%d messages\n", conv.MessageCount())
	return nil
}

// Attach uploads a local file. name defaults to the file's base name and
// contentType to one guessed from the extension or the bytes.
func (r *Runner) Attach(ctx context.Context, id, path, name, contentType string) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if contentType == "" {
		contentType = DetectContentType(name, data)
	}

	f, err := conv.AttachFile(ctx, name, data, contentType, map[string]any{"source_path": path})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Attached %s (%s, %d bytes)\n", f.Filename, f.ContentType, f.Size)
	return nil
}

// File writes an attachment's bytes to outPath, or to the runner's output
// when outPath is empty or "-".
func (r *Runner) File(ctx context.Context, id, filename, outPath string) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	data, ok, err := conv.GetFile(ctx, filename)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("file %q: %w", filename, ErrNotFound)
	}
	if outPath == "" || outPath == "-" {
		_, err := r.Out.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Fprintf(r.Out, "Wrote %d bytes to %s\n", len(data), outPath)
	return nil
}

// Files prints the attachment records.
func (r *Runner) Files(ctx context.Context, id string) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	files := conv.ListFiles()
	if len(files) == 0 {
		fmt.Fprintln(r.Out, "No files.")
		return nil
	}
	tw := tabwriter.NewWriter(r.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILENAME\tTYPE\tSIZE\tUPLOADED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Filename, f.ContentType, f.Size, formatTime(f.UploadedAt))
	}
	return tw.Flush()
}

// URL prints a time-limited download URL for an attachment.
func (r *Runner) URL(ctx context.Context, id, filename string, expiresIn time.Duration) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := conv.GetAttachment(filename); !ok {
		return fmt.Errorf("file %q: %w", filename, ErrNotFound)
	}
	if expiresIn == 0 {
		expiresIn = defaultURLTTL
	}
	u, ok, err := conv.FileURL(ctx, filename, expiresIn)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signed URLs are not configured (set files.url_base and files.url_secret)")
	}
	fmt.Fprintln(r.Out, u)
	return nil
}

// Rename sets a conversation's title.
func (r *Runner) Rename(ctx context.Context, id, title string) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if err := conv.Rename(ctx, title); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Renamed %s\n", id)
	return nil
}

// Archive marks a conversation archived.
func (r *Runner) Archive(ctx context.Context, id string) error {
	id, err := r.resolve(ctx, id)
	if err != nil {
		return err
	}
	ok, err := r.Vault.ArchiveConversation(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	fmt.Fprintf(r.Out, "Archived %s\n", id)
	return nil
}

// Chat sends message as the user and stores the LLM's reply. With an empty
// message it reads one turn per input line until EOF or "exit".
func (r *Runner) Chat(ctx context.Context, id, message string, stream bool) error {
	conv, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if r.Responder == nil {
		return errors.New("no LLM provider configured")
	}
	responder, err := r.Responder()
	if err != nil {
		return err
	}

	if message != "" {
		return r.turn(ctx, conv, responder, message, stream)
	}

	if n := conv.MessageCount(); n > 0 {
		fmt.Fprintf(r.Out, "Resuming conversation '%s' (%d messages)\n", conv.ID(), n)
	}
	fmt.Fprintf(r.Out, "Chatting with %s/%s. %s\n\n", responder.Provider().Name(), responder.Provider().Model(), chatExitPrompt)

	scanner := bufio.NewScanner(r.In)
	for {
		fmt.Fprint(r.Out, "> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if err := r.turn(ctx, conv, responder, input, stream); err != nil {
			fmt.Fprintf(r.Out, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintln(r.Out)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

// turn stores the user message, asks for a reply and stores that too. A
// failed reply leaves the user message in place.
func (r *Runner) turn(ctx context.Context, conv *vault.Conversation, responder *llm.Responder, input string, stream bool) error {
	if _, err := conv.AddMessage(ctx, model.RoleUser, input, nil); err != nil {
		return err
	}

	var (
		resp llm.LLMResponse
		err  error
	)
	if stream {
		resp, err = responder.StreamReply(ctx, conv.History(), func(chunk string) {
			fmt.Fprint(r.Out, chunk)
		})
		fmt.Fprintln(r.Out)
	} else {
		resp, err = responder.Reply(ctx, conv.History())
		if err == nil {
			fmt.Fprintln(r.Out, resp.Content)
		}
	}
	if err != nil {
		return err
	}

	provider := responder.Provider()
	meta := map[string]any{
		"provider": provider.Name(),
		"model":    provider.Model(),
	}
	if resp.Usage != nil {
		meta["prompt_tokens"] = int(resp.Usage.PromptTokens)
		meta["completion_tokens"] = int(resp.Usage.CompletionTokens)
		meta["total_tokens"] = int(resp.Usage.TotalTokens)
	}
	_, err = conv.AddMessage(ctx, model.RoleAssistant, resp.Content, meta)
	return err
}

func (r *Runner) load(ctx context.Context, id string) (*vault.Conversation, error) {
	conv, err := r.Vault.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	full, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	conv, err = r.Vault.GetConversation(ctx, full)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return conv, nil
}

// resolve expands an ID prefix. Backends that can't list only accept full IDs.
func (r *Runner) resolve(ctx context.Context, id string) (string, error) {
	full, err := r.Vault.ResolveConversationID(ctx, id)
	if errors.Is(err, vault.ErrListUnsupported) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	if full == "" {
		return "", fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return full, nil
}

// DetectContentType guesses a MIME type from the filename extension, falling
// back to sniffing the bytes.
func DetectContentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	if len(data) == 0 {
		return model.DefaultContentType
	}
	return http.DetectContentType(data)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// preview shortens s to one line for listings.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= previewLength {
		return s
	}
	return s[:previewLength-3] + "..."
}
