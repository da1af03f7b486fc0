// Package main provides the chatvault CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/chatvault/cli"
	"github.com/richinex/chatvault/config"
	"github.com/richinex/chatvault/internal/logger"
	"github.com/richinex/chatvault/llm"
)

var (
	// Global flags
	configPath string
	backend    string
	provider   string
	modelName  string
	logLevel   string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "chatvault",
		Short: "Persistent AI chat conversations with file attachments",
		Long: `A CLI for storing AI chat conversations: ordered message histories plus
file attachments, kept in a pluggable messages backend (memory, sqlite, bolt,
postgres, mongo) and a local files directory.

Conversation IDs may be abbreviated to any unique prefix.

Settings come from chatvault.yaml (or --config) and CHATVAULT_* environment
variables, e.g. CHATVAULT_MESSAGES_BACKEND=bolt.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./chatvault.yaml or .chatvault/chatvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "Messages backend (memory, sqlite, bolt, postgres, mongo)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider ("+strings.Join(config.SupportedProviders(), ", ")+")")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "LLM model (default depends on provider)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(messagesCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(sayCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(fileCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(urlCmd())
	rootCmd.AddCommand(renameCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(chatCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadSettings reads settings and applies the global flag overrides.
func loadSettings() (config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return config.Settings{}, err
	}
	if backend != "" {
		settings.Messages.Backend = strings.ToLower(backend)
	}
	if provider != "" {
		settings.LLM.Provider = provider
		if modelName == "" {
			if settings.LLM.Model, err = config.ModelFor(provider); err != nil {
				return config.Settings{}, err
			}
		}
	}
	if modelName != "" {
		settings.LLM.Model = modelName
	}
	if logLevel != "" {
		settings.Log.Level = logLevel
	}
	if verbose {
		settings.Log.Level = "debug"
	}
	return settings, settings.Validate()
}

// run opens the configured vault, hands a runner to fn and closes the vault.
func run(cmd *cobra.Command, fn func(ctx context.Context, r *cli.Runner) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	log := logger.New(settings.Log.Level, settings.Log.Format, os.Stderr)

	ctx := cmd.Context()
	sess, err := cli.Open(ctx, settings, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to close messages backend", "error", err)
		}
	}()

	runner := cli.NewRunner(sess.Vault, func() (*llm.Responder, error) {
		return cli.NewResponder(settings.LLM)
	})
	runner.Out = cmd.OutOrStdout()
	runner.In = cmd.InOrStdin()
	return fn(ctx, runner)
}

func createCmd() *cobra.Command {
	var userID string
	var title string
	var metadata map[string]string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a conversation and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Create(ctx, userID, title, metadata)
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owning user ID (omit for an anonymous conversation)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Conversation title")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Metadata entries (key=value, repeatable)")

	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Show a conversation's summary, metadata and files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Show(ctx, args[0])
			})
		},
	}
}

func listCmd() *cobra.Command {
	var userID string
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recently active first",
		Long: `List conversations, most recently active first.

With --user, lists every conversation owned by that user. Without it, pages
through all conversations with --limit and --offset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.List(ctx, userID, limit, offset)
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only conversations owned by this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size when listing all conversations")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset when listing all conversations")

	return cmd
}

func deleteCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "delete [conversation-id]",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Delete(ctx, args[0], purge)
			})
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the attachment bytes")

	return cmd
}

func messagesCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "messages [conversation-id]",
		Short: "Print a conversation's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Messages(ctx, args[0], last)
			})
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 0, "Only the newest N messages")

	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [conversation-id] [query]",
		Short: "Find the messages containing a phrase (case-insensitive)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Search(ctx, args[0], args[1])
			})
		},
	}
}

func sayCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "say [conversation-id] [content]",
		Short: "Append a message without asking an LLM",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Say(ctx, args[0], role, args[1])
			})
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", "user", "Message role (user, assistant, system, tool)")

	return cmd
}

func attachCmd() *cobra.Command {
	var name string
	var contentType string

	cmd := &cobra.Command{
		Use:   "attach [conversation-id] [path]",
		Short: "Attach a local file to a conversation",
		Long: `Attach a local file to a conversation. Attaching a filename that is
already attached replaces both its bytes and its record.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Attach(ctx, args[0], args[1], name, contentType)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Filename to attach as (default: base name of path)")
	cmd.Flags().StringVar(&contentType, "type", "", "Content type (default: guessed)")

	return cmd
}

func fileCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "file [conversation-id] [filename]",
		Short: "Download an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.File(ctx, args[0], args[1], outPath)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "-", "Output path ('-' for stdout)")

	return cmd
}

func filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files [conversation-id]",
		Short: "List a conversation's attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Files(ctx, args[0])
			})
		},
	}
}

func urlCmd() *cobra.Command {
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "url [conversation-id] [filename]",
		Short: "Print a time-limited download URL for an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.URL(ctx, args[0], args[1], expires)
			})
		},
	}

	cmd.Flags().DurationVar(&expires, "expires", 15*time.Minute, "How long the URL stays valid")

	return cmd
}

func renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename [conversation-id] [title]",
		Short: "Set a conversation's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Rename(ctx, args[0], args[1])
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [conversation-id]",
		Short: "Mark a conversation archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Archive(ctx, args[0])
			})
		},
	}
}

func chatCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "chat [conversation-id] [message]",
		Short: "Chat with the configured LLM inside a conversation",
		Long: `Send a user message and store the LLM's reply in the conversation.

Without a message, starts an interactive session that reads one message per
line until 'exit'. The full stored history is sent with every turn.

The API key is read from the provider's environment variable
(OPENAI_API_KEY, ANTHROPIC_API_KEY, DEEPSEEK_API_KEY, GEMINI_API_KEY).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) == 2 {
				message = args[1]
			}
			return run(cmd, func(ctx context.Context, r *cli.Runner) error {
				return r.Chat(ctx, args[0], message, stream)
			})
		},
	}

	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Print the reply as it arrives")

	return cmd
}
