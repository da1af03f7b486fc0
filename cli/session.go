// Backend wiring for CLI commands.
//
// Information Hiding:
// - Backend selection and connection details hidden
// - Resource cleanup order hidden behind Session.Close

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/richinex/chatvault/config"
	"github.com/richinex/chatvault/internal/logger"
	"github.com/richinex/chatvault/llm"
	"github.com/richinex/chatvault/storage"
	"github.com/richinex/chatvault/vault"
)

// Session is an opened vault together with the resources behind it.
type Session struct {
	Vault    *vault.ChatVault
	Files    *storage.LocalFiles
	Settings config.Settings
	Logger   *logger.Logger

	closeMessages func() error
}

// Open connects the backends named in settings and builds a vault over them.
func Open(ctx context.Context, settings config.Settings, log *logger.Logger) (*Session, error) {
	messages, closeMessages, err := OpenMessages(ctx, settings.Messages)
	if err != nil {
		return nil, err
	}
	files, err := OpenFiles(settings.Files)
	if err != nil {
		_ = closeMessages()
		return nil, err
	}

	log.Debug("backends opened",
		"messages_backend", settings.Messages.Backend,
		"files_dir", files.BaseDir(),
		"signed_urls", settings.Files.SignedURLs())

	return &Session{
		Vault:         vault.New(messages, files, vault.WithLogger(log.Logger)),
		Files:         files,
		Settings:      settings,
		Logger:        log,
		closeMessages: closeMessages,
	}, nil
}

// Close releases the messages backend.
func (s *Session) Close() error {
	if s.closeMessages == nil {
		return nil
	}
	return s.closeMessages()
}

// OpenMessages opens the messages backend named in cfg. The returned close
// func is never nil.
func OpenMessages(ctx context.Context, cfg config.MessagesConfig) (storage.MessagesBackend, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryMessages(), noClose, nil
	case config.BackendSqlite:
		s, err := storage.OpenSqlite(cfg.SqlitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, s.Close, nil
	case config.BackendBolt:
		s, err := storage.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, s.Close, nil
	case config.BackendPostgres:
		s, err := storage.NewPostgresMessages(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendMongo:
		s, err := storage.NewMongoMessages(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown messages backend: %q", cfg.Backend)
	}
}

// OpenFiles creates the local files backend, with signed URLs when both the
// base URL and the secret are configured.
func OpenFiles(cfg config.FilesConfig) (*storage.LocalFiles, error) {
	var opts []storage.LocalFilesOption
	if cfg.SignedURLs() {
		opts = append(opts, storage.WithSignedURLs(cfg.URLBase, cfg.URLSecret))
	}
	return storage.NewLocalFiles(cfg.Dir, opts...)
}

// NewResponder builds the LLM responder from the llm settings. The API key
// comes from the provider's environment variable.
func NewResponder(cfg config.LLMConfig) (*llm.Responder, error) {
	if cfg.Provider == "" {
		return nil, errors.New("llm.provider is required for this command")
	}

	providerType, err := llm.ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewProviderBuilder(providerType).
		Model(cfg.Model).
		BaseURL(cfg.BaseURL).
		MaxTokens(cfg.MaxTokens).
		Temperature(float32(cfg.Temperature)).
		APIKey(apiKey)
	if err != nil {
		return nil, err
	}
	return llm.NewResponder(provider, cfg.SystemPrompt), nil
}

func noClose() error { return nil }
