// Package config provides application settings loaded from a config file and
// CHATVAULT_ environment variables.
//
// Settings are created via Load() which handles:
// - Default value application
// - Optional YAML/TOML/JSON config file
// - Environment variable overrides (messages.backend -> CHATVAULT_MESSAGES_BACKEND)
// - Provider-specific model and API key lookup
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Messages backend names accepted in messages.backend.
const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATVAULT"

// Settings holds all application configuration.
type Settings struct {
	Messages MessagesConfig `mapstructure:"messages"`
	Files    FilesConfig    `mapstructure:"files"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Log      LogConfig      `mapstructure:"log"`
}

// MessagesConfig selects and configures the messages backend.
type MessagesConfig struct {
	Backend         string `mapstructure:"backend"`
	SqlitePath      string `mapstructure:"sqlite_path"`
	BoltPath        string `mapstructure:"bolt_path"`
	PostgresURL     string `mapstructure:"postgres_url"`
	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`
}

// FilesConfig configures the local files backend.
type FilesConfig struct {
	Dir       string `mapstructure:"dir"`
	URLBase   string `mapstructure:"url_base"`
	URLSecret string `mapstructure:"url_secret"`
}

// SignedURLs reports whether both halves of the signing config are set.
func (f FilesConfig) SignedURLs() bool {
	return f.URLBase != "" && f.URLSecret != ""
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	BaseURL      string  `mapstructure:"base_url"`
	MaxTokens    uint32  `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o-mini", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.0-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

var defaults = map[string]any{
	"messages.backend":          BackendSqlite,
	"messages.sqlite_path":      ".chatvault/chatvault.db",
	"messages.bolt_path":        ".chatvault/chatvault.bolt",
	"messages.postgres_url":     "",
	"messages.mongo_uri":        "",
	"messages.mongo_database":   "chatvault",
	"messages.mongo_collection": "conversations",
	"files.dir":                 ".chatvault/files",
	"files.url_base":            "",
	"files.url_secret":          "",
	"llm.provider":              "openai",
	"llm.model":                 "",
	"llm.base_url":              "",
	"llm.max_tokens":            4096,
	"llm.temperature":           0.7,
	"llm.system_prompt":         "You are a helpful assistant.",
	"log.level":                 "info",
	"log.format":                "text",
}

// Load reads settings. When path is empty, chatvault.{yaml,toml,json} is
// looked up in the working directory and in .chatvault/; a missing file is
// not an error. Environment variables override both.
func Load(path string) (Settings, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("chatvault")
		v.AddConfigPath(".")
		v.AddConfigPath(".chatvault")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}

	s.Messages.Backend = strings.ToLower(strings.TrimSpace(s.Messages.Backend))
	s.LLM.Provider = normalizeProvider(s.LLM.Provider)
	if s.LLM.Model == "" {
		if model, err := ModelFor(s.LLM.Provider); err == nil {
			s.LLM.Model = model
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks that the selected backends have everything they need.
func (s Settings) Validate() error {
	m := s.Messages
	switch m.Backend {
	case BackendMemory:
	case BackendSqlite:
		if m.SqlitePath == "" {
			return errors.New("messages.sqlite_path is required for the sqlite backend")
		}
	case BackendBolt:
		if m.BoltPath == "" {
			return errors.New("messages.bolt_path is required for the bolt backend")
		}
	case BackendPostgres:
		if m.PostgresURL == "" {
			return errors.New("messages.postgres_url is required for the postgres backend")
		}
	case BackendMongo:
		if m.MongoURI == "" || m.MongoDatabase == "" || m.MongoCollection == "" {
			return errors.New("messages.mongo_uri, messages.mongo_database and messages.mongo_collection are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown messages backend: %q", m.Backend)
	}

	if s.Files.Dir == "" {
		return errors.New("files.dir is required")
	}
	if (s.Files.URLBase == "") != (s.Files.URLSecret == "") {
		return errors.New("files.url_base and files.url_secret must be set together")
	}

	if _, err := getProviderInfo(s.LLM.Provider); err != nil {
		return err
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", s.LLM.Temperature)
	}
	if s.LLM.MaxTokens == 0 {
		return errors.New("llm.max_tokens must be positive")
	}

	switch strings.ToLower(s.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format: %q", s.Log.Format)
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
