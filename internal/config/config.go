// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"strings"

	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level bot configuration. It is read once at startup and
// treated as immutable afterwards.
type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// TelegramConfig holds the chat transport settings.
type TelegramConfig struct {
	Token       string  `mapstructure:"token"`
	AdminIDs    []int64 `mapstructure:"admin_ids"`
	PollTimeout int     `mapstructure:"poll_timeout"`
}

// LLMConfig selects and configures the language model gateway.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// EmbeddingConfig configures the query/document embedder.
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// StorageConfig locates the SQLite database holding messages and the
// corpus index.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// RetrievalConfig bounds the retrieval and tool-calling machinery.
type RetrievalConfig struct {
	EnableDocumentSelection bool    `mapstructure:"enable_document_selection"`
	MaxDocumentLookups      int     `mapstructure:"max_document_lookups"`
	LookupMaxChunks         int     `mapstructure:"lookup_max_chunks"`
	RequireToolUse          bool    `mapstructure:"require_tool_use"`
	TopK                    int     `mapstructure:"top_k"`
	SimilarityThreshold     float64 `mapstructure:"similarity_threshold"`
}

// SetDefaults registers every config default on the given Viper.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4-turbo")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 512)
	v.SetDefault("storage.path", "lawsbot.db")
	v.SetDefault("retrieval.enable_document_selection", true)
	v.SetDefault("retrieval.max_document_lookups", 5)
	v.SetDefault("retrieval.lookup_max_chunks", 5)
	v.SetDefault("retrieval.require_tool_use", false)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.similarity_threshold", 0.7)
}

// SetupEnv binds environment variables with the LAWSBOT_ prefix
// (e.g. LAWSBOT_TELEGRAM_TOKEN, LAWSBOT_LLM_API_KEY).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("LAWSBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper unmarshals and validates a Config from the given Viper.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, lawserr.Errorf(lawserr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateLLM()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateRetrieval()...)

	if c.Storage.Path == "" {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue, "config: storage.path must not be empty"))
	}

	if c.Telegram.PollTimeout <= 0 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: telegram.poll_timeout must be greater than 0, got %d",
			c.Telegram.PollTimeout,
		))
	}

	return errs
}

func (c *Config) validateLLM() []error {
	var errs []error

	validProviders := map[string]bool{"openai": true, "anthropic": true}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: llm.provider must be one of [openai, anthropic], got %q",
			c.LLM.Provider,
		))
	}

	if c.LLM.Model == "" {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue, "config: llm.model must not be empty"))
	}

	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: llm.max_tokens must be greater than 0, got %d",
			c.LLM.MaxTokens,
		))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: llm.temperature must be between 0.0 and 2.0, got %g",
			c.LLM.Temperature,
		))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	if c.Embedding.Model == "" {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue, "config: embedding.model must not be empty"))
	}

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: embedding.dimensions must be greater than 0, got %d",
			c.Embedding.Dimensions,
		))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if c.Retrieval.MaxDocumentLookups < 1 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: retrieval.max_document_lookups must be at least 1, got %d",
			c.Retrieval.MaxDocumentLookups,
		))
	}

	if c.Retrieval.LookupMaxChunks < 1 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: retrieval.lookup_max_chunks must be at least 1, got %d",
			c.Retrieval.LookupMaxChunks,
		))
	}

	if c.Retrieval.TopK < 1 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: retrieval.top_k must be at least 1, got %d",
			c.Retrieval.TopK,
		))
	}

	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		errs = append(errs, lawserr.Errorf(lawserr.CodeConfigValidateInvalidValue,
			"config: retrieval.similarity_threshold must be between 0.0 and 1.0, got %g",
			c.Retrieval.SimilarityThreshold,
		))
	}

	return errs
}

// EmbeddingAPIKey returns the embedding API key, falling back to the LLM key
// when the embedding section does not set its own.
func (c *Config) EmbeddingAPIKey() string {
	if c.Embedding.APIKey != "" {
		return c.Embedding.APIKey
	}
	return c.LLM.APIKey
}
