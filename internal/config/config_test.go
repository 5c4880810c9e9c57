// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/config"
)

func defaultsViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := config.FromViper(defaultsViper())
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4-turbo", cfg.LLM.Model)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
	assert.Equal(t, "lawsbot.db", cfg.Storage.Path)
	assert.Equal(t, 30, cfg.Telegram.PollTimeout)

	assert.True(t, cfg.Retrieval.EnableDocumentSelection)
	assert.Equal(t, 5, cfg.Retrieval.MaxDocumentLookups)
	assert.Equal(t, 5, cfg.Retrieval.LookupMaxChunks)
	assert.False(t, cfg.Retrieval.RequireToolUse)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.7, cfg.Retrieval.SimilarityThreshold, 1e-9)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	v := defaultsViper()
	v.Set("llm.provider", "unsupported")
	v.Set("llm.temperature", 3.5)
	v.Set("retrieval.similarity_threshold", 1.5)
	v.Set("retrieval.max_document_lookups", 0)

	_, err := config.FromViper(v)
	require.Error(t, err)

	// Every violation surfaces at once, not just the first.
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "llm.temperature")
	assert.Contains(t, err.Error(), "retrieval.similarity_threshold")
	assert.Contains(t, err.Error(), "retrieval.max_document_lookups")
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "unknown provider", key: "llm.provider", value: "gemini"},
		{name: "empty model", key: "llm.model", value: ""},
		{name: "zero max tokens", key: "llm.max_tokens", value: 0},
		{name: "temperature too high", key: "llm.temperature", value: 2.1},
		{name: "temperature negative", key: "llm.temperature", value: -0.1},
		{name: "empty embedding model", key: "embedding.model", value: ""},
		{name: "zero embedding dimensions", key: "embedding.dimensions", value: 0},
		{name: "empty storage path", key: "storage.path", value: ""},
		{name: "zero poll timeout", key: "telegram.poll_timeout", value: 0},
		{name: "zero lookup budget", key: "retrieval.max_document_lookups", value: 0},
		{name: "zero lookup chunks", key: "retrieval.lookup_max_chunks", value: 0},
		{name: "zero top k", key: "retrieval.top_k", value: 0},
		{name: "threshold above one", key: "retrieval.similarity_threshold", value: 1.01},
		{name: "threshold negative", key: "retrieval.similarity_threshold", value: -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := defaultsViper()
			v.Set(tt.key, tt.value)

			_, err := config.FromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate_AnthropicProviderAccepted(t *testing.T) {
	v := defaultsViper()
	v.Set("llm.provider", "anthropic")
	v.Set("llm.model", "claude-sonnet-4-20250514")

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lawsbot.yaml")
	content := []byte(`
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  api_key: test-key
retrieval:
  top_k: 3
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.Retrieval.MaxDocumentLookups)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestEmbeddingAPIKeyFallback(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.APIKey = "llm-key"
	assert.Equal(t, "llm-key", cfg.EmbeddingAPIKey())

	cfg.Embedding.APIKey = "embed-key"
	assert.Equal(t, "embed-key", cfg.EmbeddingAPIKey())
}
