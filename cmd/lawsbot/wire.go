// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"log/slog"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/bot"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/config"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/embedding"
	indexsqlite "github.com/ykarulin/telegram-laws-of-the-game/internal/index/sqlite"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	anthropicprov "github.com/ykarulin/telegram-laws-of-the-game/internal/provider/anthropic"
	openaiprov "github.com/ykarulin/telegram-laws-of-the-game/internal/provider/openai"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/retrieval"
	storesqlite "github.com/ykarulin/telegram-laws-of-the-game/internal/store/sqlite"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Gateway      provider.Gateway
	Embedder     *embedding.OpenAIEmbedder
	Index        *indexsqlite.Index
	MessageStore *storesqlite.MessageStore
	Engine       *retrieval.Engine
	Features     *bot.FeatureRegistry
	Orchestrator *bot.Orchestrator
}

// WireApp creates all subsystems and wires them together.
func WireApp(cfg *config.Config) (*App, error) {
	gateway, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		APIKey:     cfg.EmbeddingAPIKey(),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		_ = gateway.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeCLISetupFailure, "creating embedder")
	}

	idx, err := indexsqlite.New(cfg.Storage.Path, cfg.Embedding.Dimensions)
	if err != nil {
		_ = gateway.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeCLISetupFailure, "opening document index")
	}

	messages, err := storesqlite.NewMessageStore(cfg.Storage.Path)
	if err != nil {
		_ = idx.Close()
		_ = gateway.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeCLISetupFailure, "opening message store")
	}

	engine := retrieval.NewEngine(embedder, idx, cfg.Retrieval.TopK, cfg.Retrieval.SimilarityThreshold)
	lookup := bot.NewLookupTool(engine, cfg.Retrieval.LookupMaxChunks, cfg.Retrieval.SimilarityThreshold)
	features := bot.NewFeatureRegistry()

	orchestrator, err := bot.NewOrchestrator(gateway, engine, idx, lookup, features, bot.OrchestratorConfig{
		Model:               cfg.LLM.Model,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		EnableDocSelection:  cfg.Retrieval.EnableDocumentSelection,
		MaxDocumentLookups:  cfg.Retrieval.MaxDocumentLookups,
		LookupMaxChunks:     cfg.Retrieval.LookupMaxChunks,
		RequireToolUse:      cfg.Retrieval.RequireToolUse,
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
	})
	if err != nil {
		_ = messages.Close()
		_ = idx.Close()
		_ = gateway.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeCLISetupFailure, "creating orchestrator")
	}

	slog.Info("subsystems wired",
		"provider", gateway.Name(),
		"model", cfg.LLM.Model,
		"storage", cfg.Storage.Path,
		"document_selection", cfg.Retrieval.EnableDocumentSelection,
	)

	return &App{
		Gateway:      gateway,
		Embedder:     embedder,
		Index:        idx,
		MessageStore: messages,
		Engine:       engine,
		Features:     features,
		Orchestrator: orchestrator,
	}, nil
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	type closer interface{ Close() error }
	closers := []closer{a.MessageStore, a.Index, a.Gateway}

	var errs []error
	for _, c := range closers {
		if c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// gatewayFactory builds a provider.Gateway from the LLM config.
type gatewayFactory func(config.LLMConfig) (provider.Gateway, error)

// gatewayFactories maps provider names to their constructors. Declared as a
// variable so tests can inject failing factories.
var gatewayFactories = map[string]gatewayFactory{
	"openai": func(lc config.LLMConfig) (provider.Gateway, error) {
		return openaiprov.New(openaiprov.Config{APIKey: lc.APIKey})
	},
	"anthropic": func(lc config.LLMConfig) (provider.Gateway, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: lc.APIKey})
	},
}

func newGateway(cfg *config.Config) (provider.Gateway, error) {
	factory, ok := gatewayFactories[cfg.LLM.Provider]
	if !ok {
		return nil, lawserr.Errorf(lawserr.CodeCLISetupFailure, "unknown llm provider %q", cfg.LLM.Provider)
	}

	gateway, err := factory(cfg.LLM)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeCLISetupFailure, "creating %s gateway", cfg.LLM.Provider)
	}
	return gateway, nil
}
