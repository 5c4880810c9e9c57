// SPDX-License-Identifier: Apache-2.0

package bot_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/bot"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

func defaultConfig() bot.OrchestratorConfig {
	return bot.OrchestratorConfig{
		Model:               "gpt-4-turbo",
		Temperature:         0.7,
		MaxTokens:           4096,
		EnableDocSelection:  true,
		MaxDocumentLookups:  5,
		LookupMaxChunks:     5,
		TopK:                5,
		SimilarityThreshold: 0.7,
	}
}

func newOrchestrator(t *testing.T, gateway *mockGateway, retriever *mockRetriever, catalog *mockCatalog, cfg bot.OrchestratorConfig) *bot.Orchestrator {
	t.Helper()

	lookup := bot.NewLookupTool(retriever, cfg.LookupMaxChunks, cfg.SimilarityThreshold)
	orch, err := bot.NewOrchestrator(gateway, retriever, catalog, lookup, bot.NewFeatureRegistry(), cfg)
	require.NoError(t, err)
	return orch
}

func TestOrchestrator_EmptyQuery(t *testing.T) {
	orch := newOrchestrator(t, &mockGateway{}, &mockRetriever{}, &mockCatalog{}, defaultConfig())

	_, err := orch.Answer(context.Background(), bot.Request{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, lawserr.CodeOrchestratorInvalidInput, lawserr.CodeOf(err))
}

func TestOrchestrator_DisabledPath(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("The offside rule is defined in Law 11."),
	}}
	retriever := &mockRetriever{chunks: someChunks()}

	cfg := defaultConfig()
	cfg.EnableDocSelection = false
	orch := newOrchestrator(t, gateway, retriever, &mockCatalog{}, cfg)

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	assert.Equal(t, bot.PathDisabled, outcome.Path)
	assert.False(t, outcome.UsedTool)
	require.Len(t, gateway.requests, 1, "disabled path makes exactly one model call")
	assert.Empty(t, gateway.requests[0].Tools, "disabled path must not offer tools")
	assert.Contains(t, gateway.requests[0].SystemPrompt, "CONTEXT:", "retrieved context goes into the system prompt")
	assert.Contains(t, outcome.AnswerText, "Law 11")
}

func TestOrchestrator_DisabledPath_RetrievalDegrades(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Answering from general knowledge."),
	}}
	retriever := &mockRetriever{err: recoverableErr()}

	cfg := defaultConfig()
	cfg.EnableDocSelection = false
	orch := newOrchestrator(t, gateway, retriever, &mockCatalog{}, cfg)

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err, "recoverable retrieval failure must not fail the request")

	assert.Equal(t, "Answering from general knowledge.", outcome.AnswerText)
	assert.Empty(t, outcome.Citations)
}

func TestOrchestrator_EmptyCatalogFallsBackToUpfront(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Answer without tool."),
	}}
	retriever := &mockRetriever{}
	orch := newOrchestrator(t, gateway, retriever, &mockCatalog{names: nil}, defaultConfig())

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	assert.Equal(t, bot.PathDisabled, outcome.Path)
	require.Len(t, gateway.requests, 1)
	assert.Empty(t, gateway.requests[0].Tools)
}

func TestOrchestrator_CatalogErrorFallsBackToUpfront(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Answer without tool."),
	}}
	retriever := &mockRetriever{}
	catalog := &mockCatalog{err: lawserr.New(lawserr.CodeIndexCatalogFailure, "no catalog")}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err, "catalog failure degrades rather than failing the request")
	assert.Equal(t, bot.PathDisabled, outcome.Path)
}

func TestOrchestrator_ToolPath(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		toolCompletion(lookupCall("call-1", "laws-of-the-game")),
		textCompletion("Per Law 11, a player is offside when..."),
	}}
	retriever := &mockRetriever{chunks: someChunks()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game", "var-protocol"}}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	assert.Equal(t, bot.PathToolUsed, outcome.Path)
	assert.True(t, outcome.UsedTool)
	require.Len(t, gateway.requests, 2)

	// First call offers the tool and lists the catalog in the prompt.
	require.Len(t, gateway.requests[0].Tools, 1)
	assert.Equal(t, "lookup_documents", gateway.requests[0].Tools[0].Name)
	assert.Contains(t, gateway.requests[0].SystemPrompt, "1. laws-of-the-game")

	// Second call carries the assistant echo and the tool result.
	msgs := gateway.requests[1].Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	assistant := msgs[len(msgs)-2]
	assert.Equal(t, provider.MessageRoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	toolMsg := msgs[len(msgs)-1]
	assert.Equal(t, provider.MessageRoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"status":"success"`)

	// Citations dedup by (document, section) and keep first-seen order. The
	// lookup matched only laws-of-the-game chunks, both in Law 11.
	assert.Equal(t, []string{"[Source: laws-of-the-game, Law 11]"}, outcome.Citations)
	assert.True(t, strings.HasSuffix(outcome.AnswerText, "[Source: laws-of-the-game, Law 11]"))
}

func TestOrchestrator_ToolBudget(t *testing.T) {
	// The model requests one lookup per turn and never stops on its own.
	gateway := &mockGateway{completions: []*provider.Completion{
		toolCompletion(lookupCall("call-1", "laws-of-the-game")),
		toolCompletion(lookupCall("call-2", "laws-of-the-game")),
		textCompletion("Final answer after exhausting the budget."),
	}}
	retriever := &mockRetriever{chunks: someChunks()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}

	cfg := defaultConfig()
	cfg.MaxDocumentLookups = 2
	orch := newOrchestrator(t, gateway, retriever, catalog, cfg)

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	// Budget 2 allows at most 3 model calls: initial + one per lookup.
	require.Len(t, gateway.requests, 3)
	assert.Empty(t, gateway.requests[2].Tools, "final call after budget exhaustion must not offer tools")
	assert.Contains(t, outcome.AnswerText, "Final answer")
}

func TestOrchestrator_ToolBudget_ExcessCallsSameTurn(t *testing.T) {
	// The model requests three lookups in one turn against a budget of two:
	// the third gets a budget error result instead of being executed.
	gateway := &mockGateway{completions: []*provider.Completion{
		toolCompletion(
			lookupCall("call-1", "laws-of-the-game"),
			lookupCall("call-2", "laws-of-the-game"),
			lookupCall("call-3", "laws-of-the-game"),
		),
		textCompletion("Answer."),
	}}
	retriever := &mockRetriever{chunks: someChunks()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}

	cfg := defaultConfig()
	cfg.MaxDocumentLookups = 2
	orch := newOrchestrator(t, gateway, retriever, catalog, cfg)

	_, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	require.Len(t, gateway.requests, 2)

	var budgetErrors int
	for _, msg := range gateway.requests[1].Messages {
		if msg.Role == provider.MessageRoleTool && strings.Contains(msg.Content, "lookup limit reached") {
			budgetErrors++
		}
	}
	assert.Equal(t, 1, budgetErrors, "the over-budget call gets an error result")
	assert.Empty(t, gateway.requests[1].Tools)
}

func TestOrchestrator_ToolPath_UnknownToolName(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		toolCompletion(provider.ToolCall{ID: "call-1", Name: "delete_everything", Arguments: "{}"}),
		textCompletion("Answer."),
	}}
	retriever := &mockRetriever{chunks: someChunks()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	_, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	require.Len(t, gateway.requests, 2)
	toolMsg := gateway.requests[1].Messages[len(gateway.requests[1].Messages)-1]
	assert.Contains(t, toolMsg.Content, "unknown tool")
	assert.Equal(t, 0, retriever.searchCalls, "unknown tools must not trigger searches")
}

func TestOrchestrator_FallbackPath_WithChunks(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Ungrounded draft that should be discarded."),
		textCompletion("Grounded answer from retrieved context."),
	}}
	retriever := &mockRetriever{chunks: someChunks()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game", "var-protocol"}}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	assert.Equal(t, bot.PathFallback, outcome.Path)
	assert.False(t, outcome.UsedTool)
	require.Len(t, gateway.requests, 2)

	assert.Contains(t, gateway.requests[1].SystemPrompt, "CONTEXT:")
	assert.Empty(t, gateway.requests[1].Tools, "regeneration call must not offer tools")
	assert.Contains(t, outcome.AnswerText, "Grounded answer")
	assert.NotContains(t, outcome.AnswerText, "Ungrounded draft")
	assert.Equal(t, []string{
		"[Source: laws-of-the-game, Law 11]",
		"[Source: var-protocol]",
	}, outcome.Citations)
}

func TestOrchestrator_FallbackPath_NoChunks(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Best effort answer."),
	}}
	retriever := &mockRetriever{}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	assert.Equal(t, bot.PathFallback, outcome.Path)
	require.Len(t, gateway.requests, 1, "without fallback context the first answer stands")
	assert.Equal(t, "Best effort answer.", outcome.AnswerText)
	assert.Empty(t, outcome.Citations)
}

func TestOrchestrator_FallbackPath_RetrievalErrorKeepsDraft(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Draft survives a retrieval outage."),
	}}
	retriever := &mockRetriever{err: recoverableErr()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)
	assert.Equal(t, "Draft survives a retrieval outage.", outcome.AnswerText)
}

func TestOrchestrator_GatewayErrorIsFatal(t *testing.T) {
	gateway := &mockGateway{err: fatalErr()}
	retriever := &mockRetriever{chunks: someChunks()}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}
	orch := newOrchestrator(t, gateway, retriever, catalog, defaultConfig())

	_, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.Error(t, err)
	assert.True(t, lawserr.IsUpstreamFailure(err))
}

func TestOrchestrator_HistoryPrecedesQuery(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Answer."),
	}}
	retriever := &mockRetriever{}

	cfg := defaultConfig()
	cfg.EnableDocSelection = false
	orch := newOrchestrator(t, gateway, retriever, &mockCatalog{}, cfg)

	history := []provider.Message{
		{Role: provider.MessageRoleUser, Content: "What is a throw-in?"},
		{Role: provider.MessageRoleAssistant, Content: "A throw-in restarts play..."},
	}
	_, err := orch.Answer(context.Background(), bot.Request{Query: "And from the attacking half?", History: history})
	require.NoError(t, err)

	msgs := gateway.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "What is a throw-in?", msgs[0].Content)
	assert.Equal(t, provider.MessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, "And from the attacking half?", msgs[2].Content)
}

func TestOrchestrator_TruncationKeepsCitations(t *testing.T) {
	var b strings.Builder
	for b.Len() < 6000 {
		b.WriteString("The ball is out of play when it has wholly passed over the goal line or touchline. ")
	}
	longAnswer := b.String()

	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion(longAnswer),
	}}
	retriever := &mockRetriever{chunks: someChunks()}

	cfg := defaultConfig()
	cfg.EnableDocSelection = false
	orch := newOrchestrator(t, gateway, retriever, &mockCatalog{}, cfg)

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "When is the ball out of play?"})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(outcome.AnswerText), 4096, "answers must fit the transport limit")
	for _, citation := range outcome.Citations {
		assert.Contains(t, outcome.AnswerText, citation, "truncation must never drop citations")
	}

	// The answer body is cut at a sentence boundary.
	body := outcome.AnswerText[:strings.Index(outcome.AnswerText, "\n\n")]
	assert.True(t, strings.HasSuffix(body, "."), "truncated body should end at a sentence boundary, got %q", body[len(body)-20:])
}

func TestOrchestrator_ShortAnswerNotTruncated(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Short answer."),
	}}
	retriever := &mockRetriever{chunks: someChunks()[:1]}

	cfg := defaultConfig()
	cfg.EnableDocSelection = false
	orch := newOrchestrator(t, gateway, retriever, &mockCatalog{}, cfg)

	outcome, err := orch.Answer(context.Background(), bot.Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "Short answer.\n\n[Source: laws-of-the-game, Law 11]", outcome.AnswerText)
}

func TestOrchestrator_RequireToolUsePrompt(t *testing.T) {
	gateway := &mockGateway{completions: []*provider.Completion{
		textCompletion("Answer."),
	}}
	retriever := &mockRetriever{}
	catalog := &mockCatalog{names: []string{"laws-of-the-game"}}

	cfg := defaultConfig()
	cfg.RequireToolUse = true
	orch := newOrchestrator(t, gateway, retriever, catalog, cfg)

	_, err := orch.Answer(context.Background(), bot.Request{Query: "What is offside?"})
	require.NoError(t, err)

	assert.Contains(t, gateway.requests[0].SystemPrompt, "MUST call the lookup tool")
}

func TestNewOrchestrator_Validation(t *testing.T) {
	retriever := &mockRetriever{}
	cfg := defaultConfig()

	_, err := bot.NewOrchestrator(nil, retriever, &mockCatalog{}, nil, nil, cfg)
	require.Error(t, err)

	_, err = bot.NewOrchestrator(&mockGateway{}, nil, &mockCatalog{}, nil, nil, cfg)
	require.Error(t, err)

	// Lookup tool is mandatory when document selection is on.
	_, err = bot.NewOrchestrator(&mockGateway{}, retriever, &mockCatalog{}, nil, nil, cfg)
	require.Error(t, err)

	cfg.EnableDocSelection = false
	_, err = bot.NewOrchestrator(&mockGateway{}, retriever, &mockCatalog{}, nil, nil, cfg)
	require.NoError(t, err)
}
