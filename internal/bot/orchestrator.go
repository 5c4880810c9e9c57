// SPDX-License-Identifier: Apache-2.0

// Package bot implements the question-answering pipeline: the document lookup
// tool offered to the model, the system prompts, and the orchestrator that
// routes each request through tool-driven, upfront, or fallback retrieval.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/index"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// telegramMaxMessageLength is the transport's hard per-message limit.
const telegramMaxMessageLength = 4096

// Path identifies which retrieval route produced an answer.
type Path string

const (
	// PathDisabled: document selection is off, context was retrieved upfront.
	PathDisabled Path = "disabled"
	// PathToolUsed: the model drove retrieval through the lookup tool.
	PathToolUsed Path = "tool_used"
	// PathFallback: the model skipped the tool, so the orchestrator searched
	// all documents and regenerated the answer.
	PathFallback Path = "fallback"
)

// Retriever is the retrieval engine surface the orchestrator depends on.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, topK int, minScore float64) ([]index.RetrievedChunk, error)
	RetrieveFromDocuments(ctx context.Context, query string, documentNames []string, topK int, minScore float64) ([]index.RetrievedChunk, error)
	FormatContext(chunks []index.RetrievedChunk) string
	FormatInlineCitation(chunk index.RetrievedChunk) string
	FormatDocumentList(names []string) string
}

// DocumentCatalog lists the documents currently held by the index.
type DocumentCatalog interface {
	DocumentNames(ctx context.Context) ([]string, error)
}

// OrchestratorConfig carries the retrieval and model knobs the orchestrator
// needs. Values are assumed validated by the config package.
type OrchestratorConfig struct {
	Model               string
	Temperature         float64
	MaxTokens           int
	EnableDocSelection  bool
	MaxDocumentLookups  int
	LookupMaxChunks     int
	RequireToolUse      bool
	TopK                int
	SimilarityThreshold float64
}

// Request is one user question with optional prior-turn context.
type Request struct {
	Query   string
	History []provider.Message
}

// Outcome is the orchestrator's answer, sized for the transport.
type Outcome struct {
	AnswerText string
	Path       Path
	UsedTool   bool
	Citations  []string
	Usage      provider.Usage
}

// Orchestrator routes each question through one of three retrieval paths and
// assembles a cited, transport-sized answer.
type Orchestrator struct {
	gateway   provider.Gateway
	retriever Retriever
	catalog   DocumentCatalog
	lookup    *LookupTool
	features  *FeatureRegistry
	cfg       OrchestratorConfig
	now       func() time.Time
}

// NewOrchestrator wires the pipeline. The lookup tool may be nil only when
// document selection is disabled.
func NewOrchestrator(gateway provider.Gateway, retriever Retriever, catalog DocumentCatalog, lookup *LookupTool, features *FeatureRegistry, cfg OrchestratorConfig) (*Orchestrator, error) {
	if gateway == nil {
		return nil, lawserr.New(lawserr.CodeOrchestratorInvalidInput, "gateway is required")
	}
	if retriever == nil {
		return nil, lawserr.New(lawserr.CodeOrchestratorInvalidInput, "retriever is required")
	}
	if cfg.EnableDocSelection && lookup == nil {
		return nil, lawserr.New(lawserr.CodeOrchestratorInvalidInput, "lookup tool is required when document selection is enabled")
	}
	if features == nil {
		features = NewFeatureRegistry()
	}

	return &Orchestrator{
		gateway:   gateway,
		retriever: retriever,
		catalog:   catalog,
		lookup:    lookup,
		features:  features,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// Answer processes one question. Retrieval failures degrade to an ungrounded
// answer; gateway failures abort the request with a coded error.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, lawserr.New(lawserr.CodeOrchestratorInvalidInput, "query cannot be empty")
	}

	if !o.cfg.EnableDocSelection {
		o.features.Register(FeatureDocumentSelection, FeatureDisabled)
		return o.answerWithUpfrontRetrieval(ctx, req)
	}

	documentNames := o.documentCatalog(ctx)
	if len(documentNames) == 0 {
		// No catalog to offer the model; behave as if selection were off.
		o.features.Register(FeatureDocumentSelection, FeatureUnavailable)
		return o.answerWithUpfrontRetrieval(ctx, req)
	}

	o.features.Register(FeatureDocumentSelection, FeatureEnabled)
	return o.answerWithDocumentSelection(ctx, req, documentNames)
}

// documentCatalog lists indexed documents, degrading to nil on failure.
func (o *Orchestrator) documentCatalog(ctx context.Context) []string {
	if o.catalog == nil {
		return nil
	}

	names, err := o.catalog.DocumentNames(ctx)
	if err != nil {
		slog.Warn("document catalog unavailable, falling back to upfront retrieval", "error", err)
		return nil
	}
	return names
}

// answerWithUpfrontRetrieval searches the whole corpus before the single
// model call and injects whatever context it finds into the system prompt.
func (o *Orchestrator) answerWithUpfrontRetrieval(ctx context.Context, req Request) (*Outcome, error) {
	chunks, err := o.retriever.RetrieveContext(ctx, req.Query, o.cfg.TopK, o.cfg.SimilarityThreshold)
	if err != nil {
		if !lawserr.IsRecoverable(err) {
			return nil, err
		}
		o.features.Register(FeatureRetrieval, FeatureDegraded)
		chunks = nil
	}

	prompt := systemPrompt(o.now())
	if contextBlock := o.retriever.FormatContext(chunks); contextBlock != "" {
		prompt += "\n\n" + contextBlock
	}

	completion, err := o.complete(ctx, prompt, o.messagesFor(req), nil)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Path: PathDisabled}
	outcome.Usage.Add(completion.Usage)
	o.finishOutcome(outcome, completion.Content, chunks)
	return outcome, nil
}

// answerWithDocumentSelection offers the lookup tool to the model and follows
// whichever path the model takes: the bounded tool loop, or the fallback
// search when the model answers without the tool.
func (o *Orchestrator) answerWithDocumentSelection(ctx context.Context, req Request, documentNames []string) (*Outcome, error) {
	prompt := systemPromptWithDocumentSelection(
		o.now(),
		o.retriever.FormatDocumentList(documentNames),
		o.cfg.MaxDocumentLookups,
		o.cfg.LookupMaxChunks,
		o.cfg.SimilarityThreshold,
		o.cfg.RequireToolUse,
	)
	tools := []provider.ToolDefinition{o.lookup.Definition()}
	messages := o.messagesFor(req)

	completion, err := o.complete(ctx, prompt, messages, tools)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	outcome.Usage.Add(completion.Usage)

	if !completion.HasToolCalls() {
		return o.answerWithFallbackRetrieval(ctx, req, completion, outcome)
	}

	return o.runToolLoop(ctx, prompt, messages, tools, completion, outcome)
}

// runToolLoop executes model-requested lookups until the model stops asking
// or the lookup budget runs out, then lets the model produce the final text.
// With budget N this makes at most N+1 model calls.
func (o *Orchestrator) runToolLoop(ctx context.Context, prompt string, messages []provider.Message, tools []provider.ToolDefinition, completion *provider.Completion, outcome *Outcome) (*Outcome, error) {
	outcome.Path = PathToolUsed
	outcome.UsedTool = true

	var chunks []index.RetrievedChunk
	executed := 0
	modelCalls := 1

	// The initial call plus one call per budgeted lookup bounds the loop even
	// against a model that keeps requesting tools it was not offered.
	for completion.HasToolCalls() && modelCalls <= o.cfg.MaxDocumentLookups {
		messages = append(messages, provider.Message{
			Role:      provider.MessageRoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			if call.Name != lookupToolName {
				messages = append(messages, toolResultMessage(call,
					fmt.Sprintf(`{"status":"error","error":"unknown tool: %s"}`, call.Name)))
				continue
			}

			if executed >= o.cfg.MaxDocumentLookups {
				slog.Warn("document lookup budget exhausted", "max", o.cfg.MaxDocumentLookups)
				messages = append(messages, toolResultMessage(call,
					`{"status":"error","error":"lookup limit reached; answer with the information you already have"}`))
				continue
			}

			result := o.lookup.Execute(ctx, call.Arguments)
			executed++
			if result.OK() {
				chunks = append(chunks, result.Chunks()...)
			}
			messages = append(messages, toolResultMessage(call, result.Content()))
		}

		// Withhold the tool once the budget is spent so the final call can
		// only produce text.
		nextTools := tools
		if executed >= o.cfg.MaxDocumentLookups {
			nextTools = nil
		}

		next, err := o.complete(ctx, prompt, messages, nextTools)
		if err != nil {
			return nil, err
		}
		outcome.Usage.Add(next.Usage)
		completion = next
		modelCalls++
	}

	slog.Info("tool loop finished", "lookups", executed, "chunks", len(chunks))
	o.finishOutcome(outcome, completion.Content, chunks)
	return outcome, nil
}

// answerWithFallbackRetrieval handles the model declining the tool: search
// all documents, and if anything relevant turns up, discard the ungrounded
// draft and regenerate with the retrieved context.
func (o *Orchestrator) answerWithFallbackRetrieval(ctx context.Context, req Request, first *provider.Completion, outcome *Outcome) (*Outcome, error) {
	outcome.Path = PathFallback

	chunks, err := o.retriever.RetrieveContext(ctx, req.Query, o.cfg.TopK, o.cfg.SimilarityThreshold)
	if err != nil {
		if !lawserr.IsRecoverable(err) {
			return nil, err
		}
		o.features.Register(FeatureRetrieval, FeatureDegraded)
		chunks = nil
	}

	if len(chunks) == 0 {
		// Nothing to ground on: the ungrounded draft is the best available.
		o.finishOutcome(outcome, first.Content, nil)
		return outcome, nil
	}

	slog.Info("model skipped lookup tool, regenerating with fallback context", "chunks", len(chunks))

	prompt := systemPrompt(o.now()) + "\n\n" + o.retriever.FormatContext(chunks)
	completion, err := o.complete(ctx, prompt, o.messagesFor(req), nil)
	if err != nil {
		return nil, err
	}
	outcome.Usage.Add(completion.Usage)

	o.finishOutcome(outcome, completion.Content, chunks)
	return outcome, nil
}

func (o *Orchestrator) complete(ctx context.Context, prompt string, messages []provider.Message, tools []provider.ToolDefinition) (*provider.Completion, error) {
	return o.gateway.Complete(ctx, provider.ChatRequest{
		Model:        o.cfg.Model,
		SystemPrompt: prompt,
		Messages:     messages,
		Tools:        tools,
		Options: provider.ChatOptions{
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		},
	})
}

// messagesFor builds the conversation for one request: prior turns followed
// by the current question.
func (o *Orchestrator) messagesFor(req Request) []provider.Message {
	messages := make([]provider.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, provider.Message{
		Role:    provider.MessageRoleUser,
		Content: req.Query,
	})
	return messages
}

// finishOutcome attaches deduplicated citations and sizes the answer for the
// transport.
func (o *Orchestrator) finishOutcome(outcome *Outcome, answer string, chunks []index.RetrievedChunk) {
	outcome.Citations = o.collectCitations(chunks)
	outcome.AnswerText = renderAnswer(answer, outcome.Citations)
}

// collectCitations deduplicates chunks by (document, section), keeping
// first-seen order.
func (o *Orchestrator) collectCitations(chunks []index.RetrievedChunk) []string {
	if len(chunks) == 0 {
		return nil
	}

	type key struct{ document, section string }
	seen := make(map[key]struct{}, len(chunks))
	citations := make([]string, 0, len(chunks))

	for _, chunk := range chunks {
		k := key{chunk.DocumentName, chunk.Section}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		citations = append(citations, o.retriever.FormatInlineCitation(chunk))
	}

	return citations
}

// renderAnswer joins answer and citations, truncating the answer at a
// sentence boundary when the combined text exceeds the transport limit.
// Citations are never dropped.
func renderAnswer(answer string, citations []string) string {
	answer = strings.TrimSpace(answer)

	var citationBlock string
	if len(citations) > 0 {
		citationBlock = "\n\n" + strings.Join(citations, "\n")
	}

	if len(answer)+len(citationBlock) <= telegramMaxMessageLength {
		return answer + citationBlock
	}

	available := telegramMaxMessageLength - len(citationBlock)
	if available <= 0 {
		// Degenerate: citations alone fill the message.
		return truncateAtBoundary(strings.TrimPrefix(citationBlock, "\n\n"), telegramMaxMessageLength)
	}

	return truncateAtBoundary(answer, available) + citationBlock
}

// truncateAtBoundary shortens text to at most limit bytes, preferring the
// last sentence end, then the last newline, then the last space. Rune-aware:
// never cuts inside a multi-byte character.
func truncateAtBoundary(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	truncated := text[:cut]

	if idx := strings.LastIndexAny(truncated, ".!?"); idx > 0 {
		return strings.TrimSpace(truncated[:idx+1])
	}
	if idx := strings.LastIndexByte(truncated, '\n'); idx > 0 {
		return strings.TrimSpace(truncated[:idx])
	}
	if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
		return strings.TrimSpace(truncated[:idx])
	}
	return truncated
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func toolResultMessage(call provider.ToolCall, content string) provider.Message {
	return provider.Message{
		Role:       provider.MessageRoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}
