// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/index"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

const (
	// lookupToolName is the wire name of the document lookup tool. It is part
	// of the gateway contract and must stay stable.
	lookupToolName = "lookup_documents"

	// defaultLookupTopK is used when the model omits top_k.
	defaultLookupTopK = 3

	// maxLookupDocuments bounds how many documents one call may name.
	maxLookupDocuments = 10

	// maxLookupQueryLength bounds the model-supplied search query.
	maxLookupQueryLength = 500
)

// documentSearcher is the restricted-search slice of the retrieval engine
// the lookup tool needs.
type documentSearcher interface {
	RetrieveFromDocuments(ctx context.Context, query string, documentNames []string, topK int, minScore float64) ([]index.RetrievedChunk, error)
}

// LookupTool is the single operation the model may invoke mid-conversation:
// a strictly-validated wrapper over restricted document search. It is
// read-only; its only side effect is an audit log line per invocation.
type LookupTool struct {
	searcher         documentSearcher
	maxChunks        int
	defaultThreshold float64
}

// NewLookupTool creates the tool with the configured per-call ceiling and
// default similarity threshold.
func NewLookupTool(searcher documentSearcher, maxChunks int, defaultThreshold float64) *LookupTool {
	return &LookupTool{
		searcher:         searcher,
		maxChunks:        maxChunks,
		defaultThreshold: defaultThreshold,
	}
}

// lookupArgs is the model-supplied argument payload.
type lookupArgs struct {
	DocumentNames []string `json:"document_names"`
	Query         string   `json:"query"`
	TopK          int      `json:"top_k"`
	MinSimilarity float64  `json:"min_similarity"`
}

// lookupChunk is the wire form of a retrieved chunk inside a tool result.
type lookupChunk struct {
	DocumentName string  `json:"document_name"`
	Section      string  `json:"section,omitempty"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// LookupResult is returned to the model as the next turn's tool result.
type LookupResult struct {
	Status            string        `json:"status"` // "success" or "error"
	DocumentsSearched []string      `json:"documents_searched"`
	Query             string        `json:"query"`
	Results           []lookupChunk `json:"results"`
	Error             string        `json:"error,omitempty"`

	chunks []index.RetrievedChunk
}

// OK reports whether the lookup succeeded.
func (r *LookupResult) OK() bool { return r.Status == "success" }

// Chunks returns the retrieved chunks backing the result, in score order.
func (r *LookupResult) Chunks() []index.RetrievedChunk { return r.chunks }

// Content renders the result as the JSON payload sent back to the model.
func (r *LookupResult) Content() string {
	data, err := json.Marshal(r)
	if err != nil {
		// Marshalling a plain struct of strings and floats cannot fail in
		// practice; fall back to a minimal error payload.
		return `{"status":"error","error":"internal: could not encode tool result"}`
	}
	return string(data)
}

// Definition returns the tool schema offered to the model.
func (t *LookupTool) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name: lookupToolName,
		Description: "Search relevant document sections for information about football rules, " +
			"laws of the game, and related regulations. Select the documents you want to " +
			"search based on your question, then specify what you're looking for.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"document_names": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Names of specific documents to search. These should match names from the available documents list.",
					"minItems":    1,
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Your search query. Be specific about what information you're looking for in the selected documents.",
					"minLength":   1,
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": "Number of relevant sections to return from the search.",
					"minimum":     1,
					"maximum":     t.maxChunks,
					"default":     defaultLookupTopK,
				},
				"min_similarity": map[string]any{
					"type":        "number",
					"description": "Minimum relevance score (0.0-1.0) for returned results. Higher values = stricter filtering.",
					"minimum":     0.0,
					"maximum":     1.0,
					"default":     t.defaultThreshold,
				},
			},
			"required": []any{"document_names", "query"},
		},
	}
}

// Execute runs one lookup. It never returns an error: malformed or invalid
// arguments produce an error-status result that is handed back to the model,
// which may self-correct on a later turn.
func (t *LookupTool) Execute(ctx context.Context, argumentsJSON string) *LookupResult {
	var args lookupArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errorResult(nil, "", "invalid tool arguments: "+err.Error())
	}

	if reason := validateLookupArgs(args); reason != "" {
		slog.Warn("document lookup rejected", "reason", reason, "documents", args.DocumentNames)
		return errorResult(args.DocumentNames, args.Query, reason)
	}

	topK := clampTopK(args.TopK, t.maxChunks)
	minSimilarity := clampSimilarity(args.MinSimilarity, t.defaultThreshold)

	slog.Info("executing document lookup",
		"documents", strings.Join(args.DocumentNames, ", "),
		"query", args.Query,
		"top_k", topK,
		"min_similarity", minSimilarity,
	)

	chunks, err := t.searcher.RetrieveFromDocuments(ctx, args.Query, args.DocumentNames, topK, minSimilarity)
	if err != nil {
		slog.Warn("document lookup failed", "error", err, "documents", args.DocumentNames)
		return errorResult(args.DocumentNames, args.Query,
			"lookup failed: "+string(lawserr.CodeOf(err)))
	}

	result := &LookupResult{
		Status:            "success",
		DocumentsSearched: args.DocumentNames,
		Query:             args.Query,
		Results:           make([]lookupChunk, 0, len(chunks)),
		chunks:            chunks,
	}
	for _, chunk := range chunks {
		result.Results = append(result.Results, lookupChunk{
			DocumentName: chunk.DocumentName,
			Section:      chunk.Section,
			Text:         chunk.Text,
			Score:        chunk.Score,
		})
	}

	slog.Info("document lookup completed", "documents", len(args.DocumentNames), "chunks", len(chunks))
	return result
}

// validateLookupArgs applies the hard-reject rules. Out-of-range numeric
// parameters are not rejected here; they are clamped, because model-generated
// values are expected to occasionally drift outside bounds.
func validateLookupArgs(args lookupArgs) string {
	if len(args.DocumentNames) == 0 {
		return "document_names cannot be empty"
	}
	if len(args.DocumentNames) > maxLookupDocuments {
		return "document_names cannot contain more than 10 documents"
	}
	if strings.TrimSpace(args.Query) == "" {
		return "query cannot be empty"
	}
	if len(args.Query) > maxLookupQueryLength {
		return "query is too long (max 500 characters)"
	}
	return ""
}

func clampTopK(topK, maxChunks int) int {
	if topK == 0 {
		topK = defaultLookupTopK
	}
	if topK < 1 {
		return 1
	}
	if topK > maxChunks {
		return maxChunks
	}
	return topK
}

func clampSimilarity(minSimilarity, fallback float64) float64 {
	if minSimilarity == 0 {
		return fallback
	}
	if minSimilarity < 0 {
		return 0
	}
	if minSimilarity > 1 {
		return 1
	}
	return minSimilarity
}

func errorResult(documents []string, query, reason string) *LookupResult {
	return &LookupResult{
		Status:            "error",
		DocumentsSearched: documents,
		Query:             query,
		Results:           []lookupChunk{},
		Error:             reason,
	}
}
