// SPDX-License-Identifier: Apache-2.0

// Package retrieval turns free-text queries into ranked, scored passages and
// renders them as model-ready context blocks and human-readable citations.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/embedding"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/index"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// Engine wraps the embedder and corpus index behind the two search paths the
// orchestrator needs: unrestricted and restricted-to-named-documents.
type Engine struct {
	embedder  embedding.Embedder
	index     index.Index
	topK      int
	threshold float64
}

// NewEngine creates an Engine with the given collaborators and defaults.
func NewEngine(embedder embedding.Embedder, idx index.Index, topK int, threshold float64) *Engine {
	return &Engine{
		embedder:  embedder,
		index:     idx,
		topK:      topK,
		threshold: threshold,
	}
}

// RetrieveContext embeds the query and performs an unrestricted search.
// Failures are recoverable: callers get a coded error and should degrade to
// an ungrounded response rather than abort the request.
func (e *Engine) RetrieveContext(ctx context.Context, query string, topK int, minScore float64) ([]index.RetrievedChunk, error) {
	return e.retrieve(ctx, query, nil, topK, minScore)
}

// RetrieveFromDocuments is RetrieveContext with the search space restricted
// to the named documents. Unknown names are silently ignored; if every name
// is unknown the result is empty, not an error.
func (e *Engine) RetrieveFromDocuments(ctx context.Context, query string, documentNames []string, topK int, minScore float64) ([]index.RetrievedChunk, error) {
	return e.retrieve(ctx, query, documentNames, topK, minScore)
}

func (e *Engine) retrieve(ctx context.Context, query string, documentNames []string, topK int, minScore float64) ([]index.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if topK <= 0 {
		topK = e.topK
	}
	if minScore <= 0 {
		minScore = e.threshold
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, continuing without grounding", "error", err)
		return nil, lawserr.Wrapf(err, lawserr.CodeRetrievalUnavailable, "embedding query")
	}

	chunks, err := e.index.Search(ctx, vector, topK, minScore, documentNames)
	if err != nil {
		slog.Warn("chunk search failed, continuing without grounding", "error", err)
		return nil, lawserr.Wrapf(err, lawserr.CodeRetrievalUnavailable, "searching index")
	}

	if len(chunks) > 0 {
		scores := make([]string, len(chunks))
		for i, c := range chunks {
			scores[i] = fmt.Sprintf("%.4f", c.Score)
		}
		slog.Debug("retrieved chunks",
			"count", len(chunks),
			"top_k", topK,
			"threshold", minScore,
			"scores", strings.Join(scores, ", "),
		)
	} else {
		slog.Debug("no chunks above threshold", "top_k", topK, "threshold", minScore)
	}

	return chunks, nil
}

// FormatContext renders chunks as a structured text block for direct
// inclusion in a model prompt. A pure function of its input; empty input
// yields an empty string with no boilerplate headers.
func (e *Engine) FormatContext(chunks []index.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== Retrieved Context from Football Documents ===\n")

	for i, chunk := range chunks {
		fmt.Fprintf(&b, "\n[Document %d]\n", i+1)
		fmt.Fprintf(&b, "Source: %s\n", chunk.DocumentName)
		if chunk.Section != "" {
			fmt.Fprintf(&b, "Section: %s\n", chunk.Section)
		}
		fmt.Fprintf(&b, "Relevance: %.2f\n", chunk.Score)
		fmt.Fprintf(&b, "\n%s\n", chunk.Text)
	}

	b.WriteString("\n=== End of Retrieved Context ===")
	return b.String()
}

// FormatInlineCitation renders a short source-attribution token for one
// chunk, omitting the section when absent.
func (e *Engine) FormatInlineCitation(chunk index.RetrievedChunk) string {
	if chunk.Section == "" {
		return fmt.Sprintf("[Source: %s]", chunk.DocumentName)
	}
	return fmt.Sprintf("[Source: %s, %s]", chunk.DocumentName, chunk.Section)
}

// FormatDocumentList renders a numbered list of document names for the
// system prompt. Empty input yields an empty string.
func (e *Engine) FormatDocumentList(names []string) string {
	if len(names) == 0 {
		return ""
	}

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = fmt.Sprintf("%d. %s", i+1, name)
	}
	return strings.Join(lines, "\n")
}
