// SPDX-License-Identifier: Apache-2.0

package bot_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/index"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// mockGateway returns scripted completions in order and records every request
// it receives.
type mockGateway struct {
	completions []*provider.Completion
	err         error
	requests    []provider.ChatRequest
}

func (g *mockGateway) Name() string { return "mock" }
func (g *mockGateway) Close() error { return nil }

func (g *mockGateway) Complete(_ context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.completions) == 0 {
		return &provider.Completion{Content: "out of scripted completions"}, nil
	}
	next := g.completions[0]
	g.completions = g.completions[1:]
	return next, nil
}

func textCompletion(content string) *provider.Completion {
	return &provider.Completion{
		Content: content,
		Usage:   &provider.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolCompletion(calls ...provider.ToolCall) *provider.Completion {
	return &provider.Completion{
		ToolCalls: calls,
		Usage:     &provider.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func lookupCall(id string, documents ...string) provider.ToolCall {
	names := make([]string, len(documents))
	for i, d := range documents {
		names[i] = fmt.Sprintf("%q", d)
	}
	return provider.ToolCall{
		ID:   id,
		Name: "lookup_documents",
		Arguments: fmt.Sprintf(`{"document_names": [%s], "query": "offside rule"}`,
			strings.Join(names, ", ")),
	}
}

// mockRetriever serves canned chunks and mirrors the engine's formatting.
type mockRetriever struct {
	chunks      []index.RetrievedChunk
	err         error
	searchCalls int
}

func (r *mockRetriever) RetrieveContext(_ context.Context, _ string, _ int, _ float64) ([]index.RetrievedChunk, error) {
	r.searchCalls++
	return r.chunks, r.err
}

func (r *mockRetriever) RetrieveFromDocuments(_ context.Context, _ string, documentNames []string, topK int, _ float64) ([]index.RetrievedChunk, error) {
	r.searchCalls++
	if r.err != nil {
		return nil, r.err
	}

	allowed := make(map[string]bool, len(documentNames))
	for _, name := range documentNames {
		allowed[name] = true
	}

	var out []index.RetrievedChunk
	for _, chunk := range r.chunks {
		if !allowed[chunk.DocumentName] {
			continue
		}
		out = append(out, chunk)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (r *mockRetriever) FormatContext(chunks []index.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return "CONTEXT: " + strings.Join(parts, " | ")
}

func (r *mockRetriever) FormatInlineCitation(chunk index.RetrievedChunk) string {
	if chunk.Section == "" {
		return fmt.Sprintf("[Source: %s]", chunk.DocumentName)
	}
	return fmt.Sprintf("[Source: %s, %s]", chunk.DocumentName, chunk.Section)
}

func (r *mockRetriever) FormatDocumentList(names []string) string {
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = fmt.Sprintf("%d. %s", i+1, name)
	}
	return strings.Join(lines, "\n")
}

// mockCatalog lists canned document names.
type mockCatalog struct {
	names []string
	err   error
}

func (c *mockCatalog) DocumentNames(_ context.Context) ([]string, error) {
	return c.names, c.err
}

func recoverableErr() error {
	return lawserr.New(lawserr.CodeRetrievalUnavailable, "index offline")
}

func fatalErr() error {
	return lawserr.New(lawserr.CodeProviderUpstreamFailure, "gateway down")
}

func someChunks() []index.RetrievedChunk {
	return []index.RetrievedChunk{
		{DocumentName: "laws-of-the-game", Section: "Law 11", Text: "A player is offside when...", Score: 0.91},
		{DocumentName: "laws-of-the-game", Section: "Law 11", Text: "Offside offences include...", Score: 0.88},
		{DocumentName: "var-protocol", Section: "", Text: "VAR may review offside decisions.", Score: 0.82},
	}
}
