// SPDX-License-Identifier: Apache-2.0

package bot_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/bot"
)

func TestLookupTool_Definition(t *testing.T) {
	tool := bot.NewLookupTool(&mockRetriever{}, 5, 0.7)
	def := tool.Definition()

	assert.Equal(t, "lookup_documents", def.Name)
	assert.NotEmpty(t, def.Description)

	props, ok := def.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"document_names", "query", "top_k", "min_similarity"} {
		assert.Contains(t, props, field)
	}
	assert.ElementsMatch(t, []any{"document_names", "query"}, def.InputSchema["required"])

	// The schema must serialize cleanly for both provider SDKs.
	_, err := json.Marshal(def.InputSchema)
	require.NoError(t, err)
}

func TestLookupTool_Execute(t *testing.T) {
	retriever := &mockRetriever{chunks: someChunks()}
	tool := bot.NewLookupTool(retriever, 5, 0.7)

	result := tool.Execute(context.Background(),
		`{"document_names": ["laws-of-the-game"], "query": "offside"}`)

	require.True(t, result.OK())
	assert.Equal(t, []string{"laws-of-the-game"}, result.DocumentsSearched)
	assert.Len(t, result.Results, 2)
	assert.Len(t, result.Chunks(), 2)

	// The serialized payload round-trips for the model.
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content()), &decoded))
	assert.Equal(t, "success", decoded["status"])
}

func TestLookupTool_Validation(t *testing.T) {
	manyDocs := make([]string, 11)
	for i := range manyDocs {
		manyDocs[i] = fmt.Sprintf(`"doc-%d"`, i)
	}

	tests := []struct {
		name       string
		arguments  string
		wantSubstr string
	}{
		{
			name:       "malformed json",
			arguments:  `{"document_names": [`,
			wantSubstr: "invalid tool arguments",
		},
		{
			name:       "missing document names",
			arguments:  `{"query": "offside"}`,
			wantSubstr: "document_names cannot be empty",
		},
		{
			name:       "empty document names",
			arguments:  `{"document_names": [], "query": "offside"}`,
			wantSubstr: "document_names cannot be empty",
		},
		{
			name:       "too many documents",
			arguments:  fmt.Sprintf(`{"document_names": [%s], "query": "offside"}`, strings.Join(manyDocs, ",")),
			wantSubstr: "more than 10",
		},
		{
			name:       "missing query",
			arguments:  `{"document_names": ["laws-of-the-game"]}`,
			wantSubstr: "query cannot be empty",
		},
		{
			name:       "blank query",
			arguments:  `{"document_names": ["laws-of-the-game"], "query": "  "}`,
			wantSubstr: "query cannot be empty",
		},
		{
			name:       "oversized query",
			arguments:  fmt.Sprintf(`{"document_names": ["laws-of-the-game"], "query": %q}`, strings.Repeat("x", 501)),
			wantSubstr: "too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retriever := &mockRetriever{chunks: someChunks()}
			tool := bot.NewLookupTool(retriever, 5, 0.7)

			result := tool.Execute(context.Background(), tt.arguments)

			assert.False(t, result.OK())
			assert.Contains(t, result.Error, tt.wantSubstr)
			assert.Equal(t, 0, retriever.searchCalls, "invalid arguments must not reach the searcher")
			assert.NotNil(t, result.Results, "results must serialize as an empty array, not null")
		})
	}
}

func TestLookupTool_Clamping(t *testing.T) {
	tests := []struct {
		name     string
		topK     string
		wantTopK int
	}{
		{name: "absent defaults", topK: "", wantTopK: 2}, // default 3, capped by the 2 matching chunks
		{name: "negative clamps to one", topK: "-3", wantTopK: 1},
		{name: "huge clamps to max", topK: "100", wantTopK: 2},
		{name: "in range passes through", topK: "1", wantTopK: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retriever := &mockRetriever{chunks: someChunks()}
			tool := bot.NewLookupTool(retriever, 5, 0.7)

			args := `{"document_names": ["laws-of-the-game"], "query": "offside"`
			if tt.topK != "" {
				args += `, "top_k": ` + tt.topK
			}
			args += `}`

			result := tool.Execute(context.Background(), args)
			require.True(t, result.OK(), "clamping must repair out-of-range values, not reject them: %s", result.Error)
			assert.Len(t, result.Results, tt.wantTopK)
		})
	}
}

func TestLookupTool_SearchFailureBecomesErrorResult(t *testing.T) {
	retriever := &mockRetriever{err: recoverableErr()}
	tool := bot.NewLookupTool(retriever, 5, 0.7)

	result := tool.Execute(context.Background(),
		`{"document_names": ["laws-of-the-game"], "query": "offside"}`)

	assert.False(t, result.OK())
	assert.Contains(t, result.Error, "lookup failed")
	assert.Empty(t, result.Chunks())
}

func TestLookupTool_UnknownDocumentsYieldEmptySuccess(t *testing.T) {
	retriever := &mockRetriever{chunks: someChunks()}
	tool := bot.NewLookupTool(retriever, 5, 0.7)

	result := tool.Execute(context.Background(),
		`{"document_names": ["not-a-real-document"], "query": "offside"}`)

	require.True(t, result.OK(), "unknown names are an empty result, not an error")
	assert.Empty(t, result.Results)
}
