// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// OpenAIConfig holds embedder configuration.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BaseURL    string // optional, useful for testing against a mock server
}

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for the configured model.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, lawserr.New(lawserr.CodeEmbeddingUnavailable, "embedding: missing api_key in config")
	}
	if cfg.Dimensions <= 0 {
		return nil, lawserr.Errorf(lawserr.CodeEmbeddingUnavailable, "embedding: dimensions must be positive, got %d", cfg.Dimensions)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:     openaisdk.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Embed converts text into a vector of the configured dimensionality.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: openaisdk.String(text),
		},
		Dimensions: openaisdk.Int(int64(e.dimensions)),
	})
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeEmbeddingUnavailable, "embedding: request for model %s failed", e.model)
	}

	if len(resp.Data) == 0 {
		return nil, lawserr.New(lawserr.CodeEmbeddingUnavailable, "embedding: response contained no vectors")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}

	if len(vec) != e.dimensions {
		return nil, lawserr.Errorf(lawserr.CodeEmbeddingUnavailable,
			"embedding: got %d dimensions, expected %d", len(vec), e.dimensions)
	}

	return vec, nil
}
