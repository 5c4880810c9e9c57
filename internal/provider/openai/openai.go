// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// Config holds OpenAI gateway configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Gateway implements provider.Gateway using the OpenAI Chat Completions API.
type Gateway struct {
	client openaisdk.Client
	config Config
}

// New creates a new OpenAI gateway. Returns an error if the API key is missing.
func New(cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, lawserr.New(lawserr.CodeProviderRequestInvalid, "openai: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openaisdk.NewClient(opts...)
	return &Gateway{client: client, config: cfg}, nil
}

func (g *Gateway) Name() string { return "openai" }

func (g *Gateway) Close() error { return nil }

// Complete performs a single non-streaming chat completion turn.
func (g *Gateway) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeProviderRequestInvalid, "openai: building request params")
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapAPIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, lawserr.New(lawserr.CodeProviderResponseInvalid, "openai: completion returned no choices")
	}

	choice := resp.Choices[0]
	completion := &provider.Completion{
		Content: strings.TrimSpace(choice.Message.Content),
		Usage: &provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return completion, nil
}

// buildParams converts a provider.ChatRequest into OpenAI SDK ChatCompletionNewParams.
func buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}

	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}

	if req.Options.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Options.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages transforms provider.Message slices into OpenAI SDK message
// param slices. The system prompt is prepended as a system message if present.
func convertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			result = append(result, convertAssistantMessage(msg))
		case provider.MessageRoleTool:
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		case provider.MessageRoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, lawserr.Errorf(lawserr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// convertAssistantMessage handles assistant turns, including ones that
// requested tool calls: those must be echoed back with their tool_calls so
// the API accepts the following tool-result messages.
func convertAssistantMessage(msg provider.Message) openaisdk.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openaisdk.AssistantMessage(msg.Content)
	}

	assistant := openaisdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = param.NewOpt(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// convertTools transforms provider.ToolDefinition slices into OpenAI SDK tool params.
func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

// mapAPIError converts SDK errors into coded gateway errors so the
// orchestrator can distinguish rate limits from other upstream failures.
func mapAPIError(err error) error {
	var apierr *openaisdk.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests {
			return lawserr.Wrapf(err, lawserr.CodeProviderRateLimited, "openai: rate limited")
		}
		return lawserr.Wrapf(err, lawserr.CodeProviderUpstreamFailure, "openai: api error (HTTP %d)", apierr.StatusCode)
	}
	return lawserr.Wrapf(err, lawserr.CodeProviderUpstreamFailure, "openai: chat completion failed")
}
