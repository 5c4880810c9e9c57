// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// Config holds Anthropic gateway configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Gateway implements provider.Gateway using the Anthropic Messages API.
type Gateway struct {
	client anthropicsdk.Client
	config Config
}

// New creates a new Anthropic gateway. Returns an error if the API key is missing.
func New(cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, lawserr.New(lawserr.CodeProviderRequestInvalid, "anthropic: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropicsdk.NewClient(opts...)
	return &Gateway{client: client, config: cfg}, nil
}

func (g *Gateway) Name() string { return "anthropic" }

func (g *Gateway) Close() error { return nil }

// Complete performs a single non-streaming Messages API turn.
func (g *Gateway) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeProviderRequestInvalid, "anthropic: building request params")
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAPIError(err)
	}

	completion := &provider.Completion{
		Usage: &provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			text.WriteString(variant.Text)
		case anthropicsdk.ToolUseBlock:
			completion.ToolCalls = append(completion.ToolCalls, provider.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.JSON.Input.Raw()),
			})
		}
	}
	completion.Content = strings.TrimSpace(text.String())

	return completion, nil
}

// buildParams converts a provider.ChatRequest into Anthropic SDK MessageNewParams.
func buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Options.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Options.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages transforms provider.Message slices into Anthropic SDK
// MessageParam slices. Tool results are sent as user tool_result blocks and
// assistant tool requests are echoed back as tool_use blocks, per the
// Messages API conversation shape.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	var result []anthropicsdk.MessageParam

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case provider.MessageRoleAssistant:
			result = append(result, convertAssistantMessage(msg))
		case provider.MessageRoleTool:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case provider.MessageRoleSystem:
			// System messages are handled via the top-level system param,
			// not as individual messages. Skip them here.
			continue
		default:
			return nil, lawserr.Errorf(lawserr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

func convertAssistantMessage(msg provider.Message) anthropicsdk.MessageParam {
	var blocks []anthropicsdk.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
	}
	return anthropicsdk.NewAssistantMessage(blocks...)
}

// convertTools transforms provider.ToolDefinition slices into Anthropic SDK tool params.
func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := extractSchema(t.InputSchema)
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: schema,
			},
		})
	}
	return result
}

// extractSchema maps a provider.ToolDefinition.InputSchema (a full JSON Schema
// object with keys like "type", "properties", "required") into the Anthropic
// SDK's ToolInputSchemaParam, which expects Properties and Required as
// separate fields.
func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	if req, ok := raw["required"]; ok {
		if arr, ok := req.([]any); ok {
			strs := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			schema.Required = strs
		}
	}
	return schema
}

// mapAPIError converts SDK errors into coded gateway errors.
func mapAPIError(err error) error {
	var apierr *anthropicsdk.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests {
			return lawserr.Wrapf(err, lawserr.CodeProviderRateLimited, "anthropic: rate limited")
		}
		return lawserr.Wrapf(err, lawserr.CodeProviderUpstreamFailure, "anthropic: api error (HTTP %d)", apierr.StatusCode)
	}
	return lawserr.Wrapf(err, lawserr.CodeProviderUpstreamFailure, "anthropic: message request failed")
}
