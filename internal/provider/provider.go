// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
)

// Gateway is the turn-based chat completion contract the orchestrator relies
// on. The same gateway must support both tool-enabled invocations (Tools set)
// and plain invocations (Tools empty).
type Gateway interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (*Completion, error)
	Close() error
}

// ChatRequest represents one turn-based request to the language model.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// Message represents a conversation message.
type Message struct {
	Role    MessageRole
	Content string

	// ToolCallID and ToolName are set on tool-result messages.
	ToolCallID string
	ToolName   string

	// ToolCalls is set on assistant messages that requested tool invocations,
	// so the request can be echoed back to the model on the next turn.
	ToolCalls []ToolCall
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Completion is the model's response to a single turn: plain text, one or
// more tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// HasToolCalls reports whether the model requested any tool invocations.
func (c *Completion) HasToolCalls() bool {
	return len(c.ToolCalls) > 0
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage from another turn.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
