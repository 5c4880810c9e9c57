// SPDX-License-Identifier: Apache-2.0

// Package store defines the conversation store contract: message persistence
// and reply-chain retrieval for building prior-turn context.
package store

import (
	"context"
	"time"
)

// SenderType identifies who sent a message.
type SenderType string

const (
	SenderTypeUser SenderType = "user"
	SenderTypeBot  SenderType = "bot"
)

// Message is a single persisted chat message. ReplyToMessageID is zero when
// the message does not reply to anything.
type Message struct {
	MessageID        int64
	ChatID           int64
	SenderType       SenderType
	SenderID         string
	Text             string
	ReplyToMessageID int64
	CreatedAt        time.Time
}

// ConversationStore persists messages and walks reply chains.
type ConversationStore interface {
	// SaveMessage inserts a message.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetConversationChain walks the reply chain starting at startMessageID
	// in chatID and returns it ordered oldest-to-newest. The walk stops at a
	// break in the chain or at a message from a different user (bot messages
	// always stay in the chain).
	GetConversationChain(ctx context.Context, chatID, startMessageID int64, userID string) ([]Message, error)

	Close() error
}
