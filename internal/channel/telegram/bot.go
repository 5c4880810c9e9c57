// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/bot"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/provider"
	"github.com/ykarulin/telegram-laws-of-the-game/internal/store"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// typingInterval is how often the typing indicator is refreshed while a
// request is in flight. Telegram expires the indicator after ~5 seconds.
const typingInterval = 4 * time.Second

const unavailableReply = "Sorry, I couldn't process your question right now. Please try again in a moment."

// Answerer is the orchestrator surface the channel depends on.
type Answerer interface {
	Answer(ctx context.Context, req bot.Request) (*bot.Outcome, error)
}

// Options configures a Bot.
type Options struct {
	Token       string
	PollTimeout int     // seconds, for long polling
	AdminIDs    []int64 // when non-empty, only these users are served
	HTTPClient  *http.Client
}

// Bot long-polls Telegram for messages, answers them through the
// orchestrator, and persists both sides of the conversation.
type Bot struct {
	api         *apiClient
	answerer    Answerer
	store       store.ConversationStore
	pollTimeout int
	allowed     map[int64]struct{}
	self        *user
}

// NewBot validates the token against the Bot API and constructs the channel.
func NewBot(ctx context.Context, opts Options, answerer Answerer, convStore store.ConversationStore) (*Bot, error) {
	if answerer == nil {
		return nil, lawserr.New(lawserr.CodeChannelBackendFailure, "answerer is required")
	}

	api := newAPIClient(opts.Token, opts.HTTPClient)
	me, err := api.getMe(ctx)
	if err != nil {
		return nil, err
	}

	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	var allowed map[int64]struct{}
	if len(opts.AdminIDs) > 0 {
		allowed = make(map[int64]struct{}, len(opts.AdminIDs))
		for _, id := range opts.AdminIDs {
			allowed[id] = struct{}{}
		}
	}

	slog.Info("telegram bot authorized", "username", me.Username, "id", me.ID)

	return &Bot{
		api:         api,
		answerer:    answerer,
		store:       convStore,
		pollTimeout: pollTimeout,
		allowed:     allowed,
		self:        me,
	}, nil
}

// Run polls for updates until ctx is cancelled. Transient polling errors are
// logged and retried with a short backoff.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("telegram bot started", "poll_timeout", b.pollTimeout)

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("telegram bot stopping")
			return nil
		}

		updates, err := b.api.getUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				slog.Info("telegram bot stopping")
				return nil
			}
			slog.Warn("polling for updates failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	msg := u.Message
	if msg == nil || msg.Text == "" || msg.From == nil || msg.From.IsBot {
		return
	}

	if b.allowed != nil {
		if _, ok := b.allowed[msg.From.ID]; !ok {
			slog.Debug("ignoring message from unauthorized user", "user_id", msg.From.ID)
			return
		}
	}

	b.handleMessage(ctx, msg)
}

func (b *Bot) handleMessage(ctx context.Context, msg *incomingMessage) {
	chatID := msg.Chat.ID
	userID := formatUserID(msg.From.ID)

	slog.Info("handling message", "chat_id", chatID, "message_id", msg.MessageID)

	b.saveMessage(ctx, &store.Message{
		MessageID:        msg.MessageID,
		ChatID:           chatID,
		SenderType:       store.SenderTypeUser,
		SenderID:         userID,
		Text:             msg.Text,
		ReplyToMessageID: replyTargetID(msg),
	})

	history := b.conversationHistory(ctx, msg, userID)

	stopTyping := b.startTyping(ctx, chatID)
	outcome, err := b.answerer.Answer(ctx, bot.Request{
		Query:   msg.Text,
		History: history,
	})
	stopTyping()

	if err != nil {
		slog.Error("answering failed", "error", err, "chat_id", chatID, "code", lawserr.CodeOf(err))
		if _, sendErr := b.api.sendMessage(ctx, chatID, unavailableReply, msg.MessageID); sendErr != nil {
			slog.Error("sending failure notice failed", "error", sendErr, "chat_id", chatID)
		}
		return
	}

	sentID, err := b.api.sendMessage(ctx, chatID, outcome.AnswerText, msg.MessageID)
	if err != nil {
		slog.Error("sending answer failed", "error", err, "chat_id", chatID)
		return
	}

	b.saveMessage(ctx, &store.Message{
		MessageID:        sentID,
		ChatID:           chatID,
		SenderType:       store.SenderTypeBot,
		SenderID:         formatUserID(b.self.ID),
		Text:             outcome.AnswerText,
		ReplyToMessageID: msg.MessageID,
	})

	slog.Info("answered message",
		"chat_id", chatID,
		"path", outcome.Path,
		"used_tool", outcome.UsedTool,
		"citations", len(outcome.Citations),
	)
}

// conversationHistory rebuilds prior turns when the message replies to an
// earlier one. The current message is excluded; the orchestrator appends it.
func (b *Bot) conversationHistory(ctx context.Context, msg *incomingMessage, userID string) []provider.Message {
	replyTo := replyTargetID(msg)
	if b.store == nil || replyTo == 0 {
		return nil
	}

	chain, err := b.store.GetConversationChain(ctx, msg.Chat.ID, replyTo, userID)
	if err != nil {
		slog.Warn("loading conversation chain failed, answering without history", "error", err)
		return nil
	}

	history := make([]provider.Message, 0, len(chain))
	for _, m := range chain {
		role := provider.MessageRoleUser
		if m.SenderType == store.SenderTypeBot {
			role = provider.MessageRoleAssistant
		}
		history = append(history, provider.Message{Role: role, Content: m.Text})
	}
	return history
}

func (b *Bot) saveMessage(ctx context.Context, msg *store.Message) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveMessage(ctx, msg); err != nil {
		slog.Warn("saving message failed", "error", err, "chat_id", msg.ChatID, "message_id", msg.MessageID)
	}
}

// startTyping shows the typing indicator and keeps it alive until the
// returned stop function is called.
func (b *Bot) startTyping(ctx context.Context, chatID int64) func() {
	typingCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()

		if err := b.api.sendTyping(typingCtx, chatID); err != nil {
			slog.Debug("typing indicator failed", "error", err)
		}
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				if err := b.api.sendTyping(typingCtx, chatID); err != nil {
					slog.Debug("typing indicator failed", "error", err)
				}
			}
		}
	}()

	return cancel
}

func replyTargetID(msg *incomingMessage) int64 {
	if msg.ReplyToMessage == nil {
		return 0
	}
	return msg.ReplyToMessage.MessageID
}
