// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/store"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

// maxChainDepth bounds the reply-chain walk so a pathological chain cannot
// blow up a single request's context.
const maxChainDepth = 50

// Compile-time interface check.
var _ store.ConversationStore = (*MessageStore)(nil)

// MessageStore implements store.ConversationStore backed by SQLite.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore opens (or creates) a SQLite database at dbPath and
// initialises the messages table.
func NewMessageStore(dbPath string) (*MessageStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeStoreDatabaseFailure, "migrating message tables")
	}

	return &MessageStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS messages (
	rowid               INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id          INTEGER NOT NULL,
	chat_id             INTEGER NOT NULL,
	sender_type         TEXT NOT NULL,
	sender_id           TEXT NOT NULL,
	text                TEXT NOT NULL,
	reply_to_message_id INTEGER,
	created_at          TEXT NOT NULL,
	UNIQUE(chat_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, message_id);
CREATE INDEX IF NOT EXISTS idx_messages_reply ON messages(chat_id, reply_to_message_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (m *MessageStore) Close() error {
	return m.db.Close()
}

// SaveMessage inserts a message.
func (m *MessageStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.MessageID == 0 || msg.ChatID == 0 {
		return lawserr.New(lawserr.CodeStoreInvalidInput, "message_id and chat_id are required",
			lawserr.FieldChatID(msg.ChatID))
	}

	var replyTo sql.NullInt64
	if msg.ReplyToMessageID != 0 {
		replyTo = sql.NullInt64{Int64: msg.ReplyToMessageID, Valid: true}
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `INSERT INTO messages (message_id, chat_id, sender_type, sender_id, text, reply_to_message_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := m.db.ExecContext(ctx, q,
		msg.MessageID,
		msg.ChatID,
		string(msg.SenderType),
		msg.SenderID,
		msg.Text,
		replyTo,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return lawserr.Wrapf(err, lawserr.CodeStoreDatabaseFailure, "saving message %d in chat %d", msg.MessageID, msg.ChatID)
	}
	return nil
}

// GetConversationChain walks reply references backwards from startMessageID
// and returns the chain oldest-to-newest. A missing message or a message from
// a different user terminates the walk; bot messages always stay in the chain.
func (m *MessageStore) GetConversationChain(ctx context.Context, chatID, startMessageID int64, userID string) ([]store.Message, error) {
	var chain []store.Message

	messageID := startMessageID
	for depth := 0; depth < maxChainDepth && messageID != 0; depth++ {
		msg, err := m.getMessage(ctx, chatID, messageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break // chain break: referenced message was never stored
			}
			return nil, err
		}

		if msg.SenderType == store.SenderTypeUser && msg.SenderID != userID {
			break // sender boundary: someone else's thread
		}

		// Prepend so the result reads oldest-to-newest.
		chain = append([]store.Message{*msg}, chain...)
		messageID = msg.ReplyToMessageID
	}

	return chain, nil
}

func (m *MessageStore) getMessage(ctx context.Context, chatID, messageID int64) (*store.Message, error) {
	const q = `SELECT message_id, chat_id, sender_type, sender_id, text, reply_to_message_id, created_at
FROM messages WHERE chat_id = ? AND message_id = ?`

	var msg store.Message
	var senderType string
	var replyTo sql.NullInt64
	var createdAt string

	err := m.db.QueryRowContext(ctx, q, chatID, messageID).Scan(
		&msg.MessageID,
		&msg.ChatID,
		&senderType,
		&msg.SenderID,
		&msg.Text,
		&replyTo,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, lawserr.Wrapf(err, lawserr.CodeStoreDatabaseFailure, "loading message %d in chat %d", messageID, chatID)
	}

	msg.SenderType = store.SenderType(senderType)
	if replyTo.Valid {
		msg.ReplyToMessageID = replyTo.Int64
	}
	if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		msg.CreatedAt = ts
	}

	return &msg, nil
}
