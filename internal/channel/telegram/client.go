// SPDX-License-Identifier: Apache-2.0

// Package telegram implements the chat transport: long-polling for updates,
// sending replies, and validating the bot token against the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// update is one entry from getUpdates.
type update struct {
	UpdateID int64            `json:"update_id"`
	Message  *incomingMessage `json:"message"`
}

// incomingMessage is the subset of Telegram's Message object the bot reads.
type incomingMessage struct {
	MessageID      int64            `json:"message_id"`
	From           *user            `json:"from"`
	Chat           chat             `json:"chat"`
	Text           string           `json:"text"`
	ReplyToMessage *incomingMessage `json:"reply_to_message"`
}

type user struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type chat struct {
	ID int64 `json:"id"`
}

// apiResponse is the Bot API's envelope around every result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// apiClient is a minimal Bot API client covering the methods the bot uses.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(token string, httpClient *http.Client) *apiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &apiClient{
		baseURL:    defaultAPIBaseURL,
		token:      token,
		httpClient: httpClient,
	}
}

func (c *apiClient) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *apiClient) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return lawserr.Wrapf(err, lawserr.CodeChannelBackendFailure, "encoding %s payload", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return lawserr.Wrapf(err, lawserr.CodeChannelBackendFailure, "building %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lawserr.Wrapf(err, lawserr.CodeChannelBackendFailure, "calling %s", method)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return lawserr.Wrapf(err, lawserr.CodeChannelBackendFailure, "decoding %s response", method)
	}
	if !envelope.OK {
		return lawserr.Errorf(lawserr.CodeChannelBackendFailure, "%s failed: %s (code %d)",
			method, envelope.Description, envelope.ErrorCode)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return lawserr.Wrapf(err, lawserr.CodeChannelBackendFailure, "decoding %s result", method)
		}
	}
	return nil
}

// getUpdates long-polls for new updates past offset. timeout is in seconds.
func (c *apiClient) getUpdates(ctx context.Context, offset int64, timeout int) ([]update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message"},
	}

	var updates []update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// sendMessage sends text to a chat, optionally as a reply, and returns the
// sent message's ID.
func (c *apiClient) sendMessage(ctx context.Context, chatID int64, text string, replyToMessageID int64) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyToMessageID != 0 {
		payload["reply_to_message_id"] = replyToMessageID
	}

	var sent incomingMessage
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// sendTyping shows the "typing…" indicator in a chat. Failures are ignored
// by callers; the indicator is cosmetic.
func (c *apiClient) sendTyping(ctx context.Context, chatID int64) error {
	payload := map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}
	return c.call(ctx, "sendChatAction", payload, nil)
}

// getMe fetches the bot's own identity, verifying the token along the way.
func (c *apiClient) getMe(ctx context.Context) (*user, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getMe"), nil)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeChannelTokenCheckFailed, "building getMe request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeChannelTokenCheckFailed, "calling getMe")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, lawserr.Errorf(lawserr.CodeChannelTokenInvalid, "invalid bot token (HTTP %d)", resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeChannelTokenCheckFailed, "decoding getMe response")
	}
	if !envelope.OK {
		return nil, lawserr.Errorf(lawserr.CodeChannelTokenCheckFailed, "getMe failed: %s (code %d)",
			envelope.Description, envelope.ErrorCode)
	}

	var me user
	if err := json.Unmarshal(envelope.Result, &me); err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeChannelTokenCheckFailed, "decoding getMe result")
	}
	return &me, nil
}

// ValidateToken verifies a bot token against the Bot API without constructing
// a full client.
func ValidateToken(ctx context.Context, httpClient *http.Client, token string) error {
	if token == "" {
		return lawserr.New(lawserr.CodeChannelTokenInvalid, "bot token is empty")
	}

	client := newAPIClient(token, httpClient)
	_, err := client.getMe(ctx)
	return err
}

// formatUserID renders a Telegram numeric user ID as the string form stored
// alongside messages.
func formatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}
