// Package telegram publishes lessons to a group chat through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/codetutor/internal/scheduler"
)

const defaultAPIURL = "https://api.telegram.org"

// maxResponseSize bounds Bot API responses read into memory.
const maxResponseSize = 1 << 20

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client sends and pins messages in a single chat.
type Client struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
}

// New returns a client for chatID. An empty apiURL uses the public Bot API.
func New(apiURL, token, chatID string, httpClient *http.Client) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		chatID:  chatID,
		http:    httpClient,
	}
}

var _ scheduler.Publisher = (*Client)(nil)

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type pinRequest struct {
	ChatID              string `json:"chat_id"`
	MessageID           int64  `json:"message_id"`
	DisableNotification bool   `json:"disable_notification"`
}

// Publish sends the rendered post as an HTML message.
func (c *Client) Publish(ctx context.Context, post scheduler.Post) (scheduler.MessageRef, error) {
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	req := sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  post.Text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return scheduler.MessageRef{}, err
	}
	return scheduler.MessageRef{ChatID: c.chatID, MessageID: msg.MessageID}, nil
}

// Pin pins ref in the chat. The bot needs admin rights in the group.
func (c *Client) Pin(ctx context.Context, ref scheduler.MessageRef) error {
	return c.call(ctx, "pinChatMessage", pinRequest{ChatID: ref.ChatID, MessageID: ref.MessageID}, nil)
}

func (c *Client) call(ctx context.Context, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL embeds the token; report only the method.
		return fmt.Errorf("telegram %s: %w", method, redact(err, c.token))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !out.OK {
		return &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
	}
	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), cause: err}
}
