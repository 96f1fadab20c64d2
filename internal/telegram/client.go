// Package telegram delivers notifications through the Telegram Bot API.
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

	"example.com/activityrelay/internal/domain"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Client sends Markdown messages to chats.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewClient constructs a Client for the bot identified by token.
func NewClient(apiURL, token string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts text to the chat identified by target.
func (c *Client) Send(ctx context.Context, target, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    target,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The request URL carries the bot token; keep it out of logs.
		return fmt.Errorf("%w: send message: %s", domain.ErrTransport, redact(err.Error(), c.token))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 || !parsed.OK {
		return fmt.Errorf("%w: %w", domain.ErrTransport, &SendError{Status: resp.StatusCode, Description: parsed.Description})
	}
	return nil
}

// SendError represents a message the Bot API refused.
type SendError struct {
	Status      int
	Description string
}

func (e *SendError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram responded with status %d", e.Status)
	}
	return fmt.Sprintf("telegram responded with status %d: %s", e.Status, e.Description)
}

func redact(message, token string) string {
	if token == "" {
		return message
	}
	return strings.ReplaceAll(message, token, "<redacted>")
}
