package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
)

// TelegramSink delivers transition events to a Telegram chat via the Bot
// API sendMessage endpoint.
type TelegramSink struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSink creates a TelegramSink for the given bot token and chat
// ID.
func NewTelegramSink(token, chatID string) *TelegramSink {
	return &TelegramSink{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Emit posts the formatted event to the configured chat. The title is
// rendered in bold via Markdown.
func (t *TelegramSink) Emit(ctx context.Context, ev domain.TransitionEvent) error {
	title, body := formatEvent(ev)

	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, body),
		"parse_mode": "Markdown",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sink identifier.
func (t *TelegramSink) Name() string {
	return "telegram"
}

// Compile-time interface check.
var _ domain.TransitionSink = (*TelegramSink)(nil)
