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

// DiscordSink delivers transition events to a Discord webhook.
type DiscordSink struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSink creates a DiscordSink for the given webhook URL.
func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Emit posts the formatted event to the webhook. Discord returns 204 No
// Content on success.
func (d *DiscordSink) Emit(ctx context.Context, ev domain.TransitionEvent) error {
	title, body := formatEvent(ev)

	data, err := json.Marshal(map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, body),
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sink identifier.
func (d *DiscordSink) Name() string {
	return "discord"
}

// Compile-time interface check.
var _ domain.TransitionSink = (*DiscordSink)(nil)
