package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/giantswarm/team-broker/internal/util"
	"github.com/giantswarm/team-broker/security"
)

// maxErrorBodyLength limits how much of a failed webhook response is kept.
const maxErrorBodyLength = 512

// DiscordChannel posts to a Discord webhook.
type DiscordChannel struct {
	client   *http.Client
	username string
}

// NewDiscordChannel creates a Discord webhook channel
func NewDiscordChannel(client *http.Client, username string) *DiscordChannel {
	return &DiscordChannel{client: client, username: username}
}

// Name returns "discord"
func (c *DiscordChannel) Name() string { return "discord" }

// Accepts reports whether a Discord webhook is configured
func (c *DiscordChannel) Accepts(dest Destinations) bool { return dest.DiscordWebhookURL != "" }

// Send posts msg as a webhook message
func (c *DiscordChannel) Send(ctx context.Context, dest Destinations, msg Message) error {
	return postJSON(ctx, c.client, dest.DiscordWebhookURL, map[string]string{
		"content":  format(msg),
		"username": c.username,
	})
}

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	client   *http.Client
	username string
}

// NewSlackChannel creates a Slack webhook channel
func NewSlackChannel(client *http.Client, username string) *SlackChannel {
	return &SlackChannel{client: client, username: username}
}

// Name returns "slack"
func (c *SlackChannel) Name() string { return "slack" }

// Accepts reports whether a Slack webhook is configured
func (c *SlackChannel) Accepts(dest Destinations) bool { return dest.SlackWebhookURL != "" }

// Send posts msg as a webhook message
func (c *SlackChannel) Send(ctx context.Context, dest Destinations, msg Message) error {
	return postJSON(ctx, c.client, dest.SlackWebhookURL, map[string]string{
		"text":     format(msg),
		"username": c.username,
	})
}

// EmailChannel records email notifications in the log. No mail transport is
// wired in.
type EmailChannel struct {
	logger *slog.Logger
}

// NewEmailChannel creates the log-only email channel
func NewEmailChannel(logger *slog.Logger) *EmailChannel {
	return &EmailChannel{logger: logger}
}

// Name returns "email"
func (c *EmailChannel) Name() string { return "email" }

// Accepts reports whether a notification email is configured
func (c *EmailChannel) Accepts(dest Destinations) bool { return dest.Email != "" }

// Send logs the notification that would have been mailed
func (c *EmailChannel) Send(ctx context.Context, dest Destinations, msg Message) error {
	c.logger.Info("Email notification not sent: no mail transport configured",
		"recipient_hash", security.HashForLogging(dest.Email),
		"team_id", msg.TeamID,
		"subject", msg.Subject)
	return nil
}

func format(msg Message) string {
	if msg.Subject == "" {
		return msg.Text
	}
	return "**" + msg.Subject + "**\n\n" + msg.Text
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, util.SafeTruncate(string(respBody), maxErrorBodyLength))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
