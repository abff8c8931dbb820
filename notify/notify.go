// Package notify delivers team notifications to webhooks and email.
//
// A Dispatcher sends one Message to every channel a team has configured.
// Channels run concurrently; a failing channel is logged and does not stop
// the others.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/team-broker/instrumentation"
)

const (
	// DefaultUsername is the sender name shown in webhook messages.
	DefaultUsername = "Team Broker Monitor"

	// DefaultHTTPTimeout bounds each webhook delivery.
	DefaultHTTPTimeout = 15 * time.Second
)

// Message is a notification about a team.
type Message struct {
	TeamID   int64
	TeamName string
	Subject  string
	Text     string
}

// Destinations are a team's configured notification addresses. Empty fields
// are skipped.
type Destinations struct {
	DiscordWebhookURL string
	SlackWebhookURL   string
	Email             string
}

// Empty reports whether no destination is configured.
func (d Destinations) Empty() bool {
	return d.DiscordWebhookURL == "" && d.SlackWebhookURL == "" && d.Email == ""
}

// Channel is one delivery mechanism.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string

	// Accepts reports whether dest has an address for this channel.
	Accepts(dest Destinations) bool

	Send(ctx context.Context, dest Destinations, msg Message) error
}

// Config holds dispatcher configuration
type Config struct {
	// Channels overrides the default Discord, Slack and email channels.
	Channels []Channel

	// HTTPClient is used by the default webhook channels.
	// Default: a client with a 15 second timeout
	HTTPClient *http.Client

	// Username is the webhook sender name. Default: DefaultUsername
	Username string

	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Dispatcher fans a message out to channels.
type Dispatcher struct {
	channels []Channel
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instrumentation == nil {
		cfg.Instrumentation = instrumentation.NewNoop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}

	channels := cfg.Channels
	if len(channels) == 0 {
		channels = []Channel{
			NewDiscordChannel(cfg.HTTPClient, cfg.Username),
			NewSlackChannel(cfg.HTTPClient, cfg.Username),
			NewEmailChannel(cfg.Logger),
		}
	}

	return &Dispatcher{
		channels: channels,
		metrics:  cfg.Instrumentation.Metrics(),
		logger:   cfg.Logger,
	}
}

// Notify sends msg to every channel that accepts dest and returns how many
// deliveries succeeded. Channel failures are logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, dest Destinations, msg Message) int {
	if dest.Empty() {
		d.logger.Info("No notification destination configured; skipping",
			"team_id", msg.TeamID, "subject", msg.Subject)
		return 0
	}

	results := make([]bool, len(d.channels))
	var g errgroup.Group
	for i, ch := range d.channels {
		if !ch.Accepts(dest) {
			continue
		}
		g.Go(func() error {
			err := ch.Send(ctx, dest, msg)
			d.metrics.RecordNotification(ctx, ch.Name(), err)
			if err != nil {
				d.logger.Warn("Notification delivery failed",
					"channel", ch.Name(), "team_id", msg.TeamID, "error", err)
				return err
			}
			results[i] = true
			d.logger.Info("Notification sent", "channel", ch.Name(), "team_id", msg.TeamID)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	return sent
}
