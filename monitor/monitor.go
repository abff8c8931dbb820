// Package monitor periodically verifies stored session cookies and notifies
// teams whose cookie the platform no longer accepts.
//
// Each team moves from Unknown to Valid or Invalid as probes complete. Only
// an authentication failure marks a cookie Invalid; timeouts and server
// errors are logged and leave the state unchanged. Expiry notifications are
// sent at most once per team within NotificationInterval.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/notify"
	"github.com/giantswarm/team-broker/providers"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/vault"
)

const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = time.Hour

	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultNotificationInterval is the minimum time between two expiry
	// notifications for the same team.
	DefaultNotificationInterval = 24 * time.Hour
)

// Probe outcomes, reported with the probe metric.
const (
	outcomeValid   = "valid"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// State is the last known health of a team's session cookie.
type State int

const (
	StateUnknown State = iota
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Notifier delivers expiry notifications. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, dest notify.Destinations, msg notify.Message) int
}

// Config holds monitor configuration
type Config struct {
	Vault    *vault.Vault
	Teams    storage.TeamStore
	Provider providers.Provider
	Notifier Notifier

	// Interval between sweeps. Default: 1 hour
	Interval time.Duration

	// ProbeTimeout bounds each probe. Default: 10 seconds
	ProbeTimeout time.Duration

	// NotificationInterval throttles expiry notifications per team. Default: 24 hours
	NotificationInterval time.Duration

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// CheckResult is the outcome of a manual check.
type CheckResult struct {
	TeamID   int64  `json:"teamId"`
	TeamName string `json:"teamName"`
	// IsValid is nil when the platform could not be asked or no cookie is stored.
	IsValid   *bool     `json:"isValid"`
	CheckedAt time.Time `json:"checkedAt"`
}

// SweepSummary counts the outcomes of one sweep.
type SweepSummary struct {
	ID      string
	Checked int
	Valid   int
	Invalid int
	Errors  int
}

// Monitor runs the periodic cookie checks.
type Monitor struct {
	vault    *vault.Vault
	teams    storage.TeamStore
	provider providers.Provider
	notifier Notifier
	config   Config
	auditor  *security.Auditor
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	states       map[int64]State
	lastNotified map[int64]time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor
func New(cfg Config) (*Monitor, error) {
	if cfg.Vault == nil {
		return nil, errors.New("monitor: vault is required")
	}
	if cfg.Teams == nil {
		return nil, errors.New("monitor: team store is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("monitor: provider is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("monitor: notifier is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.NotificationInterval <= 0 {
		cfg.NotificationInterval = DefaultNotificationInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instrumentation == nil {
		cfg.Instrumentation = instrumentation.NewNoop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Monitor{
		vault:        cfg.Vault,
		teams:        cfg.Teams,
		provider:     cfg.Provider,
		notifier:     cfg.Notifier,
		config:       cfg,
		auditor:      cfg.Auditor,
		metrics:      cfg.Instrumentation.Metrics(),
		logger:       cfg.Logger,
		now:          cfg.Clock,
		states:       make(map[int64]State),
		lastNotified: make(map[int64]time.Time),
	}, nil
}

// Start runs a sweep immediately and then every Interval until ctx is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return errors.New("monitor already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Info("Starting session cookie monitor", "interval", m.config.Interval)
	go m.run(ctx, m.done)
	return nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.Sweep(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop started by Start and waits for a running sweep to
// finish. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("Session cookie monitor stopped")
}

// Sweep checks every team with a stored session cookie. A failure for one
// team never stops the sweep.
func (m *Monitor) Sweep(ctx context.Context) SweepSummary {
	summary := SweepSummary{ID: uuid.NewString()}
	logger := m.logger.With("sweep_id", summary.ID)

	teamIDs, err := m.vault.TeamsWithSessionCookie(ctx)
	if err != nil {
		logger.Error("Failed to list teams with session cookies", "error", err)
		return summary
	}
	if len(teamIDs) == 0 {
		logger.Debug("No session cookies configured")
		return summary
	}

	logger.Info("Checking session cookies", "teams", len(teamIDs))
	for _, teamID := range teamIDs {
		if ctx.Err() != nil {
			break
		}
		state, err := m.check(ctx, teamID, m.teamName(ctx, teamID))
		summary.Checked++
		switch {
		case err != nil:
			summary.Errors++
		case state == StateValid:
			summary.Valid++
		case state == StateInvalid:
			summary.Invalid++
		}
	}

	logger.Info("Session cookie sweep finished",
		"checked", summary.Checked,
		"valid", summary.Valid,
		"invalid", summary.Invalid,
		"errors", summary.Errors)
	return summary
}

// CheckTeam probes one team's cookie on demand. Notification throttling
// applies as for scheduled sweeps.
func (m *Monitor) CheckTeam(ctx context.Context, teamID int64) (*CheckResult, error) {
	team, err := m.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	state, _ := m.check(ctx, teamID, team.Name)
	result := &CheckResult{
		TeamID:    teamID,
		TeamName:  team.Name,
		CheckedAt: m.now().UTC(),
	}
	switch state {
	case StateValid:
		valid := true
		result.IsValid = &valid
	case StateInvalid:
		valid := false
		result.IsValid = &valid
	}
	return result, nil
}

// State returns the last known state of teamID's cookie.
func (m *Monitor) State(teamID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[teamID]
}

func (m *Monitor) teamName(ctx context.Context, teamID int64) string {
	team, err := m.teams.GetTeam(ctx, teamID)
	if err != nil {
		m.logger.Warn("Failed to load team", "team_id", teamID, "error", err)
		return fmt.Sprintf("team %d", teamID)
	}
	return team.Name
}

// check probes one team. It returns the state observed by this probe, which
// is StateUnknown when the probe was inconclusive, and an error for
// inconclusive probes.
func (m *Monitor) check(ctx context.Context, teamID int64, teamName string) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Session cookie check panicked", "team_id", teamID, "panic", r)
			m.metrics.RecordMonitorProbe(ctx, outcomeError)
			state, err = StateUnknown, fmt.Errorf("check panicked: %v", r)
		}
	}()

	cookie, err := m.vault.SessionCookie(ctx, teamID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			m.logger.Debug("No session cookie stored", "team_id", teamID)
			return StateUnknown, nil
		}
		m.logger.Warn("Cannot read session cookie", "team_id", teamID, "error", err)
		m.metrics.RecordMonitorProbe(ctx, outcomeError)
		return StateUnknown, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	info, err := m.provider.ProbeSession(probeCtx, cookie)
	switch {
	case err == nil:
		m.setState(teamID, StateValid)
		m.metrics.RecordMonitorProbe(ctx, outcomeValid)
		m.logger.Info("Session cookie is valid", "team_id", teamID, "platform_user_id", info.UserID)
		return StateValid, nil

	case providers.IsAuthFailure(err):
		m.setState(teamID, StateInvalid)
		m.metrics.RecordMonitorProbe(ctx, outcomeInvalid)
		m.auditor.LogTeamEvent(security.EventSessionCookieInvalid, teamID, 0, nil)
		m.logger.Warn("Session cookie rejected by the platform", "team_id", teamID, "team", teamName)
		m.notifyExpired(ctx, teamID, teamName)
		return StateInvalid, nil

	default:
		m.metrics.RecordMonitorProbe(ctx, outcomeError)
		m.logger.Warn("Session cookie check inconclusive", "team_id", teamID, "error", err)
		return StateUnknown, err
	}
}

func (m *Monitor) setState(teamID int64, state State) {
	m.mu.Lock()
	m.states[teamID] = state
	m.mu.Unlock()
}

// claimNotification records a notification for teamID unless one was sent
// within NotificationInterval.
func (m *Monitor) claimNotification(teamID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.lastNotified[teamID]; ok && now.Sub(last) < m.config.NotificationInterval {
		return false
	}
	m.lastNotified[teamID] = now
	return true
}

func (m *Monitor) notifyExpired(ctx context.Context, teamID int64, teamName string) {
	if !m.claimNotification(teamID) {
		m.logger.Info("Expiry notification already sent recently", "team_id", teamID)
		return
	}

	cred, err := m.vault.Get(ctx, teamID)
	if err != nil {
		m.logger.Warn("Cannot load notification settings", "team_id", teamID, "error", err)
		return
	}
	dest := notify.Destinations{
		DiscordWebhookURL: cred.DiscordWebhookURL,
		SlackWebhookURL:   cred.SlackWebhookURL,
		Email:             cred.NotificationEmail,
	}

	m.notifier.Notify(ctx, dest, expiredMessage(teamID, teamName))
}

func expiredMessage(teamID int64, teamName string) notify.Message {
	return notify.Message{
		TeamID:   teamID,
		TeamName: teamName,
		Subject:  "Platform session cookie expired",
		Text: fmt.Sprintf(
			"The session cookie for team %s (ID %d) is expired or invalid.\n\n"+
				"Statistics that need a session cannot be fetched until it is replaced.\n\n"+
				"To fix it:\n"+
				"1. Sign in to the dedicated platform account\n"+
				"2. Copy the new session cookie\n"+
				"3. Update it under Settings > Session cookie",
			teamName, teamID),
	}
}
