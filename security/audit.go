package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	ID        string
	Type      string
	UserID    string
	TeamID    string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"team_id", event.TeamID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthFailure logs an authentication failure. identifier is hashed.
func (a *Auditor) LogAuthFailure(identifier, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    identifier,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// LogTeamEvent logs an event scoped to a team, performed by actingUserID.
func (a *Auditor) LogTeamEvent(eventType string, teamID, actingUserID int64, details map[string]any) {
	a.LogEvent(Event{
		Type:    eventType,
		UserID:  formatID(actingUserID),
		TeamID:  formatID(teamID),
		Details: details,
	})
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

// HashForLogging exposes hashForLogging to other packages that log identifiers.
func HashForLogging(sensitive string) string {
	return hashForLogging(sensitive)
}
