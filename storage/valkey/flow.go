package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/team-broker/internal/util"
	"github.com/giantswarm/team-broker/storage"
)

// pendingAuthorizationJSON is the stored form of a pending authorization.
type pendingAuthorizationJSON struct {
	State        string   `json:"state"`
	CodeVerifier string   `json:"code_verifier"`
	TeamID       int64    `json:"team_id"`
	Scopes       []string `json:"scopes,omitempty"`
	InitiatedBy  int64    `json:"initiated_by,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	ExpiresAt    int64    `json:"expires_at"`
}

func toPendingJSON(p *storage.PendingAuthorization) *pendingAuthorizationJSON {
	return &pendingAuthorizationJSON{
		State:        p.State,
		CodeVerifier: p.CodeVerifier,
		TeamID:       p.TeamID,
		Scopes:       p.Scopes,
		InitiatedBy:  p.InitiatedBy,
		CreatedAt:    p.CreatedAt.UnixMilli(),
		ExpiresAt:    p.ExpiresAt.UnixMilli(),
	}
}

func fromPendingJSON(j *pendingAuthorizationJSON) *storage.PendingAuthorization {
	return &storage.PendingAuthorization{
		State:        j.State,
		CodeVerifier: j.CodeVerifier,
		TeamID:       j.TeamID,
		Scopes:       j.Scopes,
		InitiatedBy:  j.InitiatedBy,
		CreatedAt:    time.UnixMilli(j.CreatedAt),
		ExpiresAt:    time.UnixMilli(j.ExpiresAt),
	}
}

// SavePendingAuthorization stores p until its ExpiresAt. The write uses NX so
// a colliding state can never overwrite a flow in progress.
func (s *Store) SavePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization) error {
	if p == nil || p.State == "" {
		return fmt.Errorf("pending authorization requires a state")
	}

	ttl := calculateTTL(p.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("pending authorization already expired")
	}

	data, err := json.Marshal(toPendingJSON(p))
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.pendingKey(p.State)).Value(string(data)).Nx().Px(ttl).Build(),
	).Error()
	if isNilError(err) {
		return fmt.Errorf("pending authorization for this state already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to save pending authorization: %w", err)
	}

	s.logger.Debug("Saved pending authorization",
		"team_id", p.TeamID,
		"state_prefix", util.SafeTruncate(p.State, 8))
	return nil
}

// ConsumePendingAuthorization fetches and deletes the authorization with
// GETDEL, so concurrent callbacks for one state cannot both succeed.
func (s *Store) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	if state == "" || len(state) > maxStateLength {
		return nil, storage.ErrPendingAuthorizationNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.pendingKey(state)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrPendingAuthorizationNotFound
		}
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}

	var j pendingAuthorizationJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending authorization: %w", err)
	}

	p := fromPendingJSON(&j)
	// TTL should have removed it; millisecond rounding can leave a short window.
	if p.Expired(time.Now()) {
		return nil, storage.ErrPendingAuthorizationNotFound
	}
	return p, nil
}

// DeleteExpiredPendingAuthorizations is a no-op: key TTLs expire entries.
func (s *Store) DeleteExpiredPendingAuthorizations(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
