package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/internal/util"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/vault"
)

// Refresh triggers, reported with the refresh metric.
const (
	triggerManual   = "manual"
	triggerResolver = "resolver"
)

// TokenSet is the outcome of a code exchange or refresh.
type TokenSet struct {
	TeamID       int64
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
}

// OAuthStatus reports a team's OAuth connection without exposing tokens.
type OAuthStatus struct {
	TeamID          int64      `json:"teamId"`
	Configured      bool       `json:"configured"`
	Connected       bool       `json:"connected"`
	Valid           bool       `json:"valid"`
	HasRefreshToken bool       `json:"hasRefreshToken"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Scope           string     `json:"scope,omitempty"`
}

// BuildAuthorizationURL starts an authorization for teamID and returns the
// platform URL to redirect the admin to, along with the state that the
// callback must present. initiatedBy is recorded for auditing.
func (b *Broker) BuildAuthorizationURL(ctx context.Context, teamID int64, scopes []string, initiatedBy int64) (string, string, error) {
	cred, err := b.vault.Get(ctx, teamID)
	if err != nil {
		return "", "", err
	}
	if cred.OAuthClientID == "" {
		return "", "", apperrors.NewValidationError(vault.FieldOAuthClientID, "OAuth client ID is not configured")
	}
	if cred.OAuthRedirectURI == "" {
		return "", "", apperrors.NewValidationError(vault.FieldOAuthRedirectURI, "OAuth redirect URI is not configured")
	}

	scopes = normalizeScopes(scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), b.Config.DefaultScopes...)
	}

	now := b.now()
	if removed, err := b.flows.DeleteExpiredPendingAuthorizations(ctx, now); err != nil {
		b.Logger.Warn("Failed to sweep expired pending authorizations", "error", err)
	} else if removed > 0 {
		b.Logger.Debug("Swept expired pending authorizations", "count", removed)
	}

	verifier := generateRandomToken()
	state := generateRandomToken()

	pending := &storage.PendingAuthorization{
		State:        state,
		CodeVerifier: verifier,
		TeamID:       teamID,
		Scopes:       scopes,
		InitiatedBy:  initiatedBy,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.Config.PendingAuthorizationTTL),
	}
	if err := b.flows.SavePendingAuthorization(ctx, pending); err != nil {
		return "", "", fmt.Errorf("failed to save pending authorization: %w", err)
	}

	authURL := b.provider.AuthorizationURL(clientOf(cred), state, oauth2.S256ChallengeFromVerifier(verifier), scopes)

	b.metrics.RecordAuthorizationStarted(ctx)
	b.Auditor.LogTeamEvent(security.EventAuthorizationFlowStarted, teamID, initiatedBy, map[string]any{
		"scopes": strings.Join(scopes, " "),
	})
	b.Logger.Info("Started OAuth authorization", "team_id", teamID, "initiated_by", initiatedBy)

	return authURL, state, nil
}

// ExchangeCode completes the authorization identified by state. The state is
// consumed before the platform is contacted, so it can be used only once.
func (b *Broker) ExchangeCode(ctx context.Context, code, state string) (_ *TokenSet, err error) {
	ctx, span := b.tracer.Start(ctx, "broker.exchange_code")
	defer func() {
		instrumentation.EndSpan(span, err)
		b.metrics.RecordCodeExchange(ctx, err)
	}()

	if state == "" {
		b.stateMismatch(ctx, state, "missing state")
		return nil, apperrors.ErrStateMismatch
	}

	pending, err := b.flows.ConsumePendingAuthorization(ctx, state)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			b.stateMismatch(ctx, state, "unknown, expired or already used state")
			return nil, apperrors.ErrStateMismatch
		}
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}
	// The store drops expired entries, but its clock may differ from ours.
	if pending.Expired(b.now()) {
		b.stateMismatch(ctx, state, "expired state")
		return nil, apperrors.ErrStateMismatch
	}
	instrumentation.AddTeamAttributes(span, pending.TeamID, pending.InitiatedBy)

	if code == "" {
		return nil, apperrors.NewValidationError("code", "authorization code is required")
	}

	cred, err := b.vault.Get(ctx, pending.TeamID)
	if err != nil {
		return nil, err
	}
	if err := requireClient(cred); err != nil {
		return nil, err
	}

	tok, err := b.provider.ExchangeCode(ctx, clientOf(cred), code, pending.CodeVerifier)
	if err != nil {
		b.Logger.Warn("Authorization code exchange failed", "team_id", pending.TeamID, "error", err)
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	set := tokenSetOf(pending.TeamID, tok, strings.Join(pending.Scopes, " "))
	if err := b.store(ctx, set); err != nil {
		return nil, err
	}

	b.Auditor.LogTeamEvent(security.EventTokenIssued, pending.TeamID, pending.InitiatedBy, map[string]any{
		"scope":      set.Scope,
		"expires_at": set.ExpiresAt,
	})
	b.Logger.Info("Stored OAuth tokens", "team_id", pending.TeamID, "expires_at", set.ExpiresAt)

	return set, nil
}

func (b *Broker) stateMismatch(ctx context.Context, state, reason string) {
	b.metrics.RecordStateMismatch(ctx)
	b.Auditor.LogEvent(security.Event{
		Type: security.EventStateMismatch,
		Details: map[string]any{
			"state_hash": security.HashForLogging(state),
			"reason":     reason,
		},
	})
	b.Logger.Warn("Rejected OAuth callback", "reason", reason)
}

// Refresh exchanges the stored refresh token for new tokens.
func (b *Broker) Refresh(ctx context.Context, teamID int64) (*TokenSet, error) {
	return b.refresh(ctx, teamID, triggerManual)
}

// refresh runs at most one platform refresh per team at a time. Callers that
// arrive while a refresh is in flight receive its result. A resolver-triggered
// refresh re-reads the stored token first, so a caller that lost the race to
// a completed refresh reuses its token instead of refreshing again.
func (b *Broker) refresh(ctx context.Context, teamID int64, trigger string) (*TokenSet, error) {
	key := strconv.FormatInt(teamID, 10)

	ch := b.refreshes.DoChan(key, func() (any, error) {
		// The flight is shared; one caller going away must not abort it.
		return b.doRefresh(context.WithoutCancel(ctx), teamID, trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenSet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Broker) doRefresh(ctx context.Context, teamID int64, trigger string) (_ *TokenSet, err error) {
	ctx, span := b.tracer.Start(ctx, "broker.refresh")
	instrumentation.AddTeamAttributes(span, teamID, 0)
	defer func() {
		instrumentation.EndSpan(span, err)
	}()

	cred, err := b.vault.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if trigger == triggerResolver && b.usableAccessToken(cred) {
		return tokenSetFromCredential(cred), nil
	}

	if cred.OAuthRefreshToken == "" {
		if cred.IsUnusable(vault.FieldOAuthRefreshToken) {
			return nil, fmt.Errorf("stored refresh token: %w", apperrors.ErrDecryption)
		}
		return nil, apperrors.ErrNoRefreshToken
	}
	if err := requireClient(cred); err != nil {
		return nil, err
	}

	tok, err := b.provider.RefreshToken(ctx, clientOf(cred), cred.OAuthRefreshToken)
	b.metrics.RecordTokenRefresh(ctx, trigger, err)
	if err != nil {
		b.Logger.Warn("Token refresh failed", "team_id", teamID, "trigger", trigger, "error", err)
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	set := tokenSetOf(teamID, tok, cred.OAuthScope)
	if set.RefreshToken == "" {
		set.RefreshToken = cred.OAuthRefreshToken
	}
	if err := b.store(ctx, set); err != nil {
		return nil, err
	}

	b.Auditor.LogTeamEvent(security.EventTokenRefreshed, teamID, 0, map[string]any{
		"trigger":    trigger,
		"expires_at": set.ExpiresAt,
	})
	b.Logger.Info("Refreshed OAuth tokens", "team_id", teamID, "trigger", trigger, "expires_at", set.ExpiresAt)

	return set, nil
}

// Revoke asks the platform to revoke the team's tokens and then clears them
// locally. Platform failures are logged and ignored; only a failure to clear
// the stored tokens is returned.
func (b *Broker) Revoke(ctx context.Context, teamID, actingUserID int64) error {
	cred, err := b.vault.Get(ctx, teamID)
	if err != nil {
		return err
	}

	var upstreamErr error
	if cred.OAuthClientID != "" {
		client := clientOf(cred)
		for _, tok := range []string{cred.OAuthRefreshToken, cred.OAuthAccessToken} {
			if tok == "" {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, b.Config.RevokeTimeout)
			err := b.provider.RevokeToken(rctx, client, tok)
			cancel()
			if err != nil {
				b.Logger.Warn("Platform token revocation failed; clearing local tokens anyway",
					"team_id", teamID, "error", err)
				upstreamErr = errors.Join(upstreamErr, err)
			}
		}
	}
	b.metrics.RecordTokenRevocation(ctx, upstreamErr)

	if err := b.vault.ClearOAuthTokens(ctx, teamID); err != nil {
		return err
	}

	b.Auditor.LogTeamEvent(security.EventTokenRevoked, teamID, actingUserID, map[string]any{
		"platform_confirmed": upstreamErr == nil,
	})
	b.Logger.Info("Revoked OAuth tokens", "team_id", teamID)
	return nil
}

// HasValidToken reports whether the team holds an access token that is not
// within the expiry margin.
func (b *Broker) HasValidToken(ctx context.Context, teamID int64) (bool, error) {
	cred, err := b.vault.Get(ctx, teamID)
	if err != nil {
		return false, err
	}
	return b.usableAccessToken(cred), nil
}

// OAuthStatus returns the team's OAuth configuration and connection state.
func (b *Broker) OAuthStatus(ctx context.Context, teamID int64) (*OAuthStatus, error) {
	cred, err := b.vault.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}

	status := &OAuthStatus{
		TeamID:          teamID,
		Configured:      cred.OAuthClientID != "" && cred.OAuthClientSecret != "" && cred.OAuthRedirectURI != "",
		Connected:       cred.OAuthAccessToken != "",
		Valid:           b.usableAccessToken(cred),
		HasRefreshToken: cred.OAuthRefreshToken != "",
		Scope:           cred.OAuthScope,
	}
	if !cred.OAuthExpiresAt.IsZero() {
		expiresAt := cred.OAuthExpiresAt
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

func (b *Broker) usableAccessToken(cred *vault.Credential) bool {
	return cred.OAuthAccessToken != "" &&
		security.HasUsableLifetime(cred.OAuthExpiresAt, b.Config.ExpiryMargin, b.now())
}

func (b *Broker) store(ctx context.Context, set *TokenSet) error {
	err := b.vault.SetOAuthTokens(ctx, set.TeamID, vault.OAuthTokens{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.ExpiresAt,
		Scope:        set.Scope,
	})
	if err != nil {
		b.Logger.Error("Failed to store OAuth tokens", "team_id", set.TeamID, "error", err)
		return err
	}
	return nil
}

func requireClient(cred *vault.Credential) error {
	switch {
	case cred.IsUnusable(vault.FieldOAuthClientSecret):
		return fmt.Errorf("stored OAuth client secret: %w", apperrors.ErrDecryption)
	case cred.OAuthClientID == "":
		return apperrors.NewValidationError(vault.FieldOAuthClientID, "OAuth client ID is not configured")
	case cred.OAuthClientSecret == "":
		return apperrors.NewValidationError(vault.FieldOAuthClientSecret, "OAuth client secret is not configured")
	case cred.OAuthRedirectURI == "":
		return apperrors.NewValidationError(vault.FieldOAuthRedirectURI, "OAuth redirect URI is not configured")
	}
	return nil
}

// tokenSetOf converts a platform token. fallbackScope is used when the
// response does not echo the granted scope.
func tokenSetOf(teamID int64, tok *oauth2.Token, fallbackScope string) *TokenSet {
	scope, _ := tok.Extra("scope").(string)
	if scope == "" {
		scope = fallbackScope
	}
	return &TokenSet{
		TeamID:       teamID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
		Scope:        util.SafeTruncate(scope, 1024),
	}
}

func tokenSetFromCredential(cred *vault.Credential) *TokenSet {
	return &TokenSet{
		TeamID:       cred.TeamID,
		AccessToken:  cred.OAuthAccessToken,
		RefreshToken: cred.OAuthRefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    cred.OAuthExpiresAt,
		Scope:        cred.OAuthScope,
	}
}

// normalizeScopes trims, splits space-separated entries and drops duplicates.
func normalizeScopes(scopes []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range scopes {
		for _, part := range strings.Fields(s) {
			if !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}
