package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/team-broker/apperrors"
)

func strPtr(s string) *string { return &s }

func TestCredentialPatch_Apply(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)

	c := &TeamCredential{
		TeamID:        1,
		GroupAPIKey:   "sealed-group",
		SessionCookie: "sealed-cookie",
		OAuthScope:    "openid",
	}

	CredentialPatch{
		SessionCookie:  strPtr(""),
		OAuthScope:     strPtr("openid profile"),
		OAuthExpiresAt: &expiry,
		UpdatedBy:      9,
	}.Apply(c, now)

	if c.GroupAPIKey != "sealed-group" {
		t.Error("nil patch field must leave the value untouched")
	}
	if c.SessionCookie != "" {
		t.Error("empty patch value must clear the field")
	}
	if c.OAuthScope != "openid profile" {
		t.Errorf("OAuthScope = %q", c.OAuthScope)
	}
	if !c.OAuthExpiresAt.Equal(expiry) {
		t.Errorf("OAuthExpiresAt = %v, want %v", c.OAuthExpiresAt, expiry)
	}
	if !c.UpdatedAt.Equal(now) || c.UpdatedBy != 9 {
		t.Errorf("UpdatedAt/UpdatedBy = %v/%d", c.UpdatedAt, c.UpdatedBy)
	}
}

func TestCredentialPatch_ApplyKeepsUpdatedBy(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := &TeamCredential{TeamID: 1, UpdatedBy: 7}

	// Token writes carry no acting user.
	CredentialPatch{OAuthAccessToken: strPtr("sealed-access")}.Apply(c, now)

	if c.UpdatedBy != 7 {
		t.Errorf("UpdatedBy = %d, want 7", c.UpdatedBy)
	}
	if c.OAuthAccessToken != "sealed-access" || !c.UpdatedAt.Equal(now) {
		t.Errorf("patch not applied: %+v", c)
	}
}

func TestPendingAuthorization_Expired(t *testing.T) {
	now := time.Now()
	p := &PendingAuthorization{ExpiresAt: now.Add(time.Minute)}
	if p.Expired(now) {
		t.Error("authorization should not be expired before ExpiresAt")
	}
	if !p.Expired(now.Add(time.Minute)) {
		t.Error("authorization should be expired at ExpiresAt")
	}
}

func TestErrorsMatchTaxonomy(t *testing.T) {
	for _, err := range []error{ErrUserNotFound, ErrTeamNotFound, ErrMembershipNotFound, ErrCredentialNotFound, ErrPendingAuthorizationNotFound} {
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("%v should match ErrNotFound", err)
		}
	}
	for _, err := range []error{ErrEmailTaken, ErrHandleTaken, ErrTeamNameTaken, ErrAlreadyMember} {
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("%v should match ErrConflict", err)
		}
	}
}
