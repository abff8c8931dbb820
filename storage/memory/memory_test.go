package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func createUser(t *testing.T, s *Store, handle string) (*storage.User, *storage.Team) {
	t.Helper()
	u := &storage.User{Email: handle + "@example.com", Handle: handle, PasswordHash: "x", Active: true}
	team := &storage.Team{Name: handle + "'s team"}
	if err := s.CreateUserWithTeam(context.Background(), u, team); err != nil {
		t.Fatalf("CreateUserWithTeam() error = %v", err)
	}
	return u, team
}

func TestStore_CreateUserWithTeam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, team := createUser(t, s, "alice")
	if u.ID == 0 || team.ID == 0 {
		t.Fatalf("IDs not assigned: user=%d team=%d", u.ID, team.ID)
	}
	if team.OwnerID != u.ID {
		t.Errorf("team.OwnerID = %d, want %d", team.OwnerID, u.ID)
	}

	m, err := s.GetMembership(ctx, team.ID, u.ID)
	if err != nil {
		t.Fatalf("GetMembership() error = %v", err)
	}
	if m.Role != storage.RoleOwner {
		t.Errorf("membership role = %q, want owner", m.Role)
	}

	if _, err := s.GetCredential(ctx, team.ID); err != nil {
		t.Errorf("GetCredential() error = %v, want empty record", err)
	}

	got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil || got.ID != u.ID {
		t.Errorf("GetUserByEmail() = %v, %v", got, err)
	}
}

func TestStore_CreateUserWithTeam_Conflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "alice")

	tests := []struct {
		name    string
		user    *storage.User
		team    *storage.Team
		wantErr error
	}{
		{
			name:    "duplicate email different case",
			user:    &storage.User{Email: "Alice@Example.com", Handle: "alice2"},
			team:    &storage.Team{Name: "t1"},
			wantErr: storage.ErrEmailTaken,
		},
		{
			name:    "duplicate handle",
			user:    &storage.User{Email: "other@example.com", Handle: "alice"},
			team:    &storage.Team{Name: "t2"},
			wantErr: storage.ErrHandleTaken,
		},
		{
			name:    "duplicate team name",
			user:    &storage.User{Email: "bob@example.com", Handle: "bob"},
			team:    &storage.Team{Name: "alice's team"},
			wantErr: storage.ErrTeamNameTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateUserWithTeam(ctx, tt.user, tt.team)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateUserWithTeam() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// A failed registration must leave nothing behind.
	if _, err := s.GetUserByHandle(ctx, "bob"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GetUserByHandle(bob) error = %v, want ErrUserNotFound", err)
	}
}

func TestStore_Memberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, team := createUser(t, s, "alice")
	bob, _ := createUser(t, s, "bob")

	if err := s.AddMembership(ctx, &storage.Membership{TeamID: team.ID, UserID: bob.ID, Role: storage.RoleViewer}); err != nil {
		t.Fatalf("AddMembership() error = %v", err)
	}
	if err := s.AddMembership(ctx, &storage.Membership{TeamID: team.ID, UserID: bob.ID, Role: storage.RoleAdmin}); !errors.Is(err, storage.ErrAlreadyMember) {
		t.Errorf("second AddMembership() error = %v, want ErrAlreadyMember", err)
	}

	if err := s.UpdateMembershipRole(ctx, team.ID, bob.ID, storage.RoleAdmin, alice.ID); err != nil {
		t.Fatalf("UpdateMembershipRole() error = %v", err)
	}
	m, _ := s.GetMembership(ctx, team.ID, bob.ID)
	if m.Role != storage.RoleAdmin || m.UpdatedBy != alice.ID {
		t.Errorf("membership = %+v, want admin updated by %d", m, alice.ID)
	}

	summaries, err := s.ListTeamsForUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListTeamsForUser() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("ListTeamsForUser() returned %d teams, want 2", len(summaries))
	}
	for _, sum := range summaries {
		if sum.Team.ID == team.ID && sum.MemberCount != 2 {
			t.Errorf("MemberCount = %d, want 2", sum.MemberCount)
		}
	}

	members, err := s.ListMembers(ctx, team.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 2 || members[0].UserID != alice.ID {
		t.Errorf("ListMembers() = %+v, want alice first", members)
	}

	if err := s.DeleteMembership(ctx, team.ID, bob.ID); err != nil {
		t.Fatalf("DeleteMembership() error = %v", err)
	}
	if _, err := s.GetMembership(ctx, team.ID, bob.ID); !errors.Is(err, storage.ErrMembershipNotFound) {
		t.Errorf("GetMembership() after delete error = %v", err)
	}
	if err := s.DeleteMembership(ctx, team.ID, bob.ID); !errors.Is(err, storage.ErrMembershipNotFound) {
		t.Errorf("second DeleteMembership() error = %v", err)
	}
}

func TestStore_CreateTeam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, _ := createUser(t, s, "alice")

	team := &storage.Team{Name: "Studio", OwnerID: alice.ID}
	if err := s.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam() error = %v", err)
	}
	if err := s.CreateTeam(ctx, &storage.Team{Name: "Studio", OwnerID: alice.ID}); !errors.Is(err, storage.ErrTeamNameTaken) {
		t.Errorf("duplicate CreateTeam() error = %v", err)
	}
	if err := s.CreateTeam(ctx, &storage.Team{Name: "Ghost", OwnerID: 999}); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("CreateTeam() with unknown owner error = %v", err)
	}
}

func TestStore_PatchCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, team := createUser(t, s, "alice")

	cookie := "sealed-cookie"
	c, err := s.PatchCredential(ctx, team.ID, storage.CredentialPatch{SessionCookie: &cookie, UpdatedBy: 1})
	if err != nil {
		t.Fatalf("PatchCredential() error = %v", err)
	}
	if c.SessionCookie != cookie {
		t.Errorf("SessionCookie = %q", c.SessionCookie)
	}

	ids, _ := s.ListTeamsWithSessionCookie(ctx)
	if len(ids) != 1 || ids[0] != team.ID {
		t.Errorf("ListTeamsWithSessionCookie() = %v, want [%d]", ids, team.ID)
	}

	if _, err := s.PatchCredential(ctx, 999, storage.CredentialPatch{}); !errors.Is(err, storage.ErrTeamNotFound) {
		t.Errorf("PatchCredential() for unknown team error = %v", err)
	}
}

// Concurrent patches to different fields must not overwrite each other.
func TestStore_PatchCredential_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, team := createUser(t, s, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v := "token"
			_, _ = s.PatchCredential(ctx, team.ID, storage.CredentialPatch{OAuthAccessToken: &v})
		}()
		go func() {
			defer wg.Done()
			v := "key"
			_, _ = s.PatchCredential(ctx, team.ID, storage.CredentialPatch{GroupAPIKey: &v})
		}()
	}
	wg.Wait()

	c, _ := s.GetCredential(ctx, team.ID)
	if c.OAuthAccessToken != "token" || c.GroupAPIKey != "key" {
		t.Errorf("lost update: %+v", c)
	}
}

func TestStore_PendingAuthorization_OneTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	p := &storage.PendingAuthorization{
		State:        "state-1",
		CodeVerifier: "verifier",
		TeamID:       1,
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
	if err := s.SavePendingAuthorization(ctx, p); err != nil {
		t.Fatalf("SavePendingAuthorization() error = %v", err)
	}
	if err := s.SavePendingAuthorization(ctx, p); err == nil {
		t.Error("saving the same state twice should fail")
	}

	got, err := s.ConsumePendingAuthorization(ctx, "state-1")
	if err != nil {
		t.Fatalf("ConsumePendingAuthorization() error = %v", err)
	}
	if got.CodeVerifier != "verifier" {
		t.Errorf("CodeVerifier = %q", got.CodeVerifier)
	}

	if _, err := s.ConsumePendingAuthorization(ctx, "state-1"); !errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
		t.Errorf("second consume error = %v, want ErrPendingAuthorizationNotFound", err)
	}
}

func TestStore_PendingAuthorization_ConcurrentConsume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.SavePendingAuthorization(ctx, &storage.PendingAuthorization{
		State: "race", CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumePendingAuthorization(ctx, "race"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("state consumed %d times, want exactly 1", wins)
	}
}

func TestStore_PendingAuthorization_Expiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		_ = s.SavePendingAuthorization(ctx, &storage.PendingAuthorization{
			State:     fmt.Sprintf("old-%d", i),
			CreatedAt: now.Add(-11 * time.Minute),
			ExpiresAt: now.Add(-time.Minute),
		})
	}
	_ = s.SavePendingAuthorization(ctx, &storage.PendingAuthorization{
		State: "fresh", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	})

	if _, err := s.ConsumePendingAuthorization(ctx, "old-0"); !errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
		t.Errorf("consuming an expired state error = %v", err)
	}

	n, err := s.DeleteExpiredPendingAuthorizations(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredPendingAuthorizations() error = %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if s.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", s.PendingCount())
	}
}

func TestStore_WithInstrumentation(t *testing.T) {
	s := newTestStore(t)
	s.SetInstrumentation(instrumentation.NewNoop())

	u, team := createUser(t, s, "carol")
	v := "x"
	if _, err := s.PatchCredential(context.Background(), team.ID, storage.CredentialPatch{UserAPIKey: &v, UpdatedBy: u.ID}); err != nil {
		t.Fatalf("PatchCredential() error = %v", err)
	}
}

func TestStore_SetInstrumentationWhileInUse(t *testing.T) {
	s := newTestStore(t)
	u, team := createUser(t, s, "dave")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 50 {
			s.SetInstrumentation(instrumentation.NewNoop())
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 50 {
			v := fmt.Sprintf("key-%d", i)
			if _, err := s.PatchCredential(context.Background(), team.ID, storage.CredentialPatch{UserAPIKey: &v, UpdatedBy: u.ID}); err != nil {
				t.Errorf("PatchCredential() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()
}
