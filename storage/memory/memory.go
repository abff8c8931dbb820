// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/storage"
)

type membershipKey struct {
	teamID int64
	userID int64
}

// Store is an in-memory implementation of storage.Store and storage.FlowStore.
type Store struct {
	mu sync.RWMutex

	users         map[int64]*storage.User
	usersByEmail  map[string]int64 // lower-cased email
	usersByHandle map[string]int64

	teams       map[int64]*storage.Team
	teamsByName map[string]int64
	memberships map[membershipKey]*storage.Membership

	credentials map[int64]*storage.TeamCredential

	pending      map[string]*storage.PendingAuthorization
	pendingCount atomic.Int64

	nextUserID int64
	nextTeamID int64

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	now             func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.Store     = (*Store)(nil)
	_ storage.FlowStore = (*Store)(nil)
)

// New creates a new in-memory store that sweeps expired pending
// authorizations every minute.
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		users:           make(map[int64]*storage.User),
		usersByEmail:    make(map[string]int64),
		usersByHandle:   make(map[string]int64),
		teams:           make(map[int64]*storage.Team),
		teamsByName:     make(map[string]int64),
		memberships:     make(map[membershipKey]*storage.Membership),
		credentials:     make(map[int64]*storage.TeamCredential),
		pending:         make(map[string]*storage.PendingAuthorization),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage spans and operation metrics. The
// pending authorization gauge is registered by whoever owns the flow store,
// through PendingCount.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	s.tracer = inst.Tracer("storage")
}

// observability returns the instrumentation collaborators. Callers must not
// hold s.mu.
func (s *Store) observability() (*instrumentation.Instrumentation, trace.Tracer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instrumentation, s.tracer
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Stop stops the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			now := s.now()
			s.mu.RUnlock()
			if n, _ := s.DeleteExpiredPendingAuthorizations(context.Background(), now); n > 0 {
				s.logger.Debug("Removed expired pending authorizations", "count", n)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// ============================================================
// UserStore
// ============================================================

// CreateUserWithTeam creates the user, their personal team, the owner
// membership and an empty credential record in one step.
func (s *Store) CreateUserWithTeam(ctx context.Context, user *storage.User, team *storage.Team) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_user_with_team")
	defer s.recordStorageOperation(ctx, span, "create_user_with_team", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := s.usersByEmail[email]; ok {
		return storage.ErrEmailTaken
	}
	if _, ok := s.usersByHandle[user.Handle]; ok {
		return storage.ErrHandleTaken
	}
	if _, ok := s.teamsByName[team.Name]; ok {
		return storage.ErrTeamNameTaken
	}

	now := s.now()

	s.nextUserID++
	user.ID = s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	u := *user
	s.users[u.ID] = &u
	s.usersByEmail[email] = u.ID
	s.usersByHandle[u.Handle] = u.ID

	team.OwnerID = u.ID
	s.insertTeamLocked(team, now)

	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return copyUser(u), nil
}

// GetUserByEmail retrieves a user by email, ignoring case
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return copyUser(s.users[id]), nil
}

// GetUserByHandle retrieves a user by handle
func (s *Store) GetUserByHandle(ctx context.Context, handle string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByHandle[handle]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return copyUser(s.users[id]), nil
}

// UpdateLastLogin records a successful login
func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	return nil
}

// SetUserActive activates or deactivates an account
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.Active = active
	return nil
}

func copyUser(u *storage.User) *storage.User {
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// ============================================================
// TeamStore
// ============================================================

// CreateTeam creates a team owned by team.OwnerID
func (s *Store) CreateTeam(ctx context.Context, team *storage.Team) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_team")
	defer s.recordStorageOperation(ctx, span, "create_team", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[team.OwnerID]; !ok {
		return storage.ErrUserNotFound
	}
	if _, ok := s.teamsByName[team.Name]; ok {
		return storage.ErrTeamNameTaken
	}

	s.insertTeamLocked(team, s.now())
	return nil
}

// insertTeamLocked stores team with its owner membership and empty
// credential. Must be called with mu held.
func (s *Store) insertTeamLocked(team *storage.Team, now time.Time) {
	s.nextTeamID++
	team.ID = s.nextTeamID
	if team.CreatedAt.IsZero() {
		team.CreatedAt = now
	}
	t := *team
	s.teams[t.ID] = &t
	s.teamsByName[t.Name] = t.ID

	s.memberships[membershipKey{t.ID, t.OwnerID}] = &storage.Membership{
		TeamID:    t.ID,
		UserID:    t.OwnerID,
		Role:      storage.RoleOwner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.credentials[t.ID] = &storage.TeamCredential{TeamID: t.ID, UpdatedAt: now}
}

// GetTeam retrieves a team by ID
func (s *Store) GetTeam(ctx context.Context, id int64) (*storage.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, storage.ErrTeamNotFound
	}
	c := *t
	return &c, nil
}

// ListTeamsForUser lists the user's teams with role and member count
func (s *Store) ListTeamsForUser(ctx context.Context, userID int64) ([]storage.TeamSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int)
	for k := range s.memberships {
		counts[k.teamID]++
	}

	var out []storage.TeamSummary
	for k, m := range s.memberships {
		if k.userID != userID {
			continue
		}
		t, ok := s.teams[k.teamID]
		if !ok {
			continue
		}
		out = append(out, storage.TeamSummary{
			Team:        *t,
			Role:        m.Role,
			MemberCount: counts[k.teamID],
		})
	}
	return out, nil
}

// GetMembership retrieves a (team, user) membership
func (s *Store) GetMembership(ctx context.Context, teamID, userID int64) (*storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[membershipKey{teamID, userID}]
	if !ok {
		return nil, storage.ErrMembershipNotFound
	}
	c := *m
	return &c, nil
}

// AddMembership adds a user to a team
func (s *Store) AddMembership(ctx context.Context, m *storage.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[m.TeamID]; !ok {
		return storage.ErrTeamNotFound
	}
	if _, ok := s.users[m.UserID]; !ok {
		return storage.ErrUserNotFound
	}
	key := membershipKey{m.TeamID, m.UserID}
	if _, ok := s.memberships[key]; ok {
		return storage.ErrAlreadyMember
	}

	now := s.now()
	c := *m
	c.CreatedAt = now
	c.UpdatedAt = now
	s.memberships[key] = &c
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

// UpdateMembershipRole changes a membership's role
func (s *Store) UpdateMembershipRole(ctx context.Context, teamID, userID int64, role storage.Role, updatedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[membershipKey{teamID, userID}]
	if !ok {
		return storage.ErrMembershipNotFound
	}
	m.Role = role
	m.UpdatedAt = s.now()
	m.UpdatedBy = updatedBy
	return nil
}

// DeleteMembership removes a user from a team
func (s *Store) DeleteMembership(ctx context.Context, teamID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{teamID, userID}
	if _, ok := s.memberships[key]; !ok {
		return storage.ErrMembershipNotFound
	}
	delete(s.memberships, key)
	return nil
}

// ListMembers lists a team's members ordered by join time
func (s *Store) ListMembers(ctx context.Context, teamID int64) ([]storage.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.teams[teamID]; !ok {
		return nil, storage.ErrTeamNotFound
	}

	var out []storage.Member
	for k, m := range s.memberships {
		if k.teamID != teamID {
			continue
		}
		u := s.users[k.userID]
		out = append(out, storage.Member{
			UserID:   u.ID,
			Email:    u.Email,
			Handle:   u.Handle,
			Role:     m.Role,
			JoinedAt: m.CreatedAt,
		})
	}
	slices.SortFunc(out, func(a, b storage.Member) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return int(a.UserID - b.UserID)
	})
	return out, nil
}

// ============================================================
// CredentialStore
// ============================================================

// GetCredential retrieves a team's sealed credential record
func (s *Store) GetCredential(ctx context.Context, teamID int64) (*storage.TeamCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[teamID]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

// EnsureCredential returns the team's record, creating an empty one if needed
func (s *Store) EnsureCredential(ctx context.Context, teamID int64) (*storage.TeamCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ensureCredentialLocked(teamID)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ensureCredentialLocked(teamID int64) (*storage.TeamCredential, error) {
	if c, ok := s.credentials[teamID]; ok {
		return c, nil
	}
	if _, ok := s.teams[teamID]; !ok {
		return nil, storage.ErrTeamNotFound
	}
	c := &storage.TeamCredential{TeamID: teamID, UpdatedAt: s.now()}
	s.credentials[teamID] = c
	return c, nil
}

// PatchCredential applies a field-level patch under the store lock
func (s *Store) PatchCredential(ctx context.Context, teamID int64, patch storage.CredentialPatch) (_ *storage.TeamCredential, err error) {
	ctx, span := s.startStorageSpan(ctx, "patch_credential")
	defer s.recordStorageOperation(ctx, span, "patch_credential", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ensureCredentialLocked(teamID)
	if err != nil {
		return nil, err
	}
	patch.Apply(c, s.now())
	cp := *c
	return &cp, nil
}

// ListTeamsWithSessionCookie returns teams that have a stored cookie, ascending by ID
func (s *Store) ListTeamsWithSessionCookie(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, c := range s.credentials {
		if c.SessionCookie != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ============================================================
// FlowStore
// ============================================================

// SavePendingAuthorization stores a pending authorization keyed by state
func (s *Store) SavePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization) error {
	if p.State == "" {
		return fmt.Errorf("pending authorization requires a state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[p.State]; exists {
		return fmt.Errorf("pending authorization for this state already exists")
	}
	cp := *p
	cp.Scopes = slices.Clone(p.Scopes)
	s.pending[p.State] = &cp
	s.pendingCount.Store(int64(len(s.pending)))
	return nil
}

// ConsumePendingAuthorization removes and returns the authorization for state
func (s *Store) ConsumePendingAuthorization(ctx context.Context, state string) (_ *storage.PendingAuthorization, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_pending_authorization")
	defer s.recordStorageOperation(ctx, span, "consume_pending_authorization", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return nil, storage.ErrPendingAuthorizationNotFound
	}
	delete(s.pending, state)
	s.pendingCount.Store(int64(len(s.pending)))

	if p.Expired(s.now()) {
		return nil, storage.ErrPendingAuthorizationNotFound
	}
	return p, nil
}

// DeleteExpiredPendingAuthorizations sweeps expired authorizations
func (s *Store) DeleteExpiredPendingAuthorizations(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for state, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, state)
			removed++
		}
	}
	s.pendingCount.Store(int64(len(s.pending)))
	return removed, nil
}

// PendingCount returns the number of stored pending authorizations.
func (s *Store) PendingCount() int {
	return int(s.pendingCount.Load())
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	_, tracer := s.observability()
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation is deferred with a pointer to the named error result.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, errp *error, start time.Time) {
	inst, _ := s.observability()
	if inst == nil {
		return
	}

	result := "success"
	if *errp != nil {
		result = "error"
		instrumentation.RecordError(span, *errp)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()

	inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
}
