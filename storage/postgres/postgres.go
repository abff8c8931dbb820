// Package postgres implements storage.Store on PostgreSQL through
// database/sql and the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/giantswarm/team-broker/storage"
)

const (
	defaultMaxOpenConns     = 20
	defaultConnMaxLifetime  = 30 * time.Minute
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the PostgreSQL backend.
type Config struct {
	// DSN is a lib/pq connection string, e.g.
	// "postgres://broker:secret@db:5432/broker?sslmode=require".
	DSN string

	// MaxOpenConns limits the pool size (default 20).
	MaxOpenConns int

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return New(db, cfg.Logger), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	s.logger.Info("Database schema is up to date", "steps", len(schemaStatements))
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return translateError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// ============================================================
// UserStore
// ============================================================

// CreateUserWithTeam inserts the user, the team, the owner membership and an
// empty credential row in one transaction.
func (s *Store) CreateUserWithTeam(ctx context.Context, user *storage.User, team *storage.Team) error {
	now := s.now()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO users (email, handle, password_hash, is_active, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
			user.Email, user.Handle, user.PasswordHash, user.Active, now,
		).Scan(&user.ID, &user.CreatedAt)
		if err != nil {
			return translateError(err)
		}

		team.OwnerID = user.ID
		return insertTeam(ctx, tx, team, now)
	})
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email, ignoring case
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return s.getUser(ctx, `WHERE lower(email) = lower($1)`, email)
}

// GetUserByHandle retrieves a user by handle
func (s *Store) GetUserByHandle(ctx context.Context, handle string) (*storage.User, error) {
	return s.getUser(ctx, `WHERE handle = $1`, handle)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*storage.User, error) {
	var row userRow
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg).Scan(row.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateLastLogin records a successful login
func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, storage.ErrUserNotFound, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at.UTC())
}

// SetUserActive activates or deactivates an account
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, storage.ErrUserNotFound, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
}

// execOne runs a statement that must affect exactly one row.
func (s *Store) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// ============================================================
// TeamStore
// ============================================================

// CreateTeam creates a team with its owner membership
func (s *Store) CreateTeam(ctx context.Context, team *storage.Team) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTeam(ctx, tx, team, now)
	})
}

func insertTeam(ctx context.Context, tx *sql.Tx, team *storage.Team, now time.Time) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO teams (name, description, owner_id, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		team.Name, team.Description, team.OwnerID, now,
	).Scan(&team.ID, &team.CreatedAt)
	if err != nil {
		return translateError(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role, created_at, updated_at)
		 VALUES ($1, $2, 'owner', $3, $3)`,
		team.ID, team.OwnerID, now,
	); err != nil {
		return translateError(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO team_credentials (team_id, updated_at) VALUES ($1, $2)`,
		team.ID, now,
	); err != nil {
		return translateError(err)
	}
	return nil
}

// GetTeam retrieves a team by ID
func (s *Store) GetTeam(ctx context.Context, id int64) (*storage.Team, error) {
	var row teamRow
	err := s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id).Scan(row.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return row.toDomain(), nil
}

// ListTeamsForUser lists the user's teams with role and member count
func (s *Store) ListTeamsForUser(ctx context.Context, userID int64) ([]storage.TeamSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.name, t.description, t.owner_id, t.created_at, tm.role,
		        (SELECT count(*) FROM team_members c WHERE c.team_id = t.id)
		   FROM teams t
		   JOIN team_members tm ON tm.team_id = t.id
		  WHERE tm.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.TeamSummary
	for rows.Next() {
		var (
			row   teamRow
			role  string
			count int
		)
		if err := rows.Scan(append(row.scanTargets(), &role, &count)...); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, storage.TeamSummary{Team: *row.toDomain(), Role: storage.Role(role), MemberCount: count})
	}
	return out, rows.Err()
}

// GetMembership retrieves a (team, user) membership
func (s *Store) GetMembership(ctx context.Context, teamID, userID int64) (*storage.Membership, error) {
	var row membershipRow
	err := s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID,
	).Scan(row.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return row.toDomain(), nil
}

// AddMembership adds a user to a team
func (s *Store) AddMembership(ctx context.Context, m *storage.Membership) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role, created_at, updated_at, updated_by)
		 VALUES ($1, $2, $3, $4, $4, NULLIF($5, 0))`,
		m.TeamID, m.UserID, string(m.Role), now, m.UpdatedBy,
	)
	if err != nil {
		return translateError(err)
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

// UpdateMembershipRole changes a membership's role
func (s *Store) UpdateMembershipRole(ctx context.Context, teamID, userID int64, role storage.Role, updatedBy int64) error {
	return s.execOne(ctx, storage.ErrMembershipNotFound,
		`UPDATE team_members SET role = $3, updated_at = $4, updated_by = NULLIF($5, 0)
		  WHERE team_id = $1 AND user_id = $2`,
		teamID, userID, string(role), s.now(), updatedBy)
}

// DeleteMembership removes a user from a team
func (s *Store) DeleteMembership(ctx context.Context, teamID, userID int64) error {
	return s.execOne(ctx, storage.ErrMembershipNotFound,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
}

// ListMembers lists a team's members ordered by join time
func (s *Store) ListMembers(ctx context.Context, teamID int64) ([]storage.Member, error) {
	if _, err := s.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.handle, tm.role, tm.created_at
		   FROM team_members tm
		   JOIN users u ON u.id = tm.user_id
		  WHERE tm.team_id = $1
		  ORDER BY tm.created_at, u.id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Member
	for rows.Next() {
		var (
			m    storage.Member
			role string
		)
		if err := rows.Scan(&m.UserID, &m.Email, &m.Handle, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = storage.Role(role)
		m.JoinedAt = m.JoinedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// ============================================================
// CredentialStore
// ============================================================

// GetCredential retrieves a team's sealed credential record
func (s *Store) GetCredential(ctx context.Context, teamID int64) (*storage.TeamCredential, error) {
	var row credentialRow
	err := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM team_credentials WHERE team_id = $1`, teamID,
	).Scan(row.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return row.toDomain(), nil
}

// EnsureCredential returns the team's record, creating an empty one if needed
func (s *Store) EnsureCredential(ctx context.Context, teamID int64) (*storage.TeamCredential, error) {
	return s.PatchCredential(ctx, teamID, storage.CredentialPatch{})
}

// PatchCredential upserts the patched columns in a single statement, so
// concurrent patches touching different fields never lose each other's writes.
func (s *Store) PatchCredential(ctx context.Context, teamID int64, patch storage.CredentialPatch) (*storage.TeamCredential, error) {
	columns, values := patchAssignments(patch)

	insertCols := append([]string{"team_id", "updated_at", "updated_by"}, columns...)
	args := append([]any{teamID, s.now(), sql.NullInt64{Int64: patch.UpdatedBy, Valid: patch.UpdatedBy != 0}}, values...)

	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	query := `INSERT INTO team_credentials (` + strings.Join(insertCols, ", ") + `)
		VALUES (` + strings.Join(placeholders, ", ") + `)
		ON CONFLICT (team_id) DO UPDATE SET ` + strings.Join(upsertAssignments(insertCols[1:], len(columns) == 0), ", ") + `
		RETURNING ` + credentialColumns

	var row credentialRow
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(row.scanTargets()...); err != nil {
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

// upsertAssignments builds the ON CONFLICT assignments for cols. A patch
// without an acting user keeps the stored updated_by.
func upsertAssignments(cols []string, noop bool) []string {
	if noop {
		// Nothing to change; the no-op update still lets RETURNING see the row.
		return []string{"team_id = EXCLUDED.team_id"}
	}
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == "updated_by" {
			updates = append(updates, "updated_by = COALESCE(EXCLUDED.updated_by, team_credentials.updated_by)")
			continue
		}
		updates = append(updates, col+" = EXCLUDED."+col)
	}
	return updates
}

// ListTeamsWithSessionCookie returns teams that have a stored cookie, ascending by ID
func (s *Store) ListTeamsWithSessionCookie(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id FROM team_credentials WHERE session_cookie <> '' ORDER BY team_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list session cookie teams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan team id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
