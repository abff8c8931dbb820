// Package identity manages dashboard accounts: registration with a personal
// team, password login, and the bearer tokens the HTTP API accepts.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
)

const (
	// DefaultTokenTTL is the lifetime of a dashboard bearer token.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// DefaultTokenIssuer is the iss claim of issued tokens.
	DefaultTokenIssuer = "team-broker"

	// DefaultMinPasswordLength is the minimum password length in characters.
	DefaultMinPasswordLength = 8

	// MinTokenSecretLength is the minimum HS256 secret size in bytes.
	MinTokenSecretLength = 32

	// personalTeamAttempts bounds the " 2", " 3" suffixes tried when the
	// personal team name is taken.
	personalTeamAttempts = 3
)

// Config holds identity service configuration.
type Config struct {
	Store storage.UserStore

	// TokenSecret signs bearer tokens (HS256, at least 32 bytes)
	TokenSecret []byte

	TokenIssuer       string
	TokenTTL          time.Duration
	MinPasswordLength int

	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger

	// Clock overrides time.Now (tests)
	Clock func() time.Time
}

// Service implements account registration and authentication.
type Service struct {
	store      storage.UserStore
	tokens     *tokenIssuer
	minPwLen   int
	bcryptCost int
	dummyHash  []byte
	auditor    *security.Auditor
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Session is the result of a successful login or registration.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// New creates an identity service
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("identity: store is required")
	}
	if len(cfg.TokenSecret) < MinTokenSecretLength {
		return nil, fmt.Errorf("identity: token secret must be at least %d bytes", MinTokenSecretLength)
	}

	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = DefaultTokenIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
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

	// Unknown accounts are compared against this hash so a failed lookup
	// costs as much as a wrong password.
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("identity: failed to seed dummy hash: %w", err)
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(random)), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid bcrypt cost: %w", err)
	}

	tokens := &tokenIssuer{
		secret: cfg.TokenSecret,
		issuer: cfg.TokenIssuer,
		ttl:    cfg.TokenTTL,
		now:    cfg.Clock,
	}

	return &Service{
		store:      cfg.Store,
		tokens:     tokens,
		minPwLen:   cfg.MinPasswordLength,
		bcryptCost: cfg.BcryptCost,
		dummyHash:  dummyHash,
		auditor:    cfg.Auditor,
		metrics:    cfg.Instrumentation.Metrics(),
		logger:     cfg.Logger,
		now:        cfg.Clock,
	}, nil
}

// PersonalTeamName returns the name of the team created at registration.
func PersonalTeamName(handle string) string {
	return handle + "'s team"
}

// Register validates the input, creates the account together with its
// personal team and returns both.
func (s *Service) Register(ctx context.Context, email, handle, password string) (*storage.User, *storage.Team, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, nil, err
	}
	handle = strings.TrimSpace(handle)
	if err := validateHandle(handle); err != nil {
		return nil, nil, err
	}
	if err := validatePassword(password, s.minPwLen); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &storage.User{
		Email:        email,
		Handle:       handle,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}

	var team *storage.Team
	for attempt := 1; attempt <= personalTeamAttempts; attempt++ {
		name := PersonalTeamName(handle)
		if attempt > 1 {
			name = fmt.Sprintf("%s %d", name, attempt)
		}
		team = &storage.Team{Name: name, CreatedAt: user.CreatedAt}

		err = s.store.CreateUserWithTeam(ctx, user, team)
		if !errors.Is(err, storage.ErrTeamNameTaken) {
			break
		}
	}
	if err != nil {
		return nil, nil, err
	}

	s.metrics.RecordRegistration(ctx)
	s.auditor.LogEvent(security.Event{
		Type:   security.EventUserRegistered,
		UserID: fmt.Sprint(user.ID),
		TeamID: fmt.Sprint(team.ID),
	})
	s.logger.Info("Registered user", "user_id", user.ID, "team_id", team.ID)

	return user, team, nil
}

// IssueToken returns a bearer token for an already authenticated user.
func (s *Service) IssueToken(user *storage.User) (*Session, error) {
	token, expiresAt, err := s.tokens.issue(user.ID, user.Handle)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate checks identifier (email or handle) and password. Every
// failure returns apperrors.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (user *storage.User, session *Session, err error) {
	defer func() { s.metrics.RecordLogin(ctx, err) }()

	identifier = strings.TrimSpace(identifier)

	if strings.Contains(identifier, "@") {
		user, err = s.store.GetUserByEmail(ctx, identifier)
	} else {
		user, err = s.store.GetUserByHandle(ctx, identifier)
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to look up user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.auditor.LogAuthFailure(identifier, "", "unknown_user")
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.auditor.LogAuthFailure(identifier, "", "password_mismatch")
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if !user.Active {
		s.auditor.LogAuthFailure(identifier, "", "inactive_account")
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now

	session, err = s.IssueToken(user)
	if err != nil {
		return nil, nil, err
	}

	s.auditor.LogEvent(security.Event{Type: security.EventLoginSucceeded, UserID: fmt.Sprint(user.ID)})
	return user, session, nil
}

// Verify checks a bearer token's signature, algorithm, issuer and expiry.
func (s *Service) Verify(token string) (*Claims, error) {
	return s.tokens.verify(token)
}

// GetUser returns the account with the given ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	return s.store.GetUser(ctx, id)
}

// Deactivate disables an account. Existing tokens stop working because the
// HTTP layer rejects inactive users.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if err := s.store.SetUserActive(ctx, id, false); err != nil {
		return err
	}
	s.auditor.LogEvent(security.Event{Type: security.EventUserDeactivated, UserID: fmt.Sprint(id)})
	s.logger.Info("Deactivated user", "user_id", id)
	return nil
}
