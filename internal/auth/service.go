package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxFailedLogins = 5
	defaultLockoutDuration = 30 * time.Minute

	// TokenTypeBearer is the token_type reported in every session payload.
	TokenTypeBearer = "bearer"
)

// Service composes the attempt limiter, credential verification, token
// issuance and the refresh token store into the login, refresh and logout
// flows. One instance serves all requests; it holds no per-request state.
type Service struct {
	store   Store
	tokens  *TokenIssuer
	limiter *AttemptLimiter
	log     *zap.Logger
	now     func() time.Time

	maxFailedLogins int
	lockoutDuration time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAttemptLimiter installs a login attempt limiter. Without one, login
// is not throttled.
func WithAttemptLimiter(l *AttemptLimiter) ServiceOption {
	return func(s *Service) error {
		s.limiter = l
		return nil
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLockoutPolicy sets the failed-attempt threshold and how long an
// account stays locked once it is crossed. A zero threshold disables
// lockout entirely.
func WithLockoutPolicy(maxFailedLogins int, lockoutDuration time.Duration) ServiceOption {
	return func(s *Service) error {
		if maxFailedLogins < 0 {
			return errors.New("auth: lockout threshold must not be negative")
		}
		s.maxFailedLogins = maxFailedLogins
		if lockoutDuration > 0 {
			s.lockoutDuration = lockoutDuration
		}
		return nil
	}
}

// NewService constructs the orchestrator.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{
		store:           store,
		tokens:          tokens,
		log:             zap.NewNop(),
		now:             time.Now,
		maxFailedLogins: defaultMaxFailedLogins,
		lockoutDuration: defaultLockoutDuration,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Login authenticates an identifier+secret pair and returns a full token
// pair. clientKey is the rate-limit key (typically the client address);
// an empty key skips throttling.
//
// Unknown identifiers and wrong passwords both surface as
// ErrInvalidCredentials; only lockout and inactive accounts are
// distinguishable from the outside.
func (s *Service) Login(ctx context.Context, identifier, secret, clientKey string) (Session, Principal, error) {
	if s.limiter != nil && clientKey != "" && !s.limiter.Allow(clientKey) {
		return Session{}, Principal{}, ErrRateLimited
	}

	user, err := s.lookupUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, Principal{}, ErrInvalidCredentials
		}
		return Session{}, Principal{}, err
	}

	now := s.now().UTC()
	if user.Locked(now) {
		return Session{}, Principal{}, ErrAccountLocked
	}

	if err := VerifyPassword(user.PasswordHash, secret); err != nil {
		s.recordFailure(ctx, user, now)
		return Session{}, Principal{}, ErrInvalidCredentials
	}

	if !user.Active {
		return Session{}, Principal{}, ErrAccountInactive
	}

	if err := s.store.Users(ctx).RecordLoginSuccess(ctx, user.ID, now); err != nil {
		// The counter reset and last-login stamp are bookkeeping; a failed
		// write must not turn a correct login into a failure.
		s.log.Warn("record login success failed",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		return Session{}, Principal{}, err
	}

	meta := claimMetaFor(user)
	access, accessExp, err := s.tokens.IssueAccess(user.ID, meta, 0)
	if err != nil {
		return Session{}, Principal{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(user.ID, meta, 0)
	if err != nil {
		return Session{}, Principal{}, fmt.Errorf("issue refresh token: %w", err)
	}

	record := &RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: refreshExp,
		CreatedAt: now,
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, record); err != nil {
		// Best-effort write: the access token just issued stays usable,
		// only refresh capability is degraded until the next login.
		s.log.Warn("refresh token persist failed, refresh disabled for this session",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	s.log.Info("login succeeded", zap.String("user_id", user.ID))
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresAt:    accessExp,
	}, principal, nil
}

// Refresh exchanges a valid, non-revoked refresh token for a new access
// token. The identity is re-fetched so the new claims reflect the current
// role and branch, and the refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, Principal, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return Session{}, Principal{}, err
	}

	record, err := s.store.RefreshTokens(ctx).Find(ctx, claims.Subject, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, Principal{}, ErrInvalidToken
		}
		// Cannot confirm non-revocation: fail closed.
		return Session{}, Principal{}, fmt.Errorf("validate refresh token: %w", err)
	}
	now := s.now().UTC()
	if record.Revoked {
		return Session{}, Principal{}, ErrTokenRevoked
	}
	if now.After(record.ExpiresAt) {
		return Session{}, Principal{}, ErrTokenExpired
	}

	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, Principal{}, ErrInvalidToken
		}
		return Session{}, Principal{}, fmt.Errorf("fetch user: %w", err)
	}
	if !user.Active {
		return Session{}, Principal{}, ErrAccountInactive
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		return Session{}, Principal{}, err
	}

	access, accessExp, err := s.tokens.IssueAccess(user.ID, claimMetaFor(user), 0)
	if err != nil {
		return Session{}, Principal{}, fmt.Errorf("issue access token: %w", err)
	}

	s.log.Info("access token refreshed", zap.String("user_id", user.ID))
	return Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    TokenTypeBearer,
		ExpiresAt:    accessExp,
	}, principal, nil
}

// Logout revokes every live refresh record owned by the identity and
// returns how many were revoked. Outstanding access tokens stay valid
// until their natural expiry, but no further refresh is possible.
func (s *Service) Logout(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrUnauthorized
	}
	count, err := s.store.RefreshTokens(ctx).RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.log.Info("logout", zap.String("user_id", userID), zap.Int64("revoked", count))
	return count, nil
}

// Authenticate validates a presented access token and resolves the
// current principal behind it.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, fmt.Errorf("fetch user: %w", err)
	}
	if !user.Active {
		return Principal{}, ErrAccountInactive
	}
	return s.principal(ctx, user)
}

// lookupUser resolves an identifier that may be either a username or an
// email address; both are tried.
func (s *Service) lookupUser(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}
	users := s.store.Users(ctx)
	user, err := users.FindByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	user, err = users.FindByEmail(ctx, strings.ToLower(identifier))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *Service) recordFailure(ctx context.Context, user *User, now time.Time) {
	attempts := user.FailedLoginAttempts + 1
	var lockedUntil *time.Time
	if s.maxFailedLogins > 0 && attempts >= s.maxFailedLogins {
		until := now.Add(s.lockoutDuration)
		lockedUntil = &until
		s.log.Warn("account locked after repeated failures",
			zap.String("user_id", user.ID),
			zap.Int("attempts", attempts),
			zap.Time("locked_until", until))
	}
	if err := s.store.Users(ctx).RecordLoginFailure(ctx, user.ID, attempts, lockedUntil); err != nil {
		// Last-write-wins heuristic, not a precise counter.
		s.log.Warn("record login failure failed",
			zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *Service) principal(ctx context.Context, user *User) (Principal, error) {
	branchIDs, err := s.store.Branches(ctx).AssignedBranchIDs(ctx, user.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("load branch assignments: %w", err)
	}
	return NewPrincipal(user, branchIDs), nil
}

func claimMetaFor(user *User) ClaimMeta {
	return ClaimMeta{Role: user.Role, Name: user.Name, BranchID: user.BranchID}
}
