package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth core.
// The surrounding application supplies an implementation; PGStore in this
// package is the PostgreSQL one.
type Store interface {
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Branches(ctx context.Context) BranchStore
}

// UserStore exposes identity lookup and the login bookkeeping writes.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// RecordLoginSuccess resets the failed-attempt counter, clears any
	// lockout and stamps the last login time.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// RecordLoginFailure persists the counter computed by the caller and,
	// when the threshold was crossed, the lock-until timestamp.
	// Last-write-wins is acceptable; the counter is a heuristic.
	RecordLoginFailure(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
}

// RefreshTokenStore manages persisted refresh token records.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error

	// Find matches on both the owning user id and the opaque token string.
	Find(ctx context.Context, userID, token string) (*RefreshToken, error)

	// RevokeAllForUser flags every live record owned by the user and
	// returns how many were flagged. Must not leave a window in which a
	// concurrent Find observes a stale non-revoked record once it returns.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// BranchStore resolves explicit branch assignments for branch-scoped
// authorization checks.
type BranchStore interface {
	AssignedBranchIDs(ctx context.Context, userID string) ([]string, error)
}
