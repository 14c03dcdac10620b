package auth

import "errors"

var (
	// ErrNotFound is returned by stores when no matching record exists.
	ErrNotFound = errors.New("auth: not found")

	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords so callers cannot enumerate usernames.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrAccountInactive = errors.New("auth: account inactive")
	ErrAccountLocked   = errors.New("auth: account locked")
	ErrRateLimited     = errors.New("auth: too many attempts")

	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrWrongTokenKind = errors.New("auth: wrong token kind")
	ErrTokenRevoked   = errors.New("auth: refresh token revoked")

	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
)
