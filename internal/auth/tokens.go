package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates access tokens from refresh tokens. A verifier
// always states which kind it expects; presenting the other kind fails.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the signed token payload: registered claims plus the identity
// attributes embedded so downstream authorization can skip a store lookup.
type Claims struct {
	Kind     TokenKind `json:"type"`
	Role     Role      `json:"role,omitempty"`
	Name     string    `json:"name,omitempty"`
	BranchID string    `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}

// ClaimMeta carries the caller-supplied claims merged into the envelope.
type ClaimMeta struct {
	Role     Role
	Name     string
	BranchID string
}

// TokenIssuer signs and verifies the two token kinds with a single shared
// key and algorithm; only the kind tag and the default TTL differ.
type TokenIssuer struct {
	key        []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures TokenIssuer behavior.
type IssuerOption func(*TokenIssuer) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) IssuerOption {
	return func(ti *TokenIssuer) error {
		ti.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL overrides the default access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(ti *TokenIssuer) error {
		if ttl > 0 {
			ti.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL overrides the default refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(ti *TokenIssuer) error {
		if ttl > 0 {
			ti.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(ti *TokenIssuer) error {
		if fn != nil {
			ti.now = fn
		}
		return nil
	}
}

// NewTokenIssuer validates the signing configuration up front: a missing
// key or unsupported algorithm is a startup error, never a request-time one.
func NewTokenIssuer(key string, algorithm string, opts ...IssuerOption) (*TokenIssuer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("auth: signing key is not configured")
	}
	var method jwt.SigningMethod
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", algorithm)
	}
	ti := &TokenIssuer{
		key:        []byte(key),
		method:     method,
		issuer:     "lcreports",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(ti); err != nil {
			return nil, err
		}
	}
	return ti, nil
}

// AccessTTL returns the configured access token lifetime.
func (ti *TokenIssuer) AccessTTL() time.Duration { return ti.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (ti *TokenIssuer) RefreshTTL() time.Duration { return ti.refreshTTL }

// IssueAccess signs an access token for the subject. A non-positive ttl
// falls back to the configured default. Returns the token and its
// absolute expiry.
func (ti *TokenIssuer) IssueAccess(subject string, meta ClaimMeta, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = ti.accessTTL
	}
	return ti.issue(subject, meta, TokenKindAccess, ttl)
}

// IssueRefresh signs a refresh token for the subject.
func (ti *TokenIssuer) IssueRefresh(subject string, meta ClaimMeta, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = ti.refreshTTL
	}
	return ti.issue(subject, meta, TokenKindRefresh, ttl)
}

func (ti *TokenIssuer) issue(subject string, meta ClaimMeta, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	now := ti.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Kind:     kind,
		Role:     meta.Role,
		Name:     meta.Name,
		BranchID: meta.BranchID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(ti.method, claims).SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry and kind, in that order of reporting:
// a correctly signed but stale token surfaces ErrTokenExpired, a token of
// the other kind surfaces ErrWrongTokenKind, anything else ErrInvalidToken.
func (ti *TokenIssuer) Verify(raw string, kind TokenKind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != ti.method.Alg() {
			return nil, ErrInvalidToken
		}
		return ti.key, nil
	}, jwt.WithTimeFunc(ti.now), jwt.WithIssuer(ti.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}
