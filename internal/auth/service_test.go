package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*User
	tokens   map[string]*RefreshToken
	branches map[string][]string

	userWriteErr   error
	tokenCreateErr error
	tokenFindErr   error
	branchErr      error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*User),
		tokens:   make(map[string]*RefreshToken),
		branches: make(map[string][]string),
	}
}

func (s *memStore) Users(ctx context.Context) UserStore                 { return memUsers{s} }
func (s *memStore) RefreshTokens(ctx context.Context) RefreshTokenStore { return memTokens{s} }
func (s *memStore) Branches(ctx context.Context) BranchStore            { return memBranches{s} }

func (s *memStore) addUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memStore) user(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *s.users[id]
	return &u
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(ctx context.Context, u *User) error {
	r.s.addUser(u)
	return nil
}

func (r memUsers) Find(ctx context.Context, id string) (*User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r memUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r memUsers) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.userWriteErr != nil {
		return r.s.userWriteErr
	}
	u, ok := r.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	stamp := at
	u.LastLoginAt = &stamp
	return nil
}

func (r memUsers) RecordLoginFailure(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.userWriteErr != nil {
		return r.s.userWriteErr
	}
	u, ok := r.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = attempts
	u.LockedUntil = lockedUntil
	return nil
}

type memTokens struct{ s *memStore }

func (r memTokens) Create(ctx context.Context, tok *RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.tokenCreateErr != nil {
		return r.s.tokenCreateErr
	}
	if tok.ID == "" {
		tok.ID = tok.Token[:8]
	}
	copied := *tok
	r.s.tokens[tok.Token] = &copied
	return nil
}

func (r memTokens) Find(ctx context.Context, userID, token string) (*RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.tokenFindErr != nil {
		return nil, r.s.tokenFindErr
	}
	tok, ok := r.s.tokens[token]
	if !ok || tok.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (r memTokens) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, tok := range r.s.tokens {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

type memBranches struct{ s *memStore }

func (r memBranches) AssignedBranchIDs(ctx context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.branchErr != nil {
		return nil, r.s.branchErr
	}
	return append([]string(nil), r.s.branches[userID]...), nil
}

type serviceFixture struct {
	svc   *Service
	store *memStore
	now   *time.Time
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tokens, err := NewTokenIssuer("fixture-key", "HS256", WithIssuerClock(clock))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	store := newMemStore()
	opts = append([]ServiceOption{WithClock(clock)}, opts...)
	svc, err := NewService(store, tokens, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{svc: svc, store: store, now: &now}
}

func (f *serviceFixture) seedUser(t *testing.T, password string, mutate func(*User)) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &User{
		ID:           "user-1",
		Username:     "aruzhan",
		Email:        "aruzhan@example.com",
		Name:         "Aruzhan S",
		PasswordHash: hash,
		Role:         RoleUser,
		BranchID:     "br-1",
		Active:       true,
	}
	if mutate != nil {
		mutate(u)
	}
	f.store.addUser(u)
	return u
}

func TestLoginSuccess(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", func(u *User) { u.FailedLoginAttempts = 2 })
	f.store.branches["user-1"] = []string{"br-2"}

	sess, principal, err := f.svc.Login(context.Background(), "aruzhan", "pass123", "1.2.3.4")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}
	if sess.TokenType != TokenTypeBearer {
		t.Fatalf("token type = %q", sess.TokenType)
	}
	if !principal.HasPermission(PermCreateReports) {
		t.Fatal("user role should grant create_reports")
	}
	if !principal.CanAccessBranch("br-2") {
		t.Fatal("assigned branch should be accessible")
	}

	stored := f.store.user("user-1")
	if stored.FailedLoginAttempts != 0 {
		t.Fatalf("failed attempts not reset: %d", stored.FailedLoginAttempts)
	}
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(*f.now) {
		t.Fatalf("last login not stamped: %v", stored.LastLoginAt)
	}
	if _, ok := f.store.tokens[sess.RefreshToken]; !ok {
		t.Fatal("refresh token record not persisted")
	}
}

func TestLoginByEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)

	if _, _, err := f.svc.Login(context.Background(), "aruzhan@example.com", "pass123", ""); err != nil {
		t.Fatalf("Login by email: %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)

	_, _, err := f.svc.Login(context.Background(), "aruzhan", "nope", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if got := f.store.user("user-1").FailedLoginAttempts; got != 1 {
		t.Fatalf("failed attempts = %d, want 1", got)
	}
}

func TestLoginUnknownIdentifier(t *testing.T) {
	f := newServiceFixture(t)
	_, _, err := f.svc.Login(context.Background(), "ghost", "pass", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginLockout(t *testing.T) {
	f := newServiceFixture(t, WithLockoutPolicy(3, 15*time.Minute))
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := f.svc.Login(ctx, "aruzhan", "nope", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v", i+1, err)
		}
	}
	stored := f.store.user("user-1")
	if stored.LockedUntil == nil {
		t.Fatal("account should be locked after the third failure")
	}

	// Correct password while locked still fails, without revealing whether
	// the password was right.
	if _, _, err := f.svc.Login(ctx, "aruzhan", "pass123", ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked err = %v, want ErrAccountLocked", err)
	}

	*f.now = f.now.Add(16 * time.Minute)
	if _, _, err := f.svc.Login(ctx, "aruzhan", "pass123", ""); err != nil {
		t.Fatalf("login after lockout expiry: %v", err)
	}
	if f.store.user("user-1").LockedUntil != nil {
		t.Fatal("successful login should clear the lock")
	}
}

func TestLoginInactive(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", func(u *User) { u.Active = false })

	_, _, err := f.svc.Login(context.Background(), "aruzhan", "pass123", "")
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
	// A correct password against an inactive account is not a failed attempt.
	if got := f.store.user("user-1").FailedLoginAttempts; got != 0 {
		t.Fatalf("failed attempts = %d, want 0", got)
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter := NewAttemptLimiter(2, time.Minute)
	f := newServiceFixture(t, WithAttemptLimiter(limiter))
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		f.svc.Login(ctx, "aruzhan", "nope", "9.9.9.9")
	}
	_, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "9.9.9.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// Another client is unaffected.
	if _, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "8.8.8.8"); err != nil {
		t.Fatalf("unthrottled client: %v", err)
	}
}

func TestLoginRefreshPersistBestEffort(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	f.store.tokenCreateErr = errors.New("db down")

	sess, _, err := f.svc.Login(context.Background(), "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("login should survive a failed refresh persist: %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("token pair should still be returned")
	}

	// The unpersisted refresh token is unusable.
	f.store.tokenCreateErr = nil
	if _, _, err := f.svc.Refresh(context.Background(), sess.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh err = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshFlow(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	sess, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	*f.now = f.now.Add(time.Hour)
	refreshed, principal, err := f.svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == sess.AccessToken {
		t.Fatal("refresh should mint a new access token")
	}
	if refreshed.RefreshToken != sess.RefreshToken {
		t.Fatal("refresh token must not rotate")
	}
	if principal.User.ID != "user-1" {
		t.Fatalf("principal user = %q", principal.User.ID)
	}

	// New access token reflects a role change made after login.
	f.store.mu.Lock()
	f.store.users["user-1"].Role = RoleManager
	f.store.mu.Unlock()
	_, principal, err = f.svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh after role change: %v", err)
	}
	if !principal.HasPermission(PermApproveReports) {
		t.Fatal("refreshed principal should carry the current role")
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	sess, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	count, err := f.svc.Logout(ctx, "user-1")
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if count != 1 {
		t.Fatalf("revoked count = %d, want 1", count)
	}

	if _, _, err := f.svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("err = %v, want ErrTokenRevoked", err)
	}

	// Logout is idempotent; nothing left to revoke.
	count, err = f.svc.Logout(ctx, "user-1")
	if err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if count != 0 {
		t.Fatalf("second revoked count = %d, want 0", count)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)

	sess, _, err := f.svc.Login(context.Background(), "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := f.svc.Refresh(context.Background(), sess.AccessToken); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("err = %v, want ErrWrongTokenKind", err)
	}
}

func TestRefreshFailsClosedOnStoreError(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	sess, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.store.tokenFindErr = errors.New("db down")
	if _, _, err := f.svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatal("refresh must fail when revocation cannot be checked")
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	sess, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.store.mu.Lock()
	f.store.users["user-1"].Active = false
	f.store.mu.Unlock()

	if _, _, err := f.svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	sess, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	principal, err := f.svc.Authenticate(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.User.Username != "aruzhan" {
		t.Fatalf("principal = %+v", principal.User)
	}

	if _, err := f.svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v, want ErrInvalidToken", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.RefreshToken); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("refresh-as-access err = %v, want ErrWrongTokenKind", err)
	}

	f.store.mu.Lock()
	f.store.users["user-1"].Active = false
	f.store.mu.Unlock()
	if _, err := f.svc.Authenticate(ctx, sess.AccessToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("inactive err = %v, want ErrAccountInactive", err)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pass123", nil)
	ctx := context.Background()

	sess, _, err := f.svc.Login(ctx, "aruzhan", "pass123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	*f.now = f.now.Add(25 * time.Hour)
	if _, err := f.svc.Authenticate(ctx, sess.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestLogoutEmptyUser(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.svc.Logout(context.Background(), "  "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
