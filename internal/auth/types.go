package auth

import "time"

// User represents an authenticated principal. The record is owned by the
// surrounding application; this package reads it and writes back the
// login bookkeeping fields (failed attempts, lock-until, last login).
type User struct {
	ID                  string
	Username            string
	Email               string
	Name                string
	PasswordHash        string
	Role                Role
	BranchID            string
	Active              bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is locked out at the given instant.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RefreshToken is the persisted record backing an issued refresh token.
// Revocation flips the flag; records are never deleted.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// Session is the credential pair returned by a successful login. After a
// refresh, RefreshToken carries the original (unrotated) token.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Principal is a user with resolved permissions and branch assignments.
type Principal struct {
	User        *User
	Permissions map[Permission]struct{}
	BranchIDs   []string
}

// NewPrincipal resolves the permission set for the user's role and keeps
// the explicit branch assignments alongside the home branch.
func NewPrincipal(user *User, branchIDs []string) Principal {
	perms := PermissionsFor(user.Role)
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return Principal{User: user, Permissions: set, BranchIDs: branchIDs}
}

// HasPermission reports whether the principal's role grants the permission.
func (p Principal) HasPermission(perm Permission) bool {
	_, ok := p.Permissions[perm]
	return ok
}

// HasRole reports whether the principal holds one of the allowed roles.
func (p Principal) HasRole(allowed ...Role) bool {
	if p.User == nil {
		return false
	}
	return HasRole(p.User.Role, allowed...)
}

// CanAccessBranch gates branch-scoped operations. Administrators bypass
// branch membership entirely; everyone else needs the branch as their
// home branch or an explicit assignment.
func (p Principal) CanAccessBranch(branchID string) bool {
	if p.User == nil || branchID == "" {
		return false
	}
	if p.User.Role == RoleAdmin {
		return true
	}
	if p.User.BranchID == branchID {
		return true
	}
	for _, id := range p.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}
