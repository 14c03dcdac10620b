package auth

import "sort"

// Role is a named bundle of permissions assigned to an identity.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleUser     Role = "user"
	RoleReadonly Role = "readonly"
)

// Permission is a fine-grained capability string.
type Permission string

const (
	PermManageUsers    Permission = "manage_users"
	PermViewUsers      Permission = "view_users"
	PermManageBranches Permission = "manage_branches"
	PermViewBranches   Permission = "view_branches"

	PermCreateReports    Permission = "create_reports"
	PermEditReports      Permission = "edit_reports"
	PermDeleteReports    Permission = "delete_reports"
	PermViewReports      Permission = "view_reports"
	PermApproveReports   Permission = "approve_reports"
	PermEditOwnReports   Permission = "edit_own_reports"
	PermDeleteOwnReports Permission = "delete_own_reports"

	PermAddComments       Permission = "add_comments"
	PermEditComments      Permission = "edit_comments"
	PermDeleteComments    Permission = "delete_comments"
	PermEditOwnComments   Permission = "edit_own_comments"
	PermDeleteOwnComments Permission = "delete_own_comments"
)

// rolePermissions is the static role→permission table. Every role has an
// entry; an unknown role or permission never matches.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin: permSet(
		PermManageUsers, PermViewUsers,
		PermManageBranches, PermViewBranches,
		PermCreateReports, PermEditReports, PermDeleteReports,
		PermViewReports, PermApproveReports,
		PermEditOwnReports, PermDeleteOwnReports,
		PermAddComments, PermEditComments, PermDeleteComments,
		PermEditOwnComments, PermDeleteOwnComments,
	),
	RoleManager: permSet(
		PermViewUsers, PermViewBranches,
		PermCreateReports, PermEditReports,
		PermViewReports, PermApproveReports,
		PermEditOwnReports, PermDeleteOwnReports,
		PermAddComments, PermEditComments, PermDeleteComments,
		PermEditOwnComments, PermDeleteOwnComments,
	),
	RoleUser: permSet(
		PermViewBranches,
		PermCreateReports, PermViewReports,
		PermEditOwnReports, PermDeleteOwnReports,
		PermAddComments, PermEditOwnComments, PermDeleteOwnComments,
	),
	RoleReadonly: permSet(
		PermViewBranches, PermViewReports,
		PermAddComments, PermEditOwnComments, PermDeleteOwnComments,
	),
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ParseRole maps a stored role string onto the closed enumeration.
func ParseRole(s string) (Role, bool) {
	role := Role(s)
	_, ok := rolePermissions[role]
	return role, ok
}

// HasPermission reports whether the role grants the permission. Unknown
// roles and permissions yield false, never an error.
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// PermissionsFor returns the sorted permission set for a role. Unknown
// roles yield an empty slice.
func PermissionsFor(role Role) []Permission {
	set, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllPermissions returns every permission in the system, sorted.
func AllPermissions() []Permission {
	return PermissionsFor(RoleAdmin)
}

// HasRole reports whether role is one of the allowed roles. Used for
// coarse role gates, distinct from fine-grained permission checks.
func HasRole(role Role, allowed ...Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
