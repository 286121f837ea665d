package constants

const (
	Superadmin = "superadmin"
	Admin      = "admin"
	Manager    = "manager"
	Viewer     = "viewer"
)

// ValidRoles is the set of allowed DB enum values for user role (must match enum_Users_role).
var ValidRoles = []string{Viewer, Manager, Admin, Superadmin}

// roleRank orders roles by privilege for invite-level checks.
var roleRank = map[string]int{
	Viewer:     1,
	Manager:    2,
	Admin:      3,
	Superadmin: 4,
}

// IsValidRole returns true if role is one of the allowed enum values.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleAtOrBelow returns true if target is at the same privilege level as
// actor or below. Unknown roles are never at-or-below anything.
func RoleAtOrBelow(target, actor string) bool {
	tr, ok := roleRank[target]
	if !ok {
		return false
	}
	ar, ok := roleRank[actor]
	if !ok {
		return false
	}
	return tr <= ar
}
