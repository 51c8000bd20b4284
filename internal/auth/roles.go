package auth

import "strings"

// Role identifies the capability class of an authenticated user.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleSecretariat    Role = "secretariat"
	RoleCommissioner   Role = "commissioner"
	RoleDepartmentUser Role = "department_user"
	RoleAuditor        Role = "auditor"
)

// Actor is the identity supplied to the workflow layer. The core never
// authenticates; it only authorizes given this input.
type Actor struct {
	ID   string
	Role Role
}

// IsOversight reports whether the role carries administrator-equivalent
// engagement oversight (secretariat has it without full user management).
func (r Role) IsOversight() bool {
	return r == RoleAdmin || r == RoleSecretariat
}

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSecretariat:
		return RoleSecretariat, true
	case RoleCommissioner:
		return RoleCommissioner, true
	case RoleDepartmentUser:
		return RoleDepartmentUser, true
	case RoleAuditor:
		return RoleAuditor, true
	default:
		return "", false
	}
}
