package rbac

import "strings"

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionSubmit   Action = "submit"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleViewer:
		return action == ActionRead || action == ActionSubmit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// RoleForEmail grants admin to addresses on the allow-list. Comparison is
// case-insensitive.
func RoleForEmail(email string, admins []string) Role {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return RoleViewer
	}
	for _, admin := range admins {
		if strings.ToLower(strings.TrimSpace(admin)) == email {
			return RoleAdmin
		}
	}
	return RoleViewer
}
