// Package rbac defines the closed role set and every capability predicate
// derived from it. Other packages must not compare role strings directly.
package rbac

import "strings"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDirector  Role = "director"
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
)

// Roles lists every role, most privileged first.
func Roles() []Role {
	return []Role{RoleAdmin, RoleDirector, RoleManager, RoleDeveloper}
}

func Parse(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleAdmin, RoleDirector, RoleManager, RoleDeveloper:
		return role, true
	case "administrator":
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Normalize maps unknown values to the least privileged role.
func Normalize(value string) Role {
	if role, ok := Parse(value); ok {
		return role
	}
	return RoleDeveloper
}

func IsAdministrator(role Role) bool { return role == RoleAdmin }
func IsDirector(role Role) bool      { return role == RoleDirector }
func IsManager(role Role) bool       { return role == RoleManager }
func IsDeveloper(role Role) bool     { return role == RoleDeveloper }

func CanViewAnalytics(role Role) bool {
	return IsAdministrator(role) || IsDirector(role)
}

func CanCreateTasks(role Role) bool {
	return IsManager(role) || IsDirector(role) || IsAdministrator(role)
}

// SeesAll reports whether the role bypasses the creator/owner visibility filter.
func SeesAll(role Role) bool {
	return IsAdministrator(role) || IsDirector(role)
}

// Quota returns the maximum number of accounts for role. limited is false
// for roles without a cap.
func Quota(role Role) (max int, limited bool) {
	switch role {
	case RoleDirector:
		return 1, true
	case RoleDeveloper:
		return 2, true
	default:
		return 0, false
	}
}

func Label(role Role) string {
	switch role {
	case RoleAdmin:
		return "Administrator"
	case RoleDirector:
		return "Director"
	case RoleManager:
		return "Manager"
	case RoleDeveloper:
		return "Developer"
	default:
		return string(role)
	}
}
