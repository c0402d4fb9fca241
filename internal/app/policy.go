package app

import (
	"taskmanager/api/internal/rbac"
	"taskmanager/api/internal/store"
)

func (s Session) authenticated() bool {
	return s.UserID != ""
}

// RequireAdministrator fails closed: anonymous callers get Unauthorized and
// every other role gets Forbidden.
func RequireAdministrator(session Session) error {
	if !session.authenticated() {
		return unauthorized()
	}
	if !rbac.IsAdministrator(session.Role) {
		return forbidden("Administrator access required")
	}
	return nil
}

func RequireManagerOrAdminOrDirector(session Session) error {
	if !session.authenticated() {
		return unauthorized()
	}
	if !rbac.CanCreateTasks(session.Role) {
		return forbidden("Manager, director or administrator access required")
	}
	return nil
}

func requireSession(session Session) error {
	if !session.authenticated() {
		return unauthorized()
	}
	return nil
}

// taskScope restricts managers and developers to tasks they created.
func taskScope(session Session) store.TaskFilter {
	if rbac.SeesAll(session.Role) {
		return store.TaskFilter{}
	}
	return store.TaskFilter{CreatedBy: session.UserID}
}

// projectScope restricts managers and developers to projects they own.
func projectScope(session Session) store.ProjectFilter {
	if rbac.SeesAll(session.Role) {
		return store.ProjectFilter{}
	}
	return store.ProjectFilter{OwnerID: session.UserID}
}

// searchOwner is the search-backend form of the same visibility rule.
func searchOwner(session Session) string {
	if rbac.SeesAll(session.Role) {
		return ""
	}
	return session.UserID
}
