package app

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"taskmanager/api/internal/store"
)

// AdminEntity describes one table exposed to the admin console. Only these
// identifiers ever reach SQL.
type AdminEntity struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Table      string   `json:"-"`
	Columns    []string `json:"columns"`
	Searchable []string `json:"searchable"`
	Filterable []string `json:"filterable"`
	OrderBy    string   `json:"-"`
}

var adminEntities = []AdminEntity{
	{
		Name:       "tasks",
		Label:      "Tasks",
		Table:      "tasks",
		Columns:    []string{"id", "title", "status", "priority", "progress", "created_by", "assignee_id", "project_id", "due_date", "created_at", "updated_at"},
		Searchable: []string{"id", "title", "description"},
		Filterable: []string{"status", "priority", "progress", "created_by", "assignee_id", "project_id"},
		OrderBy:    "created_at DESC",
	},
	{
		Name:       "task_files",
		Label:      "Task files",
		Table:      "task_files",
		Columns:    []string{"id", "task_id", "original_filename", "file_size", "mime_type", "file_type", "uploaded_at"},
		Searchable: []string{"id", "original_filename", "description"},
		Filterable: []string{"task_id", "file_type"},
		OrderBy:    "uploaded_at DESC",
	},
	{
		Name:       "users",
		Label:      "Users",
		Table:      "users",
		Columns:    []string{"id", "username", "email", "full_name", "role", "is_active", "last_login", "created_at"},
		Searchable: []string{"id", "username", "email", "full_name"},
		Filterable: []string{"role", "is_active"},
		OrderBy:    "created_at DESC",
	},
	{
		Name:       "projects",
		Label:      "Projects",
		Table:      "projects",
		Columns:    []string{"id", "name", "status", "owner_id", "version", "created_at", "updated_at"},
		Searchable: []string{"id", "name", "description"},
		Filterable: []string{"status", "owner_id"},
		OrderBy:    "created_at DESC",
	},
}

func findAdminEntity(name string) (AdminEntity, bool) {
	for _, entity := range adminEntities {
		if entity.Name == name {
			return entity, true
		}
	}
	return AdminEntity{}, false
}

func (s *Service) ListAdminEntities(_ context.Context, sess Session) ([]AdminEntity, error) {
	if err := RequireAdministrator(sess); err != nil {
		return nil, err
	}
	return adminEntities, nil
}

// QueryAdminEntity lists rows of one admin entity. params carries q, limit,
// offset and any filterable column; other keys are ignored.
func (s *Service) QueryAdminEntity(ctx context.Context, sess Session, name string, params url.Values) ([]map[string]any, error) {
	if err := RequireAdministrator(sess); err != nil {
		return nil, err
	}
	entity, ok := findAdminEntity(name)
	if !ok {
		return nil, notFound("Unknown entity")
	}

	query := store.AdminQuery{
		Table:      entity.Table,
		Columns:    entity.Columns,
		Searchable: entity.Searchable,
		Search:     strings.TrimSpace(params.Get("q")),
		Filters:    map[string]string{},
		OrderBy:    entity.OrderBy,
	}
	for _, column := range entity.Filterable {
		if value := strings.TrimSpace(params.Get(column)); value != "" {
			query.Filters[column] = value
		}
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, validationError("Invalid limit", "limit")
		}
		query.Limit = limit
	}
	if raw := params.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, validationError("Invalid offset", "offset")
		}
		query.Offset = offset
	}
	return s.store.AdminQuery(ctx, query)
}
