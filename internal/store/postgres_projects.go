package store

import (
	"context"
	"database/sql"
	"errors"
)

const projectSelect = `
	SELECT p.id, p.name, p.description, p.status, p.owner_id,
		COALESCE(NULLIF(u.full_name, ''), u.username, ''), p.version, p.created_at, p.updated_at
	FROM projects p
	LEFT JOIN users u ON u.id = p.owner_id`

func scanProject(row rowScanner) (Project, error) {
	var project Project
	err := row.Scan(&project.ID, &project.Name, &project.Description, &project.Status, &project.OwnerID,
		&project.OwnerName, &project.Version, &project.CreatedAt, &project.UpdatedAt)
	return project, err
}

func projectWhere(filter ProjectFilter) whereBuilder {
	var where whereBuilder
	if filter.OwnerID != "" {
		where.add("p.owner_id = ?", filter.OwnerID)
	}
	return where
}

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, owner_id)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.Name, project.Description, project.Status, project.OwnerID)
	return classify("insert project", err)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string, filter ProjectFilter) (Project, error) {
	where := projectWhere(filter)
	where.add("p.id = ?", id)
	project, err := scanProject(s.q.QueryRowContext(ctx, projectSelect+where.sql(), where.args...))
	if err != nil {
		return Project{}, classify("read project", err)
	}
	return project, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	where := projectWhere(filter)
	rows, err := s.q.QueryContext(ctx, projectSelect+where.sql()+` ORDER BY p.created_at DESC, p.id`, where.args...)
	if err != nil {
		return nil, classify("list projects", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, classify("scan project", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// UpdateProject writes name, description and status. An expectedVersion of
// zero skips the optimistic check. On success the new version and
// updated_at are copied back into project.
func (s *PostgresStore) UpdateProject(ctx context.Context, project *Project, expectedVersion int) error {
	err := s.q.QueryRowContext(ctx, `
		UPDATE projects
		SET name=$2, description=$3, status=$4, version=version+1, updated_at=NOW()
		WHERE id=$1 AND ($5 = 0 OR version = $5)
		RETURNING version, updated_at
	`, project.ID, project.Name, project.Description, project.Status, expectedVersion).Scan(&project.Version, &project.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.versionMiss(ctx, "projects", project.ID)
	}
	return classify("update project", err)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return classify("delete project", err)
	}
	return requireAffected(res, "delete project")
}

func (s *PostgresStore) ListProjectTaskIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM tasks WHERE project_id=$1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, classify("list project tasks", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan project task", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// versionMiss distinguishes a stale version from a missing row after a
// guarded update matched nothing.
func (s *PostgresStore) versionMiss(ctx context.Context, table, id string) error {
	var exists bool
	// table is always a literal supplied by the caller.
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return classify("check version", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return sql.ErrNoRows
}
