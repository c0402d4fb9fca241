package store

import (
	"context"
	"database/sql"
	"errors"
)

const taskSelect = `
	SELECT t.id, t.title, t.description, t.status, t.priority, t.progress,
		t.start_date, t.due_date, t.git_repository, t.server_ip, t.server_password,
		t.ssh_key, t.technical_spec, t.estimated_hours, t.actual_hours,
		t.created_by, COALESCE(NULLIF(c.full_name, ''), c.username, ''),
		COALESCE(t.assignee_id, ''), COALESCE(NULLIF(a.full_name, ''), a.username, ''),
		COALESCE(t.project_id, ''), COALESCE(p.name, ''),
		t.version, t.created_at, t.updated_at
	FROM tasks t
	LEFT JOIN users c ON c.id = t.created_by
	LEFT JOIN users a ON a.id = t.assignee_id
	LEFT JOIN projects p ON p.id = t.project_id`

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var start, due sql.NullTime
	var estimated sql.NullFloat64
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority, &task.Progress,
		&start, &due, &task.GitRepository, &task.ServerIP, &task.ServerPassword,
		&task.SSHKey, &task.TechnicalSpec, &estimated, &task.ActualHours,
		&task.CreatedBy, &task.CreatorName,
		&task.AssigneeID, &task.AssigneeName,
		&task.ProjectID, &task.ProjectName,
		&task.Version, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	task.StartDate = timePtr(start)
	task.DueDate = timePtr(due)
	task.EstimatedHours = floatPtr(estimated)
	return task, nil
}

func taskWhere(filter TaskFilter) whereBuilder {
	var where whereBuilder
	if filter.CreatedBy != "" {
		where.add("t.created_by = ?", filter.CreatedBy)
	}
	if filter.Status != "" {
		where.add("t.status = ?", filter.Status)
	}
	if filter.ProjectID != "" {
		where.add("t.project_id = ?", filter.ProjectID)
	}
	return where
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, status, priority, progress, start_date, due_date,
			git_repository, server_ip, server_password, ssh_key, technical_spec,
			estimated_hours, actual_hours, created_by, assignee_id, project_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, task.ID, task.Title, task.Description, task.Status, task.Priority, task.Progress,
		nullTime(task.StartDate), nullTime(task.DueDate),
		task.GitRepository, task.ServerIP, task.ServerPassword, task.SSHKey, task.TechnicalSpec,
		nullFloat(task.EstimatedHours), task.ActualHours, task.CreatedBy,
		nullString(task.AssigneeID), nullString(task.ProjectID))
	return classify("insert task", err)
}

// GetTask loads one task with its assignees. A task outside filter reads as
// sql.ErrNoRows.
func (s *PostgresStore) GetTask(ctx context.Context, id string, filter TaskFilter) (Task, error) {
	where := taskWhere(filter)
	where.add("t.id = ?", id)
	task, err := scanTask(s.q.QueryRowContext(ctx, taskSelect+where.sql(), where.args...))
	if err != nil {
		return Task{}, classify("read task", err)
	}
	tasks := []Task{task}
	if err := s.attachAssignees(ctx, tasks); err != nil {
		return Task{}, err
	}
	return tasks[0], nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	where := taskWhere(filter)
	rows, err := s.q.QueryContext(ctx, taskSelect+where.sql()+` ORDER BY t.created_at DESC, t.id`, where.args...)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classify("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list tasks", err)
	}
	if err := s.attachAssignees(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) attachAssignees(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	index := make(map[string]int, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
		index[tasks[i].ID] = i
		tasks[i].Assignees = []UserRef{}
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT ta.task_id, u.id, u.username, u.full_name
		FROM task_assignees ta
		JOIN users u ON u.id = ta.user_id
		WHERE ta.task_id = ANY($1)
		ORDER BY u.username
	`, ids)
	if err != nil {
		return classify("list assignees", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID string
		var ref UserRef
		if err := rows.Scan(&taskID, &ref.ID, &ref.Username, &ref.FullName); err != nil {
			return classify("scan assignee", err)
		}
		if i, ok := index[taskID]; ok {
			tasks[i].Assignees = append(tasks[i].Assignees, ref)
		}
	}
	return rows.Err()
}

// UpdateTask writes every mutable column; created_by is never touched. An
// expectedVersion of zero skips the optimistic check.
func (s *PostgresStore) UpdateTask(ctx context.Context, task *Task, expectedVersion int) error {
	err := s.q.QueryRowContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, status=$4, priority=$5, progress=$6,
			start_date=$7, due_date=$8, git_repository=$9, server_ip=$10,
			server_password=$11, ssh_key=$12, technical_spec=$13,
			estimated_hours=$14, actual_hours=$15, assignee_id=$16, project_id=$17,
			version=version+1, updated_at=NOW()
		WHERE id=$1 AND ($18 = 0 OR version = $18)
		RETURNING version, updated_at
	`, task.ID, task.Title, task.Description, task.Status, task.Priority, task.Progress,
		nullTime(task.StartDate), nullTime(task.DueDate), task.GitRepository, task.ServerIP,
		task.ServerPassword, task.SSHKey, task.TechnicalSpec,
		nullFloat(task.EstimatedHours), task.ActualHours, nullString(task.AssigneeID), nullString(task.ProjectID),
		expectedVersion).Scan(&task.Version, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.versionMiss(ctx, "tasks", task.ID)
	}
	return classify("update task", err)
}

func (s *PostgresStore) ArchiveTask(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET status='archived', version=version+1, updated_at=NOW() WHERE id=$1
	`, id)
	if err != nil {
		return classify("archive task", err)
	}
	return requireAffected(res, "archive task")
}

// SetTaskAssignees replaces the assignee set. Callers resolve ids first.
func (s *PostgresStore) SetTaskAssignees(ctx context.Context, taskID string, userIDs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=$1`, taskID); err != nil {
		return classify("clear assignees", err)
	}
	for _, userID := range userIDs {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, taskID, userID); err != nil {
			return classify("insert assignee", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM task_files WHERE task_id=$1`, id); err != nil {
		return classify("delete task files", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=$1`, id); err != nil {
		return classify("delete task assignees", err)
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return classify("delete task", err)
	}
	return requireAffected(res, "delete task")
}

func (s *PostgresStore) TaskStats(ctx context.Context) (TaskStats, error) {
	var stats TaskStats
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'archived'),
			COUNT(*) FILTER (WHERE status = 'active' AND priority = 'high'),
			COUNT(*) FILTER (WHERE status = 'active' AND priority = 'medium'),
			COUNT(*) FILTER (WHERE status = 'active' AND priority = 'low')
		FROM tasks
	`).Scan(&stats.Total, &stats.Active, &stats.Completed, &stats.Archived, &stats.High, &stats.Medium, &stats.Low)
	if err != nil {
		return TaskStats{}, classify("task stats", err)
	}
	return stats, nil
}
