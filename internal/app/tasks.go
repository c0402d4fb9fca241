package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskmanager/api/internal/events"
	"taskmanager/api/internal/search"
	"taskmanager/api/internal/secrets"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

var (
	taskStatuses   = []string{"active", "completed", "archived"}
	taskPriorities = []string{"high", "medium", "low"}
	taskProgress   = []string{"not_started", "in_progress", "testing", "completed"}
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

type TaskInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	Progress       string   `json:"progress"`
	StartDate      string   `json:"startDate"`
	DueDate        string   `json:"dueDate"`
	GitRepository  string   `json:"gitRepository"`
	ServerIP       string   `json:"serverIp"`
	ServerPassword string   `json:"serverPassword"`
	SSHKey         string   `json:"sshKey"`
	TechnicalSpec  string   `json:"technicalSpec"`
	EstimatedHours *float64 `json:"estimatedHours"`
	ActualHours    *float64 `json:"actualHours"`
	AssigneeID     string   `json:"assigneeId"`
	AssigneeIDs    []string `json:"assigneeIds"`
	ProjectID      string   `json:"projectId"`
}

// TaskPatch is a partial update; nil fields keep their current value.
// Version, when non-zero, must match the stored version.
type TaskPatch struct {
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	Status         *string   `json:"status"`
	Priority       *string   `json:"priority"`
	Progress       *string   `json:"progress"`
	StartDate      *string   `json:"startDate"`
	DueDate        *string   `json:"dueDate"`
	GitRepository  *string   `json:"gitRepository"`
	ServerIP       *string   `json:"serverIp"`
	ServerPassword *string   `json:"serverPassword"`
	SSHKey         *string   `json:"sshKey"`
	TechnicalSpec  *string   `json:"technicalSpec"`
	EstimatedHours *float64  `json:"estimatedHours"`
	ActualHours    *float64  `json:"actualHours"`
	AssigneeID     *string   `json:"assigneeId"`
	AssigneeIDs    *[]string `json:"assigneeIds"`
	ProjectID      *string   `json:"projectId"`
	Version        int       `json:"version"`
}

type TaskListQuery struct {
	Status    string
	ProjectID string
}

// DeleteReport lists stored objects that could not be removed. The rows are
// deleted regardless.
type DeleteReport struct {
	TasksDeleted int      `json:"tasksDeleted"`
	FilesRemoved int      `json:"filesRemoved"`
	Warnings     []string `json:"warnings"`
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

func enumField(value, fallback, field string, allowed []string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	if !oneOf(value, allowed) {
		return "", validationError("Invalid "+field, field)
	}
	return value, nil
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// applyDate returns the new value for a date field. Empty clears it and a
// malformed value keeps current.
func (s *Service) applyDate(field, value string, current *time.Time) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, ok := parseDate(value)
	if !ok {
		s.log.Warn("ignoring malformed date", zap.String("field", field), zap.String("value", value))
		return current
	}
	return &t
}

func checkHours(field string, value *float64) error {
	if value != nil && *value < 0 {
		return validationError(field+" must not be negative", field)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// resolveAssignees drops ids that do not name an existing user.
func (s *Service) resolveAssignees(ctx context.Context, ids []string) ([]string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}
	users, err := s.store.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	resolved := make([]string, 0, len(users))
	for _, user := range users {
		resolved = append(resolved, user.ID)
	}
	sort.Strings(resolved)
	if dropped := len(ids) - len(resolved); dropped > 0 {
		s.log.Info("dropped unknown assignee ids", zap.Int("count", dropped))
	}
	return resolved, nil
}

func (s *Service) checkAssignee(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.store.GetUserByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return validationError("Assignee does not exist", "assigneeId")
		}
		return err
	}
	return nil
}

func (s *Service) checkProject(ctx context.Context, sess Session, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.store.GetProject(ctx, id, projectScope(sess)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return validationError("Project does not exist", "projectId")
		}
		return err
	}
	return nil
}

func (s *Service) sealTask(task *store.Task) error {
	var err error
	if task.ServerPassword, err = s.box.Seal(task.ServerPassword); err != nil {
		return err
	}
	task.SSHKey, err = s.box.Seal(task.SSHKey)
	return err
}

// resealField returns the column value to write for a credential field.
// An untouched sealed value is written back as stored, even when it no
// longer decrypts under the current key.
func (s *Service) resealField(stored string, patched *string) (string, error) {
	if patched == nil {
		if secrets.IsSealed(stored) {
			return stored, nil
		}
		return s.box.Seal(stored)
	}
	return s.box.Seal(*patched)
}

// openTask decrypts credential fields in place. Values that fail to
// decrypt are blanked rather than returned sealed.
func (s *Service) openTask(task *store.Task) {
	if value, err := s.box.Open(task.ServerPassword); err == nil {
		task.ServerPassword = value
	} else {
		s.log.Error("decrypt server password", zap.String("task_id", task.ID), zap.Error(err))
		task.ServerPassword = ""
	}
	if value, err := s.box.Open(task.SSHKey); err == nil {
		task.SSHKey = value
	} else {
		s.log.Error("decrypt ssh key", zap.String("task_id", task.ID), zap.Error(err))
		task.SSHKey = ""
	}
}

func taskRecord(task store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:            task.ID,
		Title:         task.Title,
		Description:   task.Description,
		TechnicalSpec: task.TechnicalSpec,
		Status:        task.Status,
		Priority:      task.Priority,
		CreatedBy:     task.CreatedBy,
		ProjectID:     task.ProjectID,
	}
}

func taskEvent(task store.Task) map[string]string {
	return map[string]string{"id": task.ID, "title": task.Title, "status": task.Status, "projectId": task.ProjectID, "createdBy": task.CreatedBy}
}

func (s *Service) CreateTask(ctx context.Context, sess Session, in TaskInput) (store.Task, error) {
	if err := RequireManagerOrAdminOrDirector(sess); err != nil {
		return store.Task{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Task{}, validationError("Title is required", "title")
	}
	status, err := enumField(in.Status, "active", "status", taskStatuses)
	if err != nil {
		return store.Task{}, err
	}
	priority, err := enumField(in.Priority, "medium", "priority", taskPriorities)
	if err != nil {
		return store.Task{}, err
	}
	progress, err := enumField(in.Progress, "not_started", "progress", taskProgress)
	if err != nil {
		return store.Task{}, err
	}
	if err := checkHours("estimatedHours", in.EstimatedHours); err != nil {
		return store.Task{}, err
	}
	if err := checkHours("actualHours", in.ActualHours); err != nil {
		return store.Task{}, err
	}

	assigneeID := strings.TrimSpace(in.AssigneeID)
	if err := s.checkAssignee(ctx, assigneeID); err != nil {
		return store.Task{}, err
	}
	projectID := strings.TrimSpace(in.ProjectID)
	if err := s.checkProject(ctx, sess, projectID); err != nil {
		return store.Task{}, err
	}
	assignees, err := s.resolveAssignees(ctx, in.AssigneeIDs)
	if err != nil {
		return store.Task{}, err
	}

	now := s.now()
	task := store.Task{
		ID:             util.NewID("tsk"),
		Title:          title,
		Description:    in.Description,
		Status:         status,
		Priority:       priority,
		Progress:       progress,
		StartDate:      s.applyDate("startDate", in.StartDate, nil),
		DueDate:        s.applyDate("dueDate", in.DueDate, nil),
		GitRepository:  strings.TrimSpace(in.GitRepository),
		ServerIP:       strings.TrimSpace(in.ServerIP),
		ServerPassword: in.ServerPassword,
		SSHKey:         in.SSHKey,
		TechnicalSpec:  in.TechnicalSpec,
		EstimatedHours: in.EstimatedHours,
		CreatedBy:      sess.UserID,
		AssigneeID:     assigneeID,
		ProjectID:      projectID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.ActualHours != nil {
		task.ActualHours = *in.ActualHours
	}
	if err := s.sealTask(&task); err != nil {
		return store.Task{}, err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		return tx.SetTaskAssignees(ctx, task.ID, assignees)
	})
	if err != nil {
		return store.Task{}, err
	}

	created, err := s.loadTask(ctx, task.ID, store.TaskFilter{})
	if err != nil {
		return store.Task{}, err
	}
	s.search.IndexTask(taskRecord(created))
	s.publish(ctx, events.TaskCreated, sess.UserID, taskEvent(created))
	return created, nil
}

// loadTask reads a task with files attached and credentials opened.
func (s *Service) loadTask(ctx context.Context, id string, filter store.TaskFilter) (store.Task, error) {
	task, err := s.store.GetTask(ctx, id, filter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFound("Task not found")
		}
		return store.Task{}, err
	}
	files, err := s.store.ListTaskFiles(ctx, task.ID)
	if err != nil {
		return store.Task{}, err
	}
	task.Files = files
	s.openTask(&task)
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, sess Session, id string) (store.Task, error) {
	if err := requireSession(sess); err != nil {
		return store.Task{}, err
	}
	return s.loadTask(ctx, id, taskScope(sess))
}

func (s *Service) ListTasks(ctx context.Context, sess Session, query TaskListQuery) ([]store.Task, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	filter := taskScope(sess)
	if query.Status != "" {
		if !oneOf(query.Status, taskStatuses) {
			return nil, validationError("Invalid status", "status")
		}
		filter.Status = query.Status
	}
	filter.ProjectID = strings.TrimSpace(query.ProjectID)

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return tasks, nil
	}
	ids := make([]string, len(tasks))
	index := make(map[string]int, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
		index[tasks[i].ID] = i
		tasks[i].Files = []store.TaskFile{}
	}
	files, err := s.store.ListTaskFiles(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if i, ok := index[file.TaskID]; ok {
			tasks[i].Files = append(tasks[i].Files, file)
		}
	}
	for i := range tasks {
		s.openTask(&tasks[i])
	}
	return tasks, nil
}

// UpdateTask applies patch to a task visible to the caller.
func (s *Service) UpdateTask(ctx context.Context, sess Session, id string, patch TaskPatch) (store.Task, error) {
	if err := requireSession(sess); err != nil {
		return store.Task{}, err
	}
	task, err := s.store.GetTask(ctx, id, taskScope(sess))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFound("Task not found")
		}
		return store.Task{}, err
	}
	storedPassword, storedKey := task.ServerPassword, task.SSHKey
	s.openTask(&task)

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return store.Task{}, validationError("Title is required", "title")
		}
		task.Title = title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		if task.Status, err = enumField(*patch.Status, task.Status, "status", taskStatuses); err != nil {
			return store.Task{}, err
		}
	}
	if patch.Priority != nil {
		if task.Priority, err = enumField(*patch.Priority, task.Priority, "priority", taskPriorities); err != nil {
			return store.Task{}, err
		}
	}
	if patch.Progress != nil {
		if task.Progress, err = enumField(*patch.Progress, task.Progress, "progress", taskProgress); err != nil {
			return store.Task{}, err
		}
	}
	if patch.StartDate != nil {
		task.StartDate = s.applyDate("startDate", *patch.StartDate, task.StartDate)
	}
	if patch.DueDate != nil {
		task.DueDate = s.applyDate("dueDate", *patch.DueDate, task.DueDate)
	}
	if patch.GitRepository != nil {
		task.GitRepository = strings.TrimSpace(*patch.GitRepository)
	}
	if patch.ServerIP != nil {
		task.ServerIP = strings.TrimSpace(*patch.ServerIP)
	}
	if patch.ServerPassword != nil {
		task.ServerPassword = *patch.ServerPassword
	}
	if patch.SSHKey != nil {
		task.SSHKey = *patch.SSHKey
	}
	if patch.TechnicalSpec != nil {
		task.TechnicalSpec = *patch.TechnicalSpec
	}
	if patch.EstimatedHours != nil {
		if err := checkHours("estimatedHours", patch.EstimatedHours); err != nil {
			return store.Task{}, err
		}
		hours := *patch.EstimatedHours
		task.EstimatedHours = &hours
	}
	if patch.ActualHours != nil {
		if err := checkHours("actualHours", patch.ActualHours); err != nil {
			return store.Task{}, err
		}
		task.ActualHours = *patch.ActualHours
	}
	if patch.AssigneeID != nil {
		assigneeID := strings.TrimSpace(*patch.AssigneeID)
		if assigneeID != task.AssigneeID {
			if err := s.checkAssignee(ctx, assigneeID); err != nil {
				return store.Task{}, err
			}
		}
		task.AssigneeID = assigneeID
	}
	if patch.ProjectID != nil {
		projectID := strings.TrimSpace(*patch.ProjectID)
		if projectID != task.ProjectID {
			if err := s.checkProject(ctx, sess, projectID); err != nil {
				return store.Task{}, err
			}
		}
		task.ProjectID = projectID
	}
	var assignees []string
	if patch.AssigneeIDs != nil {
		if assignees, err = s.resolveAssignees(ctx, *patch.AssigneeIDs); err != nil {
			return store.Task{}, err
		}
	}
	if task.ServerPassword, err = s.resealField(storedPassword, patch.ServerPassword); err != nil {
		return store.Task{}, err
	}
	if task.SSHKey, err = s.resealField(storedKey, patch.SSHKey); err != nil {
		return store.Task{}, err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateTask(ctx, &task, patch.Version); err != nil {
			return err
		}
		if patch.AssigneeIDs != nil {
			return tx.SetTaskAssignees(ctx, task.ID, assignees)
		}
		return nil
	})
	if err != nil {
		return store.Task{}, mapWriteError(err, "Task")
	}

	updated, err := s.loadTask(ctx, task.ID, store.TaskFilter{})
	if err != nil {
		return store.Task{}, err
	}
	s.search.IndexTask(taskRecord(updated))
	s.publish(ctx, events.TaskUpdated, sess.UserID, taskEvent(updated))
	return updated, nil
}

func mapWriteError(err error, entity string) error {
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return conflict("VERSION_CONFLICT", entity+" was modified by someone else", nil)
	case errors.Is(err, sql.ErrNoRows):
		return notFound(entity + " not found")
	}
	return err
}

// ArchiveTask sets status to archived. Archiving an archived task succeeds.
func (s *Service) ArchiveTask(ctx context.Context, sess Session, id string) (store.Task, error) {
	if err := requireSession(sess); err != nil {
		return store.Task{}, err
	}
	if _, err := s.store.GetTask(ctx, id, taskScope(sess)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFound("Task not found")
		}
		return store.Task{}, err
	}
	if err := s.store.ArchiveTask(ctx, id); err != nil {
		return store.Task{}, mapWriteError(err, "Task")
	}
	task, err := s.loadTask(ctx, id, store.TaskFilter{})
	if err != nil {
		return store.Task{}, err
	}
	s.search.IndexTask(taskRecord(task))
	s.publish(ctx, events.TaskArchived, sess.UserID, taskEvent(task))
	return task, nil
}

// DeleteTask removes the task's stored files, then its rows in one
// transaction.
func (s *Service) DeleteTask(ctx context.Context, sess Session, id string) (DeleteReport, error) {
	if err := requireSession(sess); err != nil {
		return DeleteReport{}, err
	}
	task, err := s.store.GetTask(ctx, id, taskScope(sess))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeleteReport{}, notFound("Task not found")
		}
		return DeleteReport{}, err
	}
	files, err := s.store.ListTaskFiles(ctx, task.ID)
	if err != nil {
		return DeleteReport{}, err
	}

	report := DeleteReport{Warnings: []string{}}
	s.removeObjects(ctx, files, &report)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.DeleteTask(ctx, task.ID)
	})
	if err != nil {
		return DeleteReport{}, mapWriteError(err, "Task")
	}
	report.TasksDeleted = 1

	s.search.DeleteTask(task.ID)
	s.publish(ctx, events.TaskDeleted, sess.UserID, map[string]string{"id": task.ID})
	return report, nil
}

func (s *Service) removeObjects(ctx context.Context, files []store.TaskFile, report *DeleteReport) {
	for _, file := range files {
		if err := s.blobs.Remove(ctx, file.FilePath); err != nil {
			s.log.Warn("remove stored file", zap.String("file_id", file.ID), zap.String("path", file.FilePath), zap.Error(err))
			report.Warnings = append(report.Warnings, "could not remove "+file.OriginalFilename)
			continue
		}
		report.FilesRemoved++
	}
}
