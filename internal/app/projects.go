package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskmanager/api/internal/events"
	"taskmanager/api/internal/search"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

var projectStatuses = []string{"active", "completed", "archived"}

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type ProjectPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Version     int     `json:"version"`
}

func projectRecord(project store.Project) search.ProjectRecord {
	return search.ProjectRecord{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Status:      project.Status,
		OwnerID:     project.OwnerID,
	}
}

func projectEvent(project store.Project) map[string]string {
	return map[string]string{"id": project.ID, "name": project.Name, "ownerId": project.OwnerID}
}

func (s *Service) CreateProject(ctx context.Context, sess Session, in ProjectInput) (store.Project, error) {
	if err := requireSession(sess); err != nil {
		return store.Project{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Project{}, validationError("Name is required", "name")
	}
	status, err := enumField(in.Status, "active", "status", projectStatuses)
	if err != nil {
		return store.Project{}, err
	}
	project := store.Project{
		ID:          util.NewID("prj"),
		Name:        name,
		Description: in.Description,
		Status:      status,
		OwnerID:     sess.UserID,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	created, err := s.store.GetProject(ctx, project.ID, store.ProjectFilter{})
	if err != nil {
		return store.Project{}, err
	}
	s.search.IndexProject(projectRecord(created))
	s.publish(ctx, events.ProjectCreated, sess.UserID, projectEvent(created))
	return created, nil
}

func (s *Service) getProject(ctx context.Context, id string, filter store.ProjectFilter) (store.Project, error) {
	project, err := s.store.GetProject(ctx, id, filter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, notFound("Project not found")
		}
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, sess Session, id string) (store.Project, error) {
	if err := requireSession(sess); err != nil {
		return store.Project{}, err
	}
	return s.getProject(ctx, id, projectScope(sess))
}

func (s *Service) ListProjects(ctx context.Context, sess Session) ([]store.Project, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, projectScope(sess))
}

// UpdateProject is limited to the project owner; anyone else gets NotFound.
func (s *Service) UpdateProject(ctx context.Context, sess Session, id string, patch ProjectPatch) (store.Project, error) {
	if err := requireSession(sess); err != nil {
		return store.Project{}, err
	}
	project, err := s.getProject(ctx, id, store.ProjectFilter{OwnerID: sess.UserID})
	if err != nil {
		return store.Project{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return store.Project{}, validationError("Name is required", "name")
		}
		project.Name = name
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}
	if patch.Status != nil {
		if project.Status, err = enumField(*patch.Status, project.Status, "status", projectStatuses); err != nil {
			return store.Project{}, err
		}
	}
	if err := s.store.UpdateProject(ctx, &project, patch.Version); err != nil {
		return store.Project{}, mapWriteError(err, "Project")
	}
	s.search.IndexProject(projectRecord(project))
	s.publish(ctx, events.ProjectUpdated, sess.UserID, projectEvent(project))
	return project, nil
}

// DeleteProject removes the project and every task in it, owner only.
// Stored files are removed first; the rows go in one transaction.
func (s *Service) DeleteProject(ctx context.Context, sess Session, id string) (DeleteReport, error) {
	if err := requireSession(sess); err != nil {
		return DeleteReport{}, err
	}
	project, err := s.getProject(ctx, id, store.ProjectFilter{OwnerID: sess.UserID})
	if err != nil {
		return DeleteReport{}, err
	}
	taskIDs, err := s.store.ListProjectTaskIDs(ctx, project.ID)
	if err != nil {
		return DeleteReport{}, err
	}
	files, err := s.store.ListTaskFiles(ctx, taskIDs...)
	if err != nil {
		return DeleteReport{}, err
	}

	report := DeleteReport{Warnings: []string{}}
	s.removeObjects(ctx, files, &report)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		for _, taskID := range taskIDs {
			if err := tx.DeleteTask(ctx, taskID); err != nil {
				return err
			}
		}
		return tx.DeleteProject(ctx, project.ID)
	})
	if err != nil {
		return DeleteReport{}, mapWriteError(err, "Project")
	}
	report.TasksDeleted = len(taskIDs)

	for _, taskID := range taskIDs {
		s.search.DeleteTask(taskID)
	}
	s.search.DeleteProject(project.ID)
	s.publish(ctx, events.ProjectDeleted, sess.UserID, map[string]any{"id": project.ID, "taskIds": taskIDs})
	return report, nil
}
