package search

import (
	"context"

	"go.uber.org/zap"
)

type primaryBackend interface {
	Searcher
	Indexer
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]TaskRecord, []ProjectRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  primaryBackend
	fallback Searcher
	loader   recordLoader
	log      *zap.Logger
}

// NewService creates a search service. Either backend may be nil.
func NewService(m *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := &Service{log: logger}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if m != nil {
		s.primary = m
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = normalizeLimit(q.Limit)
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask pushes a task to Meilisearch in the background.
func (s *Service) IndexTask(t TaskRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexTasks([]TaskRecord{t}); err != nil {
			s.log.Warn("index task", zap.String("task_id", t.ID), zap.Error(err))
		}
	}()
}

func (s *Service) IndexProject(p ProjectRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexProjects([]ProjectRecord{p}); err != nil {
			s.log.Warn("index project", zap.String("project_id", p.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteTask(id string) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.DeleteTask(id); err != nil {
			s.log.Warn("delete task from index", zap.String("task_id", id), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteProject(id string) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.DeleteProject(id); err != nil {
			s.log.Warn("delete project from index", zap.String("project_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reloads every task and project from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryReady() || s.loader == nil {
		return
	}
	tasks, projects, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexTasks(tasks); err != nil {
		s.log.Warn("reindex tasks", zap.Error(err))
	}
	if err := s.primary.IndexProjects(projects); err != nil {
		s.log.Warn("reindex projects", zap.Error(err))
	}
	s.log.Info("search reindex complete", zap.Int("tasks", len(tasks)), zap.Int("projects", len(projects)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
