package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTask    ResultType = "task"
	ResultProject ResultType = "project"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Status    string     `json:"status,omitempty"`
	ProjectID string     `json:"projectId,omitempty"`
}

// Query describes a search request. OwnerID, when set, restricts tasks to
// those created by that user and projects to those owned by that user.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	OwnerID    string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexTasks(tasks []TaskRecord) error
	IndexProjects(projects []ProjectRecord) error
	DeleteTask(id string) error
	DeleteProject(id string) error
}

// TaskRecord is the data we index for a task. Credentials are never indexed.
type TaskRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	TechnicalSpec string `json:"technicalSpec"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	CreatedBy     string `json:"createdBy"`
	ProjectID     string `json:"projectId"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	OwnerID     string `json:"ownerId"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
