package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// buildQuery renders the count and data statements for q. The owner scope is
// applied inside each sub-query so hidden rows never reach the ranking.
func buildQuery(q Query) (countSQL, dataSQL string, args []any) {
	tsQuery := "plainto_tsquery('english', $1)"
	args = []any{q.Text}

	ownerArg := ""
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		ownerArg = fmt.Sprintf("$%d", len(args))
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultTask {
		where := "t.fts @@ " + tsQuery
		if ownerArg != "" {
			where += " AND t.created_by = " + ownerArg
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.status, coalesce(t.project_id, '') AS project_id,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if q.FilterType == "" || q.FilterType == ResultProject {
		where := "p.fts @@ " + tsQuery
		if ownerArg != "" {
			where += " AND p.owner_id = " + ownerArg
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.status, p.id AS project_id,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if len(subQueries) == 0 {
		return "", "", nil
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	union := strings.Join(subQueries, " UNION ALL ")
	countSQL = fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL = fmt.Sprintf(`SELECT type, id, title, snippet, status, project_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, normalizeLimit(q.Limit), offset)
	return countSQL, dataSQL, args
}

// Search executes a UNION ALL query across tasks and projects using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	countSQL, dataSQL, args := buildQuery(q)
	if countSQL == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, []ProjectRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, technical_spec, status, priority, created_by, coalesce(project_id, '')
		FROM tasks
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.TechnicalSpec, &t.Status, &t.Priority, &t.CreatedBy, &t.ProjectID); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	projectRows, err := p.db.QueryContext(ctx, `SELECT id, name, description, status, owner_id FROM projects`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var pr ProjectRecord
		if err := projectRows.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.Status, &pr.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	return tasks, projects, nil
}
