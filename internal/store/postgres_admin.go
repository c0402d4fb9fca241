package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	defaultAdminLimit = 50
	maxAdminLimit     = 200
)

// AdminQuery runs a read-only listing over one table. Identifiers come from
// the caller's static entity table; only values are parameterized.
func (s *PostgresStore) AdminQuery(ctx context.Context, query AdminQuery) ([]map[string]any, error) {
	if query.Table == "" || len(query.Columns) == 0 {
		return nil, fmt.Errorf("admin query: table and columns are required")
	}

	var where whereBuilder
	if search := strings.TrimSpace(query.Search); search != "" && len(query.Searchable) > 0 {
		parts := make([]string, len(query.Searchable))
		for i, column := range query.Searchable {
			parts[i] = column + "::text ILIKE ?"
		}
		where.add("("+strings.Join(parts, " OR ")+")", "%"+escapeLike(search)+"%")
	}
	filterKeys := make([]string, 0, len(query.Filters))
	for key := range query.Filters {
		filterKeys = append(filterKeys, key)
	}
	sort.Strings(filterKeys)
	for _, key := range filterKeys {
		where.add(key+"::text = ?", query.Filters[key])
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultAdminLimit
	}
	if limit > maxAdminLimit {
		limit = maxAdminLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	orderBy := query.OrderBy
	if orderBy == "" {
		orderBy = query.Columns[0]
	}

	sqlText := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s LIMIT %d OFFSET %d`,
		strings.Join(query.Columns, ", "), query.Table, where.sql(), orderBy, limit, offset)
	rows, err := s.q.QueryContext(ctx, sqlText, where.args...)
	if err != nil {
		return nil, classify("admin query", err)
	}
	defer rows.Close()

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(query.Columns))
		ptrs := make([]any, len(query.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("scan admin row", err)
		}
		record := make(map[string]any, len(query.Columns))
		for i, column := range query.Columns {
			record[column] = normalizeAdminValue(values[i])
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func normalizeAdminValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
