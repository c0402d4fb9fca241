package app

import (
	"context"
	"strings"

	"taskmanager/api/internal/search"
)

type PriorityBreakdown struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type Stats struct {
	Total             int               `json:"total"`
	Active            int               `json:"active"`
	Completed         int               `json:"completed"`
	Archived          int               `json:"archived"`
	PriorityBreakdown PriorityBreakdown `json:"priorityBreakdown"`
}

// GetStats counts every task regardless of visibility; administrators only.
func (s *Service) GetStats(ctx context.Context, sess Session) (Stats, error) {
	if err := RequireAdministrator(sess); err != nil {
		return Stats{}, err
	}
	counts, err := s.store.TaskStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Total:     counts.Total,
		Active:    counts.Active,
		Completed: counts.Completed,
		Archived:  counts.Archived,
		PriorityBreakdown: PriorityBreakdown{
			High:   counts.High,
			Medium: counts.Medium,
			Low:    counts.Low,
		},
	}, nil
}

// Search runs a full-text query over tasks and projects the caller can see.
func (s *Service) Search(ctx context.Context, sess Session, text, kind string, limit, offset int) (search.Response, error) {
	if err := requireSession(sess); err != nil {
		return search.Response{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	var filterType search.ResultType
	switch kind {
	case "":
	case string(search.ResultTask), string(search.ResultProject):
		filterType = search.ResultType(kind)
	default:
		return search.Response{}, validationError("Invalid type", "type")
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: filterType,
		OwnerID:    searchOwner(sess),
		Limit:      limit,
		Offset:     offset,
	}), nil
}
