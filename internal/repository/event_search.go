package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/event-booking/internal/model"
)

// Sort orders accepted by EventQuery.Sort.
const (
	SortDate       = "date"
	SortPopularity = "popularity"
	SortNewest     = "newest"
)

// EventQuery defines filters & pagination for listing events. Zero values
// disable a filter. Page and Limit must already be normalized.
type EventQuery struct {
	Category  string
	Date      string // YYYY-MM-DD, matches one calendar day
	Search    string // substring of title or description
	Upcoming  bool
	Status    string
	CreatedBy uint64
	Sort      string
	Page      int
	Limit     int
}

func (q EventQuery) where() (string, []any) {
	where := []string{}
	args := []any{}

	if q.Category != "" {
		where = append(where, "e.category = ?")
		args = append(args, q.Category)
	}
	if q.Date != "" {
		where = append(where, "e.event_date = ?")
		args = append(args, q.Date)
	}
	if q.Search != "" {
		like := "%" + strings.ToLower(q.Search) + "%"
		where = append(where, "(LOWER(e.title) LIKE ? OR LOWER(e.description) LIKE ?)")
		args = append(args, like, like)
	}
	if q.Upcoming {
		where = append(where, "e.event_date >= CURRENT_DATE()")
	}
	if q.Status != "" {
		where = append(where, "e.status = ?")
		args = append(args, q.Status)
	}
	if q.CreatedBy != 0 {
		where = append(where, "e.created_by = ?")
		args = append(args, q.CreatedBy)
	}

	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}

func (q EventQuery) orderBy() string {
	switch q.Sort {
	case SortPopularity:
		return "active_count DESC, e.event_date ASC, e.id ASC"
	case SortNewest:
		return "e.created_at DESC, e.id DESC"
	default:
		return "e.event_date ASC, e.event_time ASC, e.id ASC"
	}
}

// Search returns one page of matching events and the total match count.
func (r *EventRepo) Search(ctx context.Context, q EventQuery) ([]model.Event, int64, error) {
	cond, args := q.where()

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events e WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT ` + eventColumns + ` FROM events e WHERE ` + cond +
		` ORDER BY ` + q.orderBy() + ` LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), q.Limit, (q.Page-1)*q.Limit)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Event, 0, q.Limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
