package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StudyFilter holds optional filters for listing studies.
type StudyFilter struct {
	Status string // "running", "completed", "failed", or ""
	Name   string // ILIKE filter on study name
	Mode   string
	Limit  int
	Offset int
}

// StudyListItem is a study row with its trial counts.
type StudyListItem struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	NTrials     int        `json:"n_trials"`
	Completed   int        `json:"completed_trials"`
	Failed      int        `json:"failed_trials"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func pageLimit(limit int) int {
	if limit > 0 && limit <= 200 {
		return limit
	}
	return 50
}

// ListStudies returns studies matching f, newest first.
func (r *Repository) ListStudies(ctx context.Context, f StudyFilter) ([]StudyListItem, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("s.status = $%d", f.Status)
	}
	if f.Name != "" {
		add("s.name ILIKE $%d", "%"+f.Name+"%")
	}
	if f.Mode != "" {
		add("s.mode = $%d", f.Mode)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, pageLimit(f.Limit))
	page := fmt.Sprintf("LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		page += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`
		SELECT
			s.id, s.name, s.mode, s.status, s.n_trials,
			COUNT(t.number) FILTER (WHERE t.state = 'complete'),
			COUNT(t.number) FILTER (WHERE t.state = 'fail'),
			s.created_at, s.completed_at
		FROM tuning_studies s
		LEFT JOIN tuning_trials t ON t.study_id = s.id
		%s
		GROUP BY s.id
		ORDER BY s.created_at DESC
		%s
	`, where, page)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var items []StudyListItem
	for rows.Next() {
		var item StudyListItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Mode, &item.Status, &item.NTrials,
			&item.Completed, &item.Failed, &item.CreatedAt, &item.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan study row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteStudy removes a study and its trials.
func (r *Repository) DeleteStudy(ctx context.Context, studyID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tuning_trials WHERE study_id = $1`, studyID); err != nil {
		return fmt.Errorf("delete trials: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tuning_studies WHERE id = $1`, studyID); err != nil {
		return fmt.Errorf("delete study: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
