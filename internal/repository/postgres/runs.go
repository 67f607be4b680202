package postgres

import (
	"context"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// CreateRun records a stage run as it starts.
func (s *Store) CreateRun(ctx context.Context, run *domain.StageRun) error {
	_, err := upsert(ctx, s, "pipeline_runs", []string{"id"}, []domain.StageRun{*run})
	return err
}

// UpdateRun stores the final status and counters of a stage run.
func (s *Store) UpdateRun(ctx context.Context, run *domain.StageRun) error {
	stmt := `
		UPDATE pipeline_runs
		SET status = ?, rows_written = ?, skipped = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`
	n, err := s.exec(ctx, "update pipeline run", stmt,
		run.Status, run.RowsWritten, run.Skipped, run.CompletedAt, run.ErrorMessage, run.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Errorf("pipeline run %s not found", run.ID)
	}
	return nil
}

// Runs lists the most recent stage runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]domain.StageRun, error) {
	if limit <= 0 {
		limit = 50
	}
	stmt := s.db.Rebind(`
		SELECT id, stage_key, stage_name, status, rows_written, skipped,
		       started_at, completed_at, error_message
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`)

	var rows []domain.StageRun
	err := s.retry(ctx, "read pipeline runs", func() error {
		rows = rows[:0]
		return sqlx.SelectContext(ctx, s.db, &rows, stmt, limit)
	})
	if err != nil {
		if IsMissingTable(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read pipeline runs")
	}
	return rows, nil
}
