package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ingestionLogRepository implements IngestionLogRepository over the
// ingestion_runs and ingestion_row_errors tables.
type ingestionLogRepository struct {
	q db.Querier
}

// NewIngestionLogRepository creates a new ingestion log repository.
func NewIngestionLogRepository(conn *db.Connection) IngestionLogRepository {
	return &ingestionLogRepository{q: conn.Pool}
}

func (r *ingestionLogRepository) CreateRun(ctx context.Context, run domain.IngestionRun) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO ingestion_runs (id, entity_kind, file_name, format, user_id, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.EntityKind), run.FileName, run.Format, run.UserID, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ingestion run %s: %w", run.ID, err)
	}
	return nil
}

func (r *ingestionLogRepository) FinishRun(ctx context.Context, run domain.IngestionRun) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE ingestion_runs
		 SET total_rows = $2, created_rows = $3, updated_rows = $4, skipped_rows = $5, failed_rows = $6, finished_at = now()
		 WHERE id = $1`,
		run.ID, run.TotalRows, run.CreatedRows, run.UpdatedRows, run.SkippedRows, run.FailedRows,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingestion run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ingestion run %s %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ingestionLogRepository) GetRun(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error) {
	var (
		run        domain.IngestionRun
		kind       string
		finishedAt pgtype.Timestamptz
	)
	err := r.q.QueryRow(ctx,
		`SELECT id, entity_kind, file_name, format, user_id, total_rows, created_rows, updated_rows, skipped_rows, failed_rows, started_at, finished_at
		 FROM ingestion_runs
		 WHERE id = $1`, id,
	).Scan(
		&run.ID, &kind, &run.FileName, &run.Format, &run.UserID,
		&run.TotalRows, &run.CreatedRows, &run.UpdatedRows, &run.SkippedRows, &run.FailedRows,
		&run.StartedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IngestionRun{}, fmt.Errorf("ingestion run %s %w", id, domain.ErrNotFound)
		}
		return domain.IngestionRun{}, fmt.Errorf("failed to get ingestion run %s: %w", id, err)
	}

	run.EntityKind = domain.EntityKind(kind)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

func (r *ingestionLogRepository) AddRowError(ctx context.Context, rowError domain.IngestionRowError) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO ingestion_row_errors (run_id, row_number, error_message)
		 VALUES ($1, $2, $3)`,
		rowError.RunID, rowError.RowNumber, rowError.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record row error for run %s: %w", rowError.RunID, err)
	}
	return nil
}

func (r *ingestionLogRepository) ListRowErrors(ctx context.Context, runID uuid.UUID, limit int) ([]domain.IngestionRowError, error) {
	limit = clampLimit(limit)

	rows, err := r.q.Query(ctx,
		`SELECT id, run_id, row_number, error_message, created_at
		 FROM ingestion_row_errors
		 WHERE run_id = $1
		 ORDER BY row_number
		 LIMIT $2`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list row errors for run %s: %w", runID, err)
	}
	defer rows.Close()

	rowErrors := []domain.IngestionRowError{}
	for rows.Next() {
		var rowError domain.IngestionRowError
		if err := rows.Scan(&rowError.ID, &rowError.RunID, &rowError.RowNumber, &rowError.ErrorMessage, &rowError.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row error: %w", err)
		}
		rowErrors = append(rowErrors, rowError)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row errors for run %s: %w", runID, err)
	}
	return rowErrors, nil
}
