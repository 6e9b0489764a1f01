package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionRun summarizes one bulk import of measurement rows.
type IngestionRun struct {
	ID          uuid.UUID  `json:"id"`
	EntityKind  EntityKind `json:"entity_kind"`
	FileName    string     `json:"file_name"`
	Format      string     `json:"format"`
	UserID      string     `json:"user_id"`
	TotalRows   int        `json:"total_rows"`
	CreatedRows int        `json:"created_rows"`
	UpdatedRows int        `json:"updated_rows"`
	SkippedRows int        `json:"skipped_rows"`
	FailedRows  int        `json:"failed_rows"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// IngestionRowError captures a row level issue that occurred during an
// ingestion run. Row errors never abort the run.
type IngestionRowError struct {
	ID           int64     `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	RowNumber    int       `json:"row_number"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}
