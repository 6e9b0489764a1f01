package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"

	"github.com/jackc/pgx/v5"
)

const processColumns = "process_id, name, algorithm, version, description, category, created_at, created_by"

// processRepository implements ProcessRepository over the processes table.
type processRepository struct {
	q db.Querier
}

// NewProcessRepository creates a new process repository.
func NewProcessRepository(conn *db.Connection) ProcessRepository {
	return &processRepository{q: conn.Pool}
}

func (r *processRepository) WithTx(tx pgx.Tx) ProcessRepository {
	return &processRepository{q: tx}
}

// CreateIfAbsent inserts the process and reports created=true, or leaves
// the existing (name, version) row untouched and returns it with
// created=false. The caller decides whether the existing row is an
// idempotent match or a conflict.
func (r *processRepository) CreateIfAbsent(ctx context.Context, process domain.Process) (domain.Process, bool, error) {
	insert := fmt.Sprintf(`INSERT INTO processes (name, algorithm, version, description, category, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, version) DO NOTHING
		RETURNING %s`, processColumns)

	created, err := scanProcess(r.q.QueryRow(ctx, insert,
		process.Name, process.Algorithm, process.Version,
		process.Description, string(process.Category), process.CreatedBy,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Process{}, false, fmt.Errorf("failed to insert process %q: %w", process.Name, err)
	}

	// DO NOTHING returned no row, so the pair already exists.
	existing, err := r.GetByNameVersion(ctx, process.Name, process.Version)
	if err != nil {
		return domain.Process{}, false, err
	}
	return existing, false, nil
}

func (r *processRepository) GetByID(ctx context.Context, id int64) (domain.Process, error) {
	sql := fmt.Sprintf("SELECT %s FROM processes WHERE process_id = $1", processColumns)
	process, err := scanProcess(r.q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Process{}, fmt.Errorf("process %d %w", id, domain.ErrNotFound)
		}
		return domain.Process{}, fmt.Errorf("failed to get process %d: %w", id, err)
	}
	return process, nil
}

func (r *processRepository) GetByNameVersion(ctx context.Context, name, version string) (domain.Process, error) {
	sql := fmt.Sprintf("SELECT %s FROM processes WHERE name = $1 AND version = $2", processColumns)
	process, err := scanProcess(r.q.QueryRow(ctx, sql, name, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Process{}, fmt.Errorf("process %q version %q %w", name, version, domain.ErrNotFound)
		}
		return domain.Process{}, fmt.Errorf("failed to get process %q version %q: %w", name, version, err)
	}
	return process, nil
}

func (r *processRepository) List(ctx context.Context, limit, offset int) ([]domain.Process, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	sql := fmt.Sprintf("SELECT %s FROM processes ORDER BY process_id LIMIT $1 OFFSET $2", processColumns)
	rows, err := r.q.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()
	return collectProcesses(rows)
}

func scanProcess(row pgx.Row) (domain.Process, error) {
	var (
		process  domain.Process
		category string
	)
	err := row.Scan(
		&process.ID, &process.Name, &process.Algorithm, &process.Version,
		&process.Description, &category, &process.CreatedAt, &process.CreatedBy,
	)
	if err != nil {
		return domain.Process{}, err
	}
	process.Category = domain.ProcessCategory(category)
	return process, nil
}

func collectProcesses(rows pgx.Rows) ([]domain.Process, error) {
	processes := []domain.Process{}
	for rows.Next() {
		process, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		processes = append(processes, process)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read processes: %w", err)
	}
	return processes, nil
}
