package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/registry"

	"github.com/jackc/pgx/v5"
)

const parameterColumns = "parameter_id, name, value, data_type, description, created_at"

// parameterRepository implements ParameterRepository over the
// process_parameters table and the per-kind link tables.
type parameterRepository struct {
	q   db.Querier
	reg *registry.Registry
}

// NewParameterRepository creates a new parameter repository.
func NewParameterRepository(conn *db.Connection, reg *registry.Registry) ParameterRepository {
	return &parameterRepository{q: conn.Pool, reg: reg}
}

func (r *parameterRepository) WithTx(tx pgx.Tx) ParameterRepository {
	return &parameterRepository{q: tx, reg: r.reg}
}

func (r *parameterRepository) CreateWithLink(ctx context.Context, ref domain.EntityRef, parameter domain.ProcessParameter) (domain.ProcessParameter, error) {
	d, err := r.reg.Descriptor(ref.Kind)
	if err != nil {
		return domain.ProcessParameter{}, err
	}
	if !parameter.DataType.Valid() {
		return domain.ProcessParameter{}, fmt.Errorf("invalid parameter data type %q", parameter.DataType)
	}

	insert := fmt.Sprintf(`INSERT INTO process_parameters (name, value, data_type, description)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, parameterColumns)
	created, err := scanParameter(r.q.QueryRow(ctx, insert,
		parameter.Name, parameter.Value, string(parameter.DataType), parameter.Description,
	))
	if err != nil {
		return domain.ProcessParameter{}, fmt.Errorf("failed to insert parameter %q: %w", parameter.Name, err)
	}

	link := fmt.Sprintf("INSERT INTO %s (parameter_id, %s) VALUES ($1, $2)", d.ParamLinkTable, d.IDColumn)
	if _, err := r.q.Exec(ctx, link, created.ID, ref.ID); err != nil {
		return domain.ProcessParameter{}, fmt.Errorf("failed to link parameter %d to %s: %w", created.ID, ref, err)
	}
	return created, nil
}

func (r *parameterRepository) GetByID(ctx context.Context, id int64) (domain.ProcessParameter, error) {
	sql := fmt.Sprintf("SELECT %s FROM process_parameters WHERE parameter_id = $1", parameterColumns)
	parameter, err := scanParameter(r.q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProcessParameter{}, fmt.Errorf("parameter %d %w", id, domain.ErrNotFound)
		}
		return domain.ProcessParameter{}, fmt.Errorf("failed to get parameter %d: %w", id, err)
	}
	return parameter, nil
}

func (r *parameterRepository) ListForEntity(ctx context.Context, ref domain.EntityRef) ([]domain.ProcessParameter, error) {
	d, err := r.reg.Descriptor(ref.Kind)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(
		`SELECT p.parameter_id, p.name, p.value, p.data_type, p.description, p.created_at
FROM process_parameters p
JOIN %s l ON l.parameter_id = p.parameter_id
WHERE l.%s = $1
ORDER BY p.parameter_id`,
		d.ParamLinkTable, d.IDColumn,
	)
	rows, err := r.q.Query(ctx, sql, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameters for %s: %w", ref, err)
	}
	defer rows.Close()

	parameters := []domain.ProcessParameter{}
	for rows.Next() {
		parameter, err := scanParameter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parameter: %w", err)
		}
		parameters = append(parameters, parameter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read parameters for %s: %w", ref, err)
	}
	return parameters, nil
}

func (r *parameterRepository) DeleteForEntities(ctx context.Context, kind domain.EntityKind, ids []int64) error {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	sql := fmt.Sprintf(
		"DELETE FROM process_parameters WHERE parameter_id IN (SELECT parameter_id FROM %s WHERE %s = ANY($1))",
		d.ParamLinkTable, d.IDColumn,
	)
	if _, err := r.q.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("failed to delete parameters for %s variants: %w", kind, err)
	}
	return nil
}

func scanParameter(row pgx.Row) (domain.ProcessParameter, error) {
	var (
		parameter domain.ProcessParameter
		dataType  string
	)
	err := row.Scan(
		&parameter.ID, &parameter.Name, &parameter.Value,
		&dataType, &parameter.Description, &parameter.CreatedAt,
	)
	if err != nil {
		return domain.ProcessParameter{}, err
	}
	parameter.DataType = domain.ParameterDataType(dataType)
	return parameter, nil
}
