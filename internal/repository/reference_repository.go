package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"

	"github.com/jackc/pgx/v5"
)

// referenceRepository implements ReferenceRepository over the seeded
// variant_types and species tables.
type referenceRepository struct {
	q db.Querier
}

// NewReferenceRepository creates a new reference data repository.
func NewReferenceRepository(conn *db.Connection) ReferenceRepository {
	return &referenceRepository{q: conn.Pool}
}

func (r *referenceRepository) ListVariantTypes(ctx context.Context) ([]domain.VariantType, error) {
	rows, err := r.q.Query(ctx, "SELECT variant_type_id, name, description FROM variant_types ORDER BY variant_type_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list variant types: %w", err)
	}
	defer rows.Close()

	types := []domain.VariantType{}
	for rows.Next() {
		var vt domain.VariantType
		if err := rows.Scan(&vt.ID, &vt.Name, &vt.Description); err != nil {
			return nil, fmt.Errorf("failed to scan variant type: %w", err)
		}
		types = append(types, vt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read variant types: %w", err)
	}
	return types, nil
}

func (r *referenceRepository) GetVariantType(ctx context.Context, id int32) (domain.VariantType, error) {
	var vt domain.VariantType
	err := r.q.QueryRow(ctx,
		"SELECT variant_type_id, name, description FROM variant_types WHERE variant_type_id = $1", id,
	).Scan(&vt.ID, &vt.Name, &vt.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VariantType{}, fmt.Errorf("variant type %d %w", id, domain.ErrNotFound)
		}
		return domain.VariantType{}, fmt.Errorf("failed to get variant type %d: %w", id, err)
	}
	return vt, nil
}

func (r *referenceRepository) ListSpecies(ctx context.Context) ([]domain.Species, error) {
	rows, err := r.q.Query(ctx, "SELECT species_id, scientific_name, common_name FROM species ORDER BY species_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list species: %w", err)
	}
	defer rows.Close()

	species := []domain.Species{}
	for rows.Next() {
		var s domain.Species
		if err := rows.Scan(&s.ID, &s.ScientificName, &s.CommonName); err != nil {
			return nil, fmt.Errorf("failed to scan species: %w", err)
		}
		species = append(species, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read species: %w", err)
	}
	return species, nil
}

func (r *referenceRepository) GetSpecies(ctx context.Context, id int32) (domain.Species, error) {
	var s domain.Species
	err := r.q.QueryRow(ctx,
		"SELECT species_id, scientific_name, common_name FROM species WHERE species_id = $1", id,
	).Scan(&s.ID, &s.ScientificName, &s.CommonName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Species{}, fmt.Errorf("species %d %w", id, domain.ErrNotFound)
		}
		return domain.Species{}, fmt.Errorf("failed to get species %d: %w", id, err)
	}
	return s, nil
}
