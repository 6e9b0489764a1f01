// Package process implements the registry of named, versioned
// algorithms and the parameters recorded when they run against a
// variant.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/repository"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Service manages the process registry.
type Service struct {
	runner     db.TxRunner
	processes  repository.ProcessRepository
	parameters repository.ParameterRepository
	variants   repository.VariantRepository
}

// NewService creates the process registry service.
func NewService(runner db.TxRunner, processes repository.ProcessRepository, parameters repository.ParameterRepository, variants repository.VariantRepository) *Service {
	return &Service{
		runner:     runner,
		processes:  processes,
		parameters: parameters,
		variants:   variants,
	}
}

// RegisterProcess registers a named, versioned algorithm. Registration
// is idempotent on (name, version): the same pair with the same metadata
// returns the existing row, differing metadata is a ProcessConflict.
func (s *Service) RegisterProcess(ctx context.Context, caller domain.CallerContext, process domain.Process) (domain.Process, error) {
	if !caller.Valid() {
		return domain.Process{}, fmt.Errorf("caller identity is required")
	}

	process.Name = strings.TrimSpace(process.Name)
	process.Version = strings.TrimSpace(process.Version)
	var errs []domain.FieldError
	if process.Name == "" {
		errs = append(errs, domain.FieldError{Field: "name", Message: "name is required"})
	}
	if process.Version == "" {
		errs = append(errs, domain.FieldError{Field: "version", Message: "version is required"})
	}
	if !process.Category.Valid() {
		errs = append(errs, domain.FieldError{Field: "category", Message: "must be one of detection|classification|simulation|analysis|aggregation"})
	}
	if len(errs) > 0 {
		return domain.Process{}, &domain.ValidationError{Fields: errs}
	}
	process.CreatedBy = caller.UserID

	created, wasCreated, err := s.processes.CreateIfAbsent(ctx, process)
	if err != nil {
		return domain.Process{}, err
	}
	if !wasCreated && !created.SameMetadata(process) {
		return domain.Process{}, fmt.Errorf("process %q version %q is already registered with different metadata: %w",
			process.Name, process.Version, domain.ErrProcessConflict)
	}
	if wasCreated {
		zap.S().Infof("process: user %s registered %q version %q as process %d",
			caller.UserID, created.Name, created.Version, created.ID)
	}
	return created, nil
}

// GetProcess returns one registered process.
func (s *Service) GetProcess(ctx context.Context, id int64) (domain.Process, error) {
	return s.processes.GetByID(ctx, id)
}

// ListProcesses returns a page of the registry.
func (s *Service) ListProcesses(ctx context.Context, limit, offset int) ([]domain.Process, error) {
	return s.processes.List(ctx, limit, offset)
}

// AttachParameter records one concrete run value against a variant. The
// parameter row and its link row are written atomically.
func (s *Service) AttachParameter(ctx context.Context, caller domain.CallerContext, ref domain.EntityRef, parameter domain.ProcessParameter) (domain.ProcessParameter, error) {
	if !caller.Valid() {
		return domain.ProcessParameter{}, fmt.Errorf("caller identity is required")
	}

	parameter.Name = strings.TrimSpace(parameter.Name)
	var errs []domain.FieldError
	if parameter.Name == "" {
		errs = append(errs, domain.FieldError{Field: "name", Message: "name is required"})
	}
	if !parameter.DataType.Valid() {
		errs = append(errs, domain.FieldError{Field: "data_type", Message: "must be one of float|int|string|boolean|json"})
	} else if err := checkParameterValue(parameter.DataType, parameter.Value); err != nil {
		errs = append(errs, domain.FieldError{Field: "value", Message: err.Error()})
	}
	if len(errs) > 0 {
		return domain.ProcessParameter{}, &domain.ValidationError{Fields: errs}
	}

	exists, err := s.variants.Exists(ctx, ref.Kind, ref.ID)
	if err != nil {
		return domain.ProcessParameter{}, err
	}
	if !exists {
		return domain.ProcessParameter{}, fmt.Errorf("%s %w", ref, domain.ErrNotFound)
	}

	var created domain.ProcessParameter
	err = s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := s.parameters.WithTx(tx).CreateWithLink(ctx, ref, parameter)
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return domain.ProcessParameter{}, err
	}
	return created, nil
}

// ListParameters returns the parameters attached to a variant.
func (s *Service) ListParameters(ctx context.Context, ref domain.EntityRef) ([]domain.ProcessParameter, error) {
	exists, err := s.variants.Exists(ctx, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s %w", ref, domain.ErrNotFound)
	}
	return s.parameters.ListForEntity(ctx, ref)
}

// checkParameterValue verifies the text value parses as its declared
// data type. Strings are always valid.
func checkParameterValue(dataType domain.ParameterDataType, value string) error {
	switch dataType {
	case domain.ParameterFloat:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return fmt.Errorf("value %q is not a float", value)
		}
	case domain.ParameterInt:
		if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
			return fmt.Errorf("value %q is not an integer", value)
		}
	case domain.ParameterBoolean:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("value %q is not a boolean", value)
		}
	case domain.ParameterJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("value is not valid JSON")
		}
	}
	return nil
}
