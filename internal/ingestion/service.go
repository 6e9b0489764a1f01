// Package ingestion bulk-imports measurement rows from CSV or XLSX
// uploads. Columns are bound to the kind's registered fields by header
// name; rows carrying an id become bulk_update mutations through the
// interceptor, rows without become new root variants. Row-level
// failures are logged against the run and never abort it.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/lineage"
	"github.com/m-sperlich/digital-twin-db/internal/metrics"
	"github.com/m-sperlich/digital-twin-db/internal/mutation"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"
	"github.com/m-sperlich/digital-twin-db/pkg/validator"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not
	// .csv or .xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrTooManyRows rejects a file ahead of any row processing.
	ErrTooManyRows = errors.New("file exceeds the row limit")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006/01/02",
		"01/02/2006",
	}
)

// DefaultMaxRows bounds one upload when no limit is configured.
const DefaultMaxRows = 50000

// Per-run row errors are capped so a completely broken file cannot
// flood the ingestion log.
const maxLoggedRowErrors = 100

// Service turns uploaded measurement tables into variants and
// mutations.
type Service struct {
	lineage   *lineage.Manager
	mutations *mutation.Interceptor
	logs      repository.IngestionLogRepository
	reg       *registry.Registry
	maxRows   int
}

// NewService creates the ingestion service. maxRows <= 0 selects
// DefaultMaxRows.
func NewService(
	lineage *lineage.Manager,
	mutations *mutation.Interceptor,
	logs repository.IngestionLogRepository,
	reg *registry.Registry,
	maxRows int,
) *Service {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Service{
		lineage:   lineage,
		mutations: mutations,
		logs:      logs,
		reg:       reg,
		maxRows:   maxRows,
	}
}

// Request describes one upload.
type Request struct {
	Caller   domain.CallerContext
	Kind     domain.EntityKind
	FileName string
	Data     io.Reader
}

// Summary reports what one run did, mirroring the persisted run row.
type Summary struct {
	RunID       uuid.UUID         `json:"run_id"`
	Kind        domain.EntityKind `json:"kind"`
	TotalRows   int               `json:"total_rows"`
	CreatedRows int               `json:"created_rows"`
	UpdatedRows int               `json:"updated_rows"`
	SkippedRows int               `json:"skipped_rows"`
	FailedRows  int               `json:"failed_rows"`
}

type tableData struct {
	headers []string
	rows    [][]string
}

// columnBinding ties one table column to a registered field spec.
type columnBinding struct {
	index int
	spec  validator.FieldSpec
}

// Ingest parses the upload and applies it row by row. Rows with an id
// value update that variant (bulk_update); rows without create root
// variants typed user_input. The run row records the counts; row errors
// are logged up to a cap.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	d, err := s.reg.Descriptor(req.Kind)
	if err != nil {
		return Summary{}, err
	}
	if !req.Caller.Valid() {
		return Summary{}, fmt.Errorf("caller identity is required")
	}
	if req.Data == nil {
		return Summary{}, fmt.Errorf("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return Summary{}, fmt.Errorf("file is empty")
	}

	format, table, err := parseTable(req.FileName, payload)
	if err != nil {
		return Summary{}, err
	}
	if len(table.rows) > s.maxRows {
		return Summary{}, fmt.Errorf("%d rows exceed the limit of %d: %w",
			len(table.rows), s.maxRows, ErrTooManyRows)
	}

	idColumn := -1
	bindings := make([]columnBinding, 0, len(table.headers))
	for i, header := range table.headers {
		if header == "id" || header == d.IDColumn {
			idColumn = i
			continue
		}
		if spec, ok := d.FieldSpec(header); ok {
			bindings = append(bindings, columnBinding{index: i, spec: spec})
		}
		// Unknown columns are common in files exported from other
		// tools; they are ignored rather than failing the upload.
	}
	if idColumn == -1 && len(bindings) == 0 {
		return Summary{}, fmt.Errorf("no %s columns found in header row", req.Kind)
	}

	run := domain.IngestionRun{
		ID:         uuid.New(),
		EntityKind: req.Kind,
		FileName:   req.FileName,
		Format:     format,
		UserID:     req.Caller.UserID,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.logs.CreateRun(ctx, run); err != nil {
		return Summary{}, fmt.Errorf("failed to start ingestion run: %w", err)
	}

	caller := req.Caller
	if caller.ClientInfo == "" {
		caller.ClientInfo = "ingest run " + run.ID.String()
	}

	summary := Summary{RunID: run.ID, Kind: req.Kind, TotalRows: len(table.rows)}
	loggedErrors := 0
	for i, row := range table.rows {
		rowNumber := i + 2 // 1-based, header is row 1

		outcome, rowErr := s.ingestRow(ctx, caller, req.Kind, d, idColumn, bindings, row)
		if rowErr != nil {
			outcome = "failed"
			summary.FailedRows++
			if loggedErrors < maxLoggedRowErrors {
				s.logRowError(ctx, run.ID, rowNumber, rowErr)
				loggedErrors++
			}
		} else {
			switch outcome {
			case "created":
				summary.CreatedRows++
			case "updated":
				summary.UpdatedRows++
			case "skipped":
				summary.SkippedRows++
			}
		}
		metrics.IngestRows.WithLabelValues(string(req.Kind), outcome).Inc()
	}

	run.TotalRows = summary.TotalRows
	run.CreatedRows = summary.CreatedRows
	run.UpdatedRows = summary.UpdatedRows
	run.SkippedRows = summary.SkippedRows
	run.FailedRows = summary.FailedRows
	if err := s.logs.FinishRun(ctx, run); err != nil {
		zap.S().Errorf("ingestion: failed to finalize run %s: %v", run.ID, err)
	}

	zap.S().Infof("ingestion: run %s imported %q into %s: %d rows (%d created, %d updated, %d skipped, %d failed)",
		run.ID, req.FileName, req.Kind, summary.TotalRows,
		summary.CreatedRows, summary.UpdatedRows, summary.SkippedRows, summary.FailedRows)
	return summary, nil
}

// ListRowErrors returns a run's logged row errors.
func (s *Service) ListRowErrors(ctx context.Context, runID uuid.UUID, limit int) ([]domain.IngestionRowError, error) {
	if _, err := s.logs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.logs.ListRowErrors(ctx, runID, limit)
}

func (s *Service) ingestRow(
	ctx context.Context,
	caller domain.CallerContext,
	kind domain.EntityKind,
	d registry.Descriptor,
	idColumn int,
	bindings []columnBinding,
	row []string,
) (string, error) {
	fields, err := bindRow(bindings, row)
	if err != nil {
		return "", err
	}

	rawID := ""
	if idColumn >= 0 && idColumn < len(row) {
		rawID = strings.TrimSpace(row[idColumn])
	}
	if rawID == "" {
		if len(fields) == 0 {
			return "", fmt.Errorf("row has no usable values")
		}
		if _, err := s.lineage.CreateRoot(ctx, caller, kind, fields, domain.VariantTypeUserInput); err != nil {
			return "", err
		}
		return "created", nil
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q", d.IDColumn, rawID)
	}
	result, err := s.mutations.Apply(ctx, mutation.Request{
		Caller:     caller,
		Kind:       kind,
		EntityID:   id,
		Updates:    fields,
		ChangeType: domain.ChangeTypeBulkUpdate,
	})
	if err != nil {
		return "", err
	}
	if result.Noop {
		return "skipped", nil
	}
	return "updated", nil
}

// bindRow turns one table row into an update map keyed by field name.
// Empty cells are absent, not null: a bulk update never clears fields.
func bindRow(bindings []columnBinding, row []string) (map[string]any, error) {
	fields := make(map[string]any, len(bindings))
	for _, b := range bindings {
		if b.index >= len(row) {
			continue
		}
		raw := strings.TrimSpace(row[b.index])
		if raw == "" {
			continue
		}
		value, err := coerceCell(b.spec, raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", b.spec.Name, err)
		}
		fields[b.spec.Name] = value
	}
	return fields, nil
}

// coerceCell pre-parses the cell encodings the validators don't accept:
// spreadsheet timestamp layouts and yes/no booleans. Numbers and enums
// stay raw strings; the engines normalize those.
func coerceCell(spec validator.FieldSpec, raw string) (any, error) {
	switch spec.Type {
	case domain.FieldTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case domain.FieldBoolean:
		switch strings.ToLower(raw) {
		case "yes", "y":
			return true, nil
		case "no", "n":
			return false, nil
		}
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("unable to read %q as boolean", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (s *Service) logRowError(ctx context.Context, runID uuid.UUID, rowNumber int, rowErr error) {
	err := s.logs.AddRowError(ctx, domain.IngestionRowError{
		RunID:        runID,
		RowNumber:    rowNumber,
		ErrorMessage: rowErr.Error(),
	})
	if err != nil {
		zap.S().Errorf("ingestion: failed to log row %d error for run %s: %v", rowNumber, runID, err)
	}
}

func parseTable(fileName string, payload []byte) (string, tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		table, err := parseCSV(payload)
		return "csv", table, err
	case ".xlsx":
		table, err := parseExcel(payload)
		return "xlsx", table, err
	default:
		return "", tableData{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty row as the header, pads the
// data rows to the header width and drops fully empty rows.
func normalizeTable(records [][]string) (tableData, error) {
	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if rowEmpty(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, padRow(row, len(headerRow)))
	}
	if headerRow == nil {
		return tableData{}, errors.New("no header row detected")
	}

	return tableData{
		headers: sanitizeHeaders(headerRow),
		rows:    dataRows,
	}, nil
}

// sanitizeHeaders maps spreadsheet labels onto field names: lower case,
// separators collapsed to underscores ("Height (m)" stays unknown but
// "Height_M" binds to height_m).
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		headers[i] = name
	}
	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
