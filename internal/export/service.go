// Package export renders audit trails as downloadable CSV or XLSX
// files. Exports are written straight to the response; the audit
// service's paging limits bound the result size.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/domain"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ErrUnknownFormat is returned for formats other than csv and xlsx.
var ErrUnknownFormat = errors.New("unknown export format")

// Format selects the file type of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat reads a format query value. Empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// ContentType returns the MIME type to serve the export under.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	if f == FormatXLSX {
		return ".xlsx"
	}
	return ".csv"
}

var auditColumns = []string{
	"audit_id",
	"entity_kind",
	"entity_id",
	"field_name",
	"old_value",
	"new_value",
	"change_type",
	"change_reason",
	"user_id",
	"client_info",
	"changed_at",
}

// Service streams audit records into tabular files.
type Service struct {
	audits *audit.Service
}

// NewService creates the export service.
func NewService(audits *audit.Service) *Service {
	return &Service{audits: audits}
}

// WriteHistory renders one variant's audit history, newest first, and
// returns the number of data rows written.
func (s *Service) WriteHistory(ctx context.Context, w io.Writer, format Format, kind domain.EntityKind, entityID int64, limit int) (int, error) {
	records, err := s.audits.History(ctx, kind, entityID, limit)
	if err != nil {
		return 0, err
	}
	rows, err := writeRecords(w, format, records)
	if err != nil {
		return 0, err
	}
	zap.S().Infof("export: wrote %d history rows for %s/%d as %s", rows, kind, entityID, format)
	return rows, nil
}

// WriteRecentChanges renders the cross-kind change feed.
func (s *Service) WriteRecentChanges(ctx context.Context, w io.Writer, format Format, limit, offset int) (int, error) {
	records, err := s.audits.RecentChanges(ctx, limit, offset)
	if err != nil {
		return 0, err
	}
	rows, err := writeRecords(w, format, records)
	if err != nil {
		return 0, err
	}
	zap.S().Infof("export: wrote %d recent-change rows as %s", rows, format)
	return rows, nil
}

// FileName builds a download file name from path components, for
// Content-Disposition headers. Components are sanitized individually.
func FileName(format Format, parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if c := sanitizeFileComponent(part); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, "export")
	}
	return strings.Join(cleaned, "-") + format.Extension()
}

func writeRecords(w io.Writer, format Format, records []domain.AuditRecord) (int, error) {
	switch format {
	case FormatCSV:
		return writeCSV(w, records)
	case FormatXLSX:
		return writeXLSX(w, records)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeCSV(w io.Writer, records []domain.AuditRecord) (int, error) {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(auditColumns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, record := range records {
		if err := csvWriter.Write(auditRow(record)); err != nil {
			return 0, fmt.Errorf("write audit row %d: %w", record.AuditID, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return 0, fmt.Errorf("flush rows: %w", err)
	}
	return len(records), nil
}

func writeXLSX(w io.Writer, records []domain.AuditRecord) (int, error) {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	stream, err := book.NewStreamWriter(book.GetSheetName(0))
	if err != nil {
		return 0, fmt.Errorf("open stream writer: %w", err)
	}
	if err := stream.SetRow("A1", toCells(auditColumns)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := stream.SetRow(cell, toCells(auditRow(record))); err != nil {
			return 0, fmt.Errorf("write audit row %d: %w", record.AuditID, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return 0, fmt.Errorf("flush stream: %w", err)
	}
	if err := book.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(records), nil
}

func auditRow(record domain.AuditRecord) []string {
	kind, id := "", ""
	if record.Entity != nil {
		kind = string(record.Entity.Kind)
		id = strconv.FormatInt(record.Entity.ID, 10)
	}
	return []string{
		strconv.FormatInt(record.AuditID, 10),
		kind,
		id,
		record.FieldName,
		optional(record.OldValue),
		optional(record.NewValue),
		string(record.ChangeType),
		optional(record.ChangeReason),
		record.UserID,
		optional(record.ClientInfo),
		record.ChangedAt.UTC().Format(time.RFC3339),
	}
}

func optional(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func toCells(row []string) []any {
	cells := make([]any, len(row))
	for i, value := range row {
		cells[i] = value
	}
	return cells
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}
