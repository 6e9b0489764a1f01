package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/lineage"
	"github.com/m-sperlich/digital-twin-db/internal/mutation"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository/repositorytest"

	"github.com/xuri/excelize/v2"
)

type serviceFixture struct {
	service  *Service
	variants *repositorytest.VariantStore
	audits   *repositorytest.AuditStore
	logs     *repositorytest.IngestionLogStore
}

func newTestService(maxRows int) serviceFixture {
	variants := repositorytest.NewVariantStore()
	audits := repositorytest.NewAuditStore()
	logs := repositorytest.NewIngestionLogStore()
	reg := registry.Default()
	auditSvc := audit.NewService(audits, variants, 0, 0)
	manager := lineage.NewManager(
		repositorytest.Runner{},
		variants,
		auditSvc,
		repositorytest.NewProcessStore(),
		repositorytest.NewParameterStore(),
		repositorytest.ReferenceStore{},
		reg,
		0,
	)
	interceptor := mutation.NewInterceptor(repositorytest.Runner{}, variants, auditSvc, reg, false)
	return serviceFixture{
		service:  NewService(manager, interceptor, logs, reg, maxRows),
		variants: variants,
		audits:   audits,
		logs:     logs,
	}
}

var caller = domain.CallerContext{UserID: "alice", ClientInfo: "field-app"}

func seedTree(t *testing.T, variants *repositorytest.VariantStore, fields map[string]any) domain.Variant {
	t.Helper()
	created, err := variants.Create(context.Background(), domain.Variant{
		Kind:          domain.KindTrees,
		VariantTypeID: domain.VariantTypeOriginal,
		Fields:        fields,
		CreatedBy:     "alice",
	})
	if err != nil {
		t.Fatalf("seed tree: %v", err)
	}
	return created
}

func TestIngestCreatesRootVariants(t *testing.T) {
	f := newTestService(0)

	data := "plot_code,height_m,processing_status\nA-12,24.7,raw\nA-13,26.1,raw\n"
	summary, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "trees.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if summary.TotalRows != 2 || summary.CreatedRows != 2 || summary.FailedRows != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	first, err := f.variants.GetByID(context.Background(), domain.KindTrees, 1)
	if err != nil {
		t.Fatalf("created variant missing: %v", err)
	}
	if first.VariantTypeID != domain.VariantTypeUserInput {
		t.Errorf("variant type = %d, want user_input", first.VariantTypeID)
	}
	if first.Fields["height_m"] != 24.7 {
		t.Errorf("height_m = %v, want 24.7", first.Fields["height_m"])
	}
	if first.CreatedBy != "alice" {
		t.Errorf("created by = %q, want alice", first.CreatedBy)
	}

	run, err := f.logs.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("run row missing: %v", err)
	}
	if run.CreatedRows != 2 || run.TotalRows != 2 {
		t.Errorf("run counts not persisted: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Errorf("run was never finalized")
	}
	if got := f.audits.Count(); got != 2 {
		t.Errorf("audit records = %d, want 2 insert records", got)
	}
}

func TestIngestUpdatesExistingByID(t *testing.T) {
	f := newTestService(0)
	seedTree(t, f.variants, map[string]any{"height_m": 24.7, "plot_code": "A-12"})

	data := "tree_id,height_m\n1,25.4\n"
	summary, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "remeasure.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if summary.UpdatedRows != 1 || summary.CreatedRows != 0 || summary.FailedRows != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	updated, err := f.variants.GetByID(context.Background(), domain.KindTrees, 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if updated.Fields["height_m"] != 25.4 {
		t.Errorf("height_m = %v, want 25.4", updated.Fields["height_m"])
	}

	history, err := f.audits.History(context.Background(), domain.KindTrees, 1, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].ChangeType != domain.ChangeTypeBulkUpdate {
		t.Errorf("change type = %q, want bulk_update", history[0].ChangeType)
	}
}

func TestIngestSkipsUnchangedRows(t *testing.T) {
	f := newTestService(0)
	seedTree(t, f.variants, map[string]any{"height_m": 24.7})

	data := "id,height_m\n1,24.7\n"
	summary, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "remeasure.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if summary.SkippedRows != 1 || summary.UpdatedRows != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	current, err := f.variants.GetByID(context.Background(), domain.KindTrees, 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if current.Version != 1 {
		t.Errorf("version = %d, want 1 after noop", current.Version)
	}
	if got := f.audits.Count(); got != 0 {
		t.Errorf("audit records = %d, want 0", got)
	}
}

func TestIngestLogsRowErrorsAndContinues(t *testing.T) {
	f := newTestService(0)

	data := strings.Join([]string{
		"id,plot_code,height_m",
		",A-20,24.0",
		",A-21,9000",
		"oak,A-22,25.0",
		",A-23,26.0",
	}, "\n")
	summary, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "survey.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if summary.TotalRows != 4 || summary.CreatedRows != 2 || summary.FailedRows != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rowErrors, err := f.logs.ListRowErrors(context.Background(), summary.RunID, 0)
	if err != nil {
		t.Fatalf("ListRowErrors failed: %v", err)
	}
	if len(rowErrors) != 2 {
		t.Fatalf("row errors = %d, want 2", len(rowErrors))
	}
	if rowErrors[0].RowNumber != 3 || !strings.Contains(rowErrors[0].ErrorMessage, "height_m") {
		t.Errorf("first row error = %+v, want height_m failure on row 3", rowErrors[0])
	}
	if rowErrors[1].RowNumber != 4 || !strings.Contains(rowErrors[1].ErrorMessage, "tree_id") {
		t.Errorf("second row error = %+v, want tree_id failure on row 4", rowErrors[1])
	}

	run, err := f.logs.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("run row missing: %v", err)
	}
	if run.FailedRows != 2 {
		t.Errorf("run failed rows = %d, want 2", run.FailedRows)
	}
}

func TestIngestReadsXLSX(t *testing.T) {
	f := newTestService(0)

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	if err := book.SetSheetRow(sheet, "A1", &[]any{"station_code", "measured_at", "temperature_c"}); err != nil {
		t.Fatalf("SetSheetRow failed: %v", err)
	}
	if err := book.SetSheetRow(sheet, "A2", &[]any{"WS-4", "2026-03-01 14:30:00", 7.4}); err != nil {
		t.Fatalf("SetSheetRow failed: %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer failed: %v", err)
	}

	summary, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindEnvironments,
		FileName: "weather.xlsx",
		Data:     buf,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if summary.CreatedRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	created, err := f.variants.GetByID(context.Background(), domain.KindEnvironments, 1)
	if err != nil {
		t.Fatalf("created variant missing: %v", err)
	}
	ts, ok := created.Fields["measured_at"].(time.Time)
	if !ok {
		t.Fatalf("measured_at = %T, want time.Time", created.Fields["measured_at"])
	}
	want := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("measured_at = %v, want %v", ts, want)
	}
	if created.Fields["temperature_c"] != 7.4 {
		t.Errorf("temperature_c = %v, want 7.4", created.Fields["temperature_c"])
	}
}

func TestIngestNormalizesHeadersAndBOM(t *testing.T) {
	f := newTestService(0)

	data := "\xEF\xBB\xBFPlot Code,Height-M\nB-2,18.3\n"
	summary, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "export.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if summary.CreatedRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	created, err := f.variants.GetByID(context.Background(), domain.KindTrees, 1)
	if err != nil {
		t.Fatalf("created variant missing: %v", err)
	}
	if created.Fields["plot_code"] != "B-2" {
		t.Errorf("plot_code = %v, want B-2", created.Fields["plot_code"])
	}
	if created.Fields["height_m"] != 18.3 {
		t.Errorf("height_m = %v, want 18.3", created.Fields["height_m"])
	}
}

func TestIngestRejectsUnknownExtension(t *testing.T) {
	f := newTestService(0)

	_, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "trees.txt",
		Data:     strings.NewReader("plot_code\nA-1\n"),
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestIngestEnforcesRowLimit(t *testing.T) {
	f := newTestService(2)

	data := "plot_code\nA-1\nA-2\nA-3\n"
	_, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "big.csv",
		Data:     strings.NewReader(data),
	})
	if !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("err = %v, want ErrTooManyRows", err)
	}
	if got := f.audits.Count(); got != 0 {
		t.Errorf("audit records = %d, want 0 after rejected file", got)
	}
}

func TestIngestRequiresMatchingColumns(t *testing.T) {
	f := newTestService(0)

	_, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.KindTrees,
		FileName: "other.csv",
		Data:     strings.NewReader("girth,bark\n1,2\n"),
	})
	if err == nil || !strings.Contains(err.Error(), "no trees columns") {
		t.Fatalf("err = %v, want missing-columns failure", err)
	}
}

func TestIngestRequiresCaller(t *testing.T) {
	f := newTestService(0)

	_, err := f.service.Ingest(context.Background(), Request{
		Kind:     domain.KindTrees,
		FileName: "trees.csv",
		Data:     strings.NewReader("plot_code\nA-1\n"),
	})
	if err == nil || !strings.Contains(err.Error(), "caller") {
		t.Fatalf("err = %v, want caller failure", err)
	}
}

func TestIngestUnknownKind(t *testing.T) {
	f := newTestService(0)

	_, err := f.service.Ingest(context.Background(), Request{
		Caller:   caller,
		Kind:     domain.EntityKind("meadows"),
		FileName: "meadows.csv",
		Data:     strings.NewReader("plot_code\nA-1\n"),
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
