package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository/repositorytest"
)

func newTestInterceptor(ownerOnly bool) (*Interceptor, *repositorytest.VariantStore, *repositorytest.AuditStore) {
	variants := repositorytest.NewVariantStore()
	audits := repositorytest.NewAuditStore()
	service := audit.NewService(audits, variants, 0, 0)
	interceptor := NewInterceptor(repositorytest.Runner{}, variants, service, registry.Default(), ownerOnly)
	return interceptor, variants, audits
}

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

func strPtr(s string) *string { return &s }

func TestApplyRecordsTrackedFieldChange(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7, "plot_code": "A-12"})
	caller := domain.CallerContext{UserID: "bob", ClientInfo: "go-test"}

	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 24.9}, strPtr("remeasured after storm"))
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}

	if result.Variant.Version != 2 {
		t.Errorf("version = %d, want 2", result.Variant.Version)
	}
	if got := result.Variant.Fields["height_m"]; got != 24.9 {
		t.Errorf("height_m = %v, want 24.9", got)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(result.Records))
	}

	record := result.Records[0]
	if record.FieldName != "height_m" {
		t.Errorf("field name = %q, want height_m", record.FieldName)
	}
	if record.OldValue == nil || *record.OldValue != "24.7" {
		t.Errorf("old value = %v, want 24.7", record.OldValue)
	}
	if record.NewValue == nil || *record.NewValue != "24.9" {
		t.Errorf("new value = %v, want 24.9", record.NewValue)
	}
	if record.ChangeType != domain.ChangeTypeFieldUpdate {
		t.Errorf("change type = %q, want %q", record.ChangeType, domain.ChangeTypeFieldUpdate)
	}
	if record.UserID != "bob" {
		t.Errorf("user id = %q, want bob", record.UserID)
	}
	if record.ChangeReason == nil || *record.ChangeReason != "remeasured after storm" {
		t.Errorf("change reason = %v, want remeasured after storm", record.ChangeReason)
	}
	if record.ClientInfo == nil || *record.ClientInfo != "go-test" {
		t.Errorf("client info = %v, want go-test", record.ClientInfo)
	}
}

func TestApplyOrdersRecordsByDescriptor(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{
		"height_m":          20.0,
		"processing_status": "raw",
	})
	caller := domain.CallerContext{UserID: "bob"}

	// Map iteration order must not leak into the audit trail: records
	// follow the descriptor's field order.
	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"processing_status": "processed", "height_m": 21.5}, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("got %d audit records, want 2", len(result.Records))
	}
	if result.Records[0].FieldName != "height_m" || result.Records[1].FieldName != "processing_status" {
		t.Errorf("record order = [%s %s], want [height_m processing_status]",
			result.Records[0].FieldName, result.Records[1].FieldName)
	}
}

func TestApplySuppressesNoop(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 24.7}, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if !result.Noop {
		t.Error("result not flagged as no-op")
	}
	if len(result.Records) != 0 {
		t.Errorf("got %d audit records, want 0", len(result.Records))
	}
	if result.Variant.Version != 1 {
		t.Errorf("version = %d, want 1 (no write on no-op)", result.Variant.Version)
	}
	if audits.Count() != 0 {
		t.Errorf("audit store holds %d records, want 0", audits.Count())
	}
}

func TestApplyUntrackedChangeLeavesNoRecords(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"plot_code": "A-12", "height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"plot_code": "B-07"}, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if result.Variant.Version != 2 {
		t.Errorf("version = %d, want 2 (untracked change still writes)", result.Variant.Version)
	}
	if got := result.Variant.Fields["plot_code"]; got != "B-07" {
		t.Errorf("plot_code = %v, want B-07", got)
	}
	if result.Noop {
		t.Error("untracked change flagged as no-op")
	}
	if len(result.Records) != 0 || audits.Count() != 0 {
		t.Errorf("untracked change produced audit records: result=%d store=%d",
			len(result.Records), audits.Count())
	}
}

func TestApplyNullToValueDiff(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"health_score": 91.5}, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(result.Records))
	}
	record := result.Records[0]
	if record.OldValue != nil {
		t.Errorf("old value = %q, want nil", *record.OldValue)
	}
	if record.NewValue == nil || *record.NewValue != "91.5" {
		t.Errorf("new value = %v, want 91.5", record.NewValue)
	}
}

func TestApplyValueToNullDiff(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"health_score": 91.5})
	caller := domain.CallerContext{UserID: "bob"}

	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"health_score": nil}, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(result.Records))
	}
	record := result.Records[0]
	if record.OldValue == nil || *record.OldValue != "91.5" {
		t.Errorf("old value = %v, want 91.5", record.OldValue)
	}
	if record.NewValue != nil {
		t.Errorf("new value = %q, want nil", *record.NewValue)
	}
	if _, ok := result.Variant.Field("health_score"); ok {
		t.Errorf("health_score still present after null update")
	}
}

func TestApplyCoercesStringNumbers(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	// String encodings arrive from CSV ingest and from reverts replaying
	// canonical audit values.
	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": "25.3"}, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if got := result.Variant.Fields["height_m"]; got != 25.3 {
		t.Errorf("height_m = %v (%T), want float64 25.3", got, got)
	}
	if record := result.Records[0]; record.NewValue == nil || *record.NewValue != "25.3" {
		t.Errorf("new value = %v, want 25.3", record.NewValue)
	}
}

func TestApplyRejectsUnknownField(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"girth": 1.0}, nil)
	if _, ok := domain.AsValidationError(err); !ok {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if audits.Count() != 0 {
		t.Errorf("rejected update left %d audit records", audits.Count())
	}
}

func TestApplyRejectsOutOfRange(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 9000.0}, nil)
	vErr, ok := domain.AsValidationError(err)
	if !ok {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0].Field != "height_m" {
		t.Errorf("validation fields = %+v, want one entry for height_m", vErr.Fields)
	}

	current, err := variants.GetByID(context.Background(), domain.KindTrees, tree.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if current.Version != 1 {
		t.Errorf("version = %d, want 1 (rejected update must not write)", current.Version)
	}
}

func TestApplyRequiresCaller(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})

	_, err := interceptor.ApplyMutation(context.Background(), domain.CallerContext{}, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 25.0}, nil)
	if err == nil {
		t.Fatal("expected error for missing caller identity")
	}
}

func TestApplyRejectsInvalidChangeType(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})

	_, err := interceptor.Apply(context.Background(), Request{
		Caller:     domain.CallerContext{UserID: "bob"},
		Kind:       domain.KindTrees,
		EntityID:   tree.ID,
		Updates:    map[string]any{"height_m": 25.0},
		ChangeType: domain.ChangeType("merge"),
	})
	if err == nil {
		t.Fatal("expected error for invalid change type")
	}
}

func TestApplyEmptyUpdatesReturnsCurrent(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	caller := domain.CallerContext{UserID: "bob"}

	result, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID, nil, nil)
	if err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if result.Variant.ID != tree.ID || result.Variant.Version != 1 {
		t.Errorf("got variant %d v%d, want %d v1", result.Variant.ID, result.Variant.Version, tree.ID)
	}
	if !result.Noop {
		t.Error("result not flagged as no-op")
	}
	if len(result.Records) != 0 || audits.Count() != 0 {
		t.Errorf("empty update produced audit records")
	}
}

func TestApplyMissingVariant(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(false)
	caller := domain.CallerContext{UserID: "bob"}

	_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, 404,
		map[string]any{"height_m": 25.0}, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestApplyRowLockContention(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	variants.LockBusy = true
	caller := domain.CallerContext{UserID: "bob"}

	_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 25.0}, nil)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("got %v, want ErrConcurrentModification", err)
	}
	if audits.Count() != 0 {
		t.Errorf("contended update left %d audit records", audits.Count())
	}
}

func TestApplyFailedUpdateLeavesNoAuditRows(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	variants.UpdateErr = fmt.Errorf("write failed")
	caller := domain.CallerContext{UserID: "bob"}

	_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 25.0}, nil)
	if err == nil {
		t.Fatal("expected error from failing update")
	}
	if audits.Count() != 0 {
		t.Errorf("failed update left %d audit records", audits.Count())
	}
}

func TestApplyAuditFailureAborts(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})
	audits.InsertErr = fmt.Errorf("audit write failed")
	caller := domain.CallerContext{UserID: "bob"}

	_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
		map[string]any{"height_m": 25.0}, nil)
	if err == nil {
		t.Fatal("expected error from failing audit insert")
	}
}

func TestApplyOwnershipPolicy(t *testing.T) {
	interceptor, variants, _ := newTestInterceptor(true)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7}) // created by alice

	_, err := interceptor.ApplyMutation(context.Background(), domain.CallerContext{UserID: "bob"},
		domain.KindTrees, tree.ID, map[string]any{"height_m": 25.0}, nil)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}

	result, err := interceptor.ApplyMutation(context.Background(), domain.CallerContext{UserID: "alice"},
		domain.KindTrees, tree.ID, map[string]any{"height_m": 25.0}, nil)
	if err != nil {
		t.Fatalf("owner update failed: %v", err)
	}
	if result.Variant.Version != 2 {
		t.Errorf("version = %d, want 2", result.Variant.Version)
	}
}

func TestApplyConcurrentMutations(t *testing.T) {
	interceptor, variants, audits := newTestInterceptor(false)
	tree := seedTree(t, variants, map[string]any{"height_m": 24.7})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			caller := domain.CallerContext{UserID: fmt.Sprintf("user-%d", w)}
			_, err := interceptor.ApplyMutation(context.Background(), caller, domain.KindTrees, tree.ID,
				map[string]any{"height_m": 30.0 + float64(w)}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrConcurrentModification):
				conflicts++
			default:
				t.Errorf("worker %d: unexpected error %v", w, err)
			}
		}(w)
	}
	wg.Wait()

	if applied+conflicts != workers {
		t.Fatalf("applied %d + conflicts %d != %d workers", applied, conflicts, workers)
	}
	if applied == 0 {
		t.Fatal("no worker won the entity lock")
	}

	final, err := variants.GetByID(context.Background(), domain.KindTrees, tree.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	// Every winner applied a distinct value, so each success is exactly
	// one version bump and one audit record.
	if final.Version != int64(1+applied) {
		t.Errorf("version = %d, want %d", final.Version, 1+applied)
	}
	if audits.Count() != applied {
		t.Errorf("audit store holds %d records, want %d", audits.Count(), applied)
	}
}
