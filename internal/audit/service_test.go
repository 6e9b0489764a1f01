package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/repository/repositorytest"
)

func newTestService() (*Service, *repositorytest.VariantStore, *repositorytest.AuditStore) {
	variants := repositorytest.NewVariantStore()
	audits := repositorytest.NewAuditStore()
	return NewService(audits, variants, 3, 2), variants, audits
}

func seedTree(t *testing.T, variants *repositorytest.VariantStore) domain.Variant {
	t.Helper()
	created, err := variants.Create(context.Background(), domain.Variant{
		Kind:          domain.KindTrees,
		VariantTypeID: domain.VariantTypeOriginal,
		Fields:        map[string]any{"height_m": 24.7},
		CreatedBy:     "alice",
	})
	if err != nil {
		t.Fatalf("seed tree: %v", err)
	}
	return created
}

func recordChange(t *testing.T, s *Service, ref domain.EntityRef, field, from, to string) domain.AuditRecord {
	t.Helper()
	record, err := s.Record(context.Background(), nil, ref, domain.AuditRecord{
		FieldName:  field,
		OldValue:   &from,
		NewValue:   &to,
		ChangeType: domain.ChangeTypeFieldUpdate,
		UserID:     "alice",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	return record
}

func TestGetResolvesEntity(t *testing.T) {
	service, variants, _ := newTestService()
	tree := seedTree(t, variants)
	created := recordChange(t, service, tree.Ref(), "height_m", "24.7", "24.9")

	record, err := service.Get(context.Background(), created.AuditID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Entity == nil || *record.Entity != tree.Ref() {
		t.Errorf("entity = %v, want %v", record.Entity, tree.Ref())
	}
	if record.FieldName != "height_m" {
		t.Errorf("field name = %q, want height_m", record.FieldName)
	}
}

func TestGetMissingRecord(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.Get(context.Background(), 404)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestGetBrokenLinkage(t *testing.T) {
	service, variants, audits := newTestService()
	tree := seedTree(t, variants)
	created := recordChange(t, service, tree.Ref(), "height_m", "24.7", "24.9")
	audits.BreakLink(created.AuditID)

	_, err := service.Get(context.Background(), created.AuditID)
	if !errors.Is(err, domain.ErrLinkageCorrupt) {
		t.Fatalf("got %v, want ErrLinkageCorrupt", err)
	}
}

func TestHistoryNewestFirstWithDefaultLimit(t *testing.T) {
	service, variants, _ := newTestService()
	tree := seedTree(t, variants)
	for i := 0; i < 5; i++ {
		recordChange(t, service, tree.Ref(), "height_m",
			fmt.Sprintf("%d", 20+i), fmt.Sprintf("%d", 21+i))
	}

	// Limit 0 falls back to the service default of 3.
	records, err := service.History(context.Background(), domain.KindTrees, tree.ID, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].AuditID <= records[i].AuditID {
			t.Errorf("records not newest first: %d before %d", records[i-1].AuditID, records[i].AuditID)
		}
	}
}

func TestHistoryMissingEntity(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.History(context.Background(), domain.KindTrees, 404, 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestHistoryEmptyForUnauditedVariant(t *testing.T) {
	service, variants, _ := newTestService()
	tree := seedTree(t, variants)

	records, err := service.History(context.Background(), domain.KindTrees, tree.ID, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestRecentChangesSpansKinds(t *testing.T) {
	service, variants, _ := newTestService()
	tree := seedTree(t, variants)
	cloud, err := variants.Create(context.Background(), domain.Variant{
		Kind:          domain.KindPointClouds,
		VariantTypeID: domain.VariantTypeOriginal,
		Fields:        map[string]any{"point_count": int64(1200000)},
		CreatedBy:     "alice",
	})
	if err != nil {
		t.Fatalf("seed point cloud: %v", err)
	}

	recordChange(t, service, tree.Ref(), "height_m", "24.7", "24.9")
	recordChange(t, service, cloud.Ref(), "point_count", "1200000", "1150000")
	recordChange(t, service, tree.Ref(), "height_m", "24.9", "25.1")

	records, err := service.RecentChanges(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("RecentChanges failed: %v", err)
	}
	// Limit 0 falls back to the service default of 2.
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Entity == nil || records[0].Entity.Kind != domain.KindTrees {
		t.Errorf("records[0].Entity = %v, want trees ref", records[0].Entity)
	}
	if records[1].Entity == nil || records[1].Entity.Kind != domain.KindPointClouds {
		t.Errorf("records[1].Entity = %v, want point_clouds ref", records[1].Entity)
	}

	page, err := service.RecentChanges(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("RecentChanges offset failed: %v", err)
	}
	if len(page) != 1 || page[0].Entity == nil || page[0].Entity.Kind != domain.KindTrees {
		t.Errorf("offset page = %+v, want the oldest trees record", page)
	}
}

func TestRemoveForEntities(t *testing.T) {
	service, variants, audits := newTestService()
	tree := seedTree(t, variants)
	other := seedTree(t, variants)
	recordChange(t, service, tree.Ref(), "height_m", "24.7", "24.9")
	recordChange(t, service, other.Ref(), "height_m", "18.0", "18.2")

	if err := service.RemoveForEntities(context.Background(), nil, domain.KindTrees, []int64{tree.ID}); err != nil {
		t.Fatalf("RemoveForEntities failed: %v", err)
	}
	if audits.Count() != 1 {
		t.Errorf("audit count = %d, want 1 (other variant's record kept)", audits.Count())
	}
	if _, err := service.History(context.Background(), domain.KindTrees, other.ID, 0); err != nil {
		t.Errorf("History for surviving variant failed: %v", err)
	}
}
