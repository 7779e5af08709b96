package memory

import (
	"context"
	"errors"
	"testing"

	"budgetsync/internal/core"
)

func TestMemoryStoreAppendAndList(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref, err := s.AppendOperation(ctx, core.MirrorRecord{ID: 1, Date: "2025-01-02", Type: "EXPENSE"})
	if err != nil || ref != "mem:2025:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	if _, err := s.AppendOperation(ctx, core.MirrorRecord{ID: 2, Date: "2024-12-31"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendOperation(ctx, core.MirrorRecord{}); err == nil {
		t.Fatal("expected error for record without id")
	}

	rows, err := s.ListOperations(ctx, 2025)
	if err != nil || len(rows) != 1 || rows[0].ID != 1 {
		t.Fatalf("unexpected list: rows=%v err=%v", rows, err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if rows, _ := s.ListOperations(ctx, 2024); len(rows) != 1 || rows[0].ID != 2 {
		t.Fatalf("ListOperations(2024) = %v", rows)
	}
}

func TestMemoryStoreHasOperation(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := core.MirrorRecord{ID: 7, Date: "2025-03-01"}

	found, err := s.HasOperation(ctx, rec)
	if err != nil || found {
		t.Fatalf("HasOperation before append = %v, %v", found, err)
	}
	if _, err := s.AppendOperation(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	found, err = s.HasOperation(ctx, rec)
	if err != nil || !found {
		t.Fatalf("HasOperation after append = %v, %v", found, err)
	}
}

func TestMemoryStoreFailWith(t *testing.T) {
	s := New()
	boom := errors.New("quota")
	s.FailWith(boom)

	if _, err := s.AppendOperation(context.Background(), core.MirrorRecord{ID: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.FailWith(nil)
	if _, err := s.AppendOperation(context.Background(), core.MirrorRecord{ID: 1}); err != nil {
		t.Fatalf("append after reset: %v", err)
	}
}
