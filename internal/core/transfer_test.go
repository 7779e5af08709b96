package core

import (
	"errors"
	"testing"
	"time"
)

func TestExportImportRoundTrip(t *testing.T) {
	d := DefaultDocument()
	d, _ = AddOperation(d, validOperation())
	d, _ = SetLimit(d, "food", NewMoney(250))
	d, _ = AddGoal(d, Goal{ID: 3, Name: "Trip", Target: NewMoney(900), Deadline: NewDate(2026, 8, 1),
		Created: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})

	blob, err := Export(d)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	got, err := ImportMerge(Document{}, blob)
	if err != nil {
		t.Fatalf("ImportMerge: %v", err)
	}
	if !got.Equal(d) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, d)
	}
}

func TestImportMergeIsShallow(t *testing.T) {
	current := DefaultDocument()
	current, _ = AddOperation(current, validOperation())
	current, _ = SetLimit(current, "food", NewMoney(250))

	blob := []byte(`{"settings":{"theme":"light"},"limits":{"rent":900}}`)
	got, err := ImportMerge(current, blob)
	if err != nil {
		t.Fatalf("ImportMerge: %v", err)
	}
	if len(got.Operations) != 1 {
		t.Errorf("operations should be retained, got %d", len(got.Operations))
	}
	if _, ok := got.Limits["food"]; ok {
		t.Error("limits should be replaced wholesale, not merged")
	}
	if _, ok := got.Settings[SettingCurrency]; ok {
		t.Error("settings should be replaced wholesale")
	}
	if got.Settings[SettingTheme] != "light" {
		t.Errorf("theme = %v", got.Settings[SettingTheme])
	}
	if len(got.Categories.Expense) == 0 {
		t.Error("categories absent from blob must be retained")
	}
}

func TestImportMergeRejectsMalformed(t *testing.T) {
	current := DefaultDocument()
	for _, blob := range []string{`{`, `null`, `[1,2]`, `{"operations":7}`} {
		got, err := ImportMerge(current, []byte(blob))
		if !errors.Is(err, ErrInvalidImport) {
			t.Errorf("ImportMerge(%s) error = %v, want ErrInvalidImport", blob, err)
		}
		if !got.Equal(current) {
			t.Errorf("ImportMerge(%s) changed state on error", blob)
		}
	}
}

func TestExportName(t *testing.T) {
	if got := ExportName(time.Date(2025, 3, 4, 22, 0, 0, 0, time.UTC)); got != "budget-export-2025-03-04.json" {
		t.Errorf("ExportName = %s", got)
	}
}
