package core

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestAddOperationPrependsWithoutMutating(t *testing.T) {
	base := DefaultDocument()
	first := validOperation()
	d1, err := AddOperation(base, first)
	if err != nil {
		t.Fatalf("AddOperation: %v", err)
	}
	second := validOperation()
	second.ID = first.ID + 1
	d2, err := AddOperation(d1, second)
	if err != nil {
		t.Fatalf("AddOperation: %v", err)
	}

	if len(base.Operations) != 0 {
		t.Errorf("base mutated: %d operations", len(base.Operations))
	}
	if len(d1.Operations) != 1 {
		t.Errorf("d1 mutated: %d operations", len(d1.Operations))
	}
	if got := opIDs(d2.Operations); !equalIDs(got, []int64{second.ID, first.ID}) {
		t.Errorf("order = %v", got)
	}

	bad := validOperation()
	bad.Amount = Money{}
	if _, err := AddOperation(d2, bad); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDeleteOperation(t *testing.T) {
	d, _ := AddOperation(DefaultDocument(), validOperation())
	out, err := DeleteOperation(d, validOperation().ID)
	if err != nil {
		t.Fatalf("DeleteOperation: %v", err)
	}
	if len(out.Operations) != 0 || len(d.Operations) != 1 {
		t.Errorf("got %d/%d operations", len(out.Operations), len(d.Operations))
	}
	if _, err := DeleteOperation(out, 42); !errors.Is(err, ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestCategories(t *testing.T) {
	if got := CategoryID("  Eating   Out "); got != "eating_out" {
		t.Errorf("CategoryID = %q", got)
	}

	d := DefaultDocument()
	d2, id, err := AddCategory(d, Expense, "Pet Care")
	if err != nil || id != "pet_care" {
		t.Fatalf("AddCategory = %q, %v", id, err)
	}
	if !d2.Categories.Contains(Expense, "pet_care") || d.Categories.Contains(Expense, "pet_care") {
		t.Error("category should only exist in the new snapshot")
	}
	if _, _, err := AddCategory(d2, Expense, "pet care"); !errors.Is(err, ErrCategoryExists) {
		t.Errorf("expected ErrCategoryExists, got %v", err)
	}
	if _, _, err := AddCategory(d2, "bogus", "x"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}

	d3, err := RemoveCategory(d2, Expense, "pet_care")
	if err != nil {
		t.Fatalf("RemoveCategory: %v", err)
	}
	if d3.Categories.Contains(Expense, "pet_care") {
		t.Error("category not removed")
	}
	if _, err := RemoveCategory(d3, Income, "pet_care"); !errors.Is(err, ErrCategoryNotFound) {
		t.Errorf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestGoalLifecycle(t *testing.T) {
	g := Goal{ID: 7, Name: "Holiday", Target: NewMoney(100), Current: NewMoney(55), Deadline: NewDate(2026, 6, 1)}
	d, err := AddGoal(DefaultDocument(), g)
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	if !d.Goals[0].Current.IsZero() {
		t.Errorf("new goal should start at zero, got %s", d.Goals[0].Current)
	}
	if d.Goals[0].Created.IsZero() {
		t.Error("created should be stamped")
	}

	d, err = AddToGoal(d, 7, NewMoney(80))
	if err != nil {
		t.Fatalf("AddToGoal: %v", err)
	}
	d, _ = AddToGoal(d, 7, NewMoney(40))
	if got, _ := d.Goal(7); !got.Current.Equal(NewMoney(120).Decimal) {
		t.Errorf("current = %s, want 120 (uncapped)", got.Current)
	}

	if _, err := AddToGoal(d, 8, NewMoney(1)); !errors.Is(err, ErrGoalNotFound) {
		t.Errorf("expected ErrGoalNotFound, got %v", err)
	}
	if _, err := AddToGoal(d, 7, NewMoney(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	d, err = RemoveGoal(d, 7)
	if err != nil || len(d.Goals) != 0 {
		t.Fatalf("RemoveGoal: %v, %d goals", err, len(d.Goals))
	}
}

// Contributions interleaved with unrelated edits must add up exactly.
func TestGoalContributionMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d, _ := AddGoal(DefaultDocument(), Goal{ID: 1, Name: "Fund", Target: NewMoney(10), Deadline: NewDate(2030, 1, 1)})
	want := Money{}
	prev := Money{}
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0:
			amt := MoneyFromCents(int64(rng.Intn(10000) + 1))
			d, _ = AddToGoal(d, 1, amt)
			want = want.Add(amt)
		case 1:
			op := validOperation()
			op.ID = int64(i + 1)
			d, _ = AddOperation(d, op)
		case 2:
			d, _ = UpdateSetting(d, SettingTheme, "light")
		}
		g, _ := d.Goal(1)
		if g.Current.LessThan(prev.Decimal) {
			t.Fatalf("step %d: progress decreased from %s to %s", i, prev, g.Current)
		}
		prev = g.Current
	}
	if g, _ := d.Goal(1); !g.Current.Equal(want.Decimal) {
		t.Errorf("current = %s, want %s", g.Current, want)
	}
}

func TestLimitsAndSettings(t *testing.T) {
	d, err := SetLimit(DefaultDocument(), "food", NewMoney(300))
	if err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	if _, err := SetLimit(d, "food", Money{}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	removed := RemoveLimit(d, "food")
	if _, ok := removed.Limits["food"]; ok {
		t.Error("limit not removed")
	}
	if _, ok := d.Limits["food"]; !ok {
		t.Error("original snapshot lost its limit")
	}

	s, err := UpdateSetting(d, SettingCurrency, "EUR")
	if err != nil {
		t.Fatalf("UpdateSetting: %v", err)
	}
	if s.Currency() != "EUR" || d.Currency() != "zł" {
		t.Errorf("currency = %s / %s", s.Currency(), d.Currency())
	}
	if _, err := UpdateSetting(d, " ", 1); !errors.Is(err, ErrInvalidSetting) {
		t.Errorf("expected ErrInvalidSetting, got %v", err)
	}
}

func TestMirrorRecord(t *testing.T) {
	op := validOperation()
	op.Description = "groceries"
	op.CreatedAt = time.Date(2025, 3, 14, 9, 5, 7, 0, time.UTC)
	op.OriginDevice = &DeviceIdentity{Name: "Mobile"}

	rec := NewMirrorRecord(op, "zł", time.UTC)
	if rec.Type != "EXPENSE" || rec.Amount != "12.50 zł" {
		t.Errorf("type/amount = %s / %s", rec.Type, rec.Amount)
	}
	if rec.Date != "2025-03-14" || rec.ReadableDate != "14.03.2025" || rec.Time != "09:05:07" {
		t.Errorf("dates = %s %s %s", rec.Date, rec.ReadableDate, rec.Time)
	}
	if rec.Device != "Mobile" {
		t.Errorf("device = %s", rec.Device)
	}
}
