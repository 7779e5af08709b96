package core

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// Settings keys understood by the application.
const (
	SettingTheme         = "theme"
	SettingFontSize      = "fontSize"
	SettingCurrency      = "currency"
	SettingNotifications = "notifications"
)

var (
	defaultIncomeCategories  = []string{"salary", "bonus", "freelance", "other"}
	defaultExpenseCategories = []string{"food", "transport", "entertainment", "utilities", "shopping", "health", "other"}
)

// DefaultDocument returns the empty but valid document a fresh family starts
// from: default categories and settings, no entries.
func DefaultDocument() Document {
	return Document{
		Operations: []Operation{},
		Categories: Categories{
			Income:  slices.Clone(defaultIncomeCategories),
			Expense: slices.Clone(defaultExpenseCategories),
		},
		Limits: map[string]Money{},
		Goals:  []Goal{},
		Settings: map[string]any{
			SettingTheme:         "dark",
			SettingFontSize:      "medium",
			SettingCurrency:      "zł",
			SettingNotifications: false,
		},
	}
}

// Normalize fills missing collections with empty ones. It is idempotent.
func Normalize(d Document) Document {
	if d.Operations == nil {
		d.Operations = []Operation{}
	}
	if d.Categories.Income == nil {
		d.Categories.Income = []string{}
	}
	if d.Categories.Expense == nil {
		d.Categories.Expense = []string{}
	}
	if d.Limits == nil {
		d.Limits = map[string]Money{}
	}
	if d.Goals == nil {
		d.Goals = []Goal{}
	}
	if d.Settings == nil {
		d.Settings = map[string]any{}
	}
	return d
}

// Clone returns a deep copy so callers can derive a new snapshot without
// touching the original.
func (d Document) Clone() Document {
	out := Document{
		Operations: slices.Clone(d.Operations),
		Categories: Categories{
			Income:  slices.Clone(d.Categories.Income),
			Expense: slices.Clone(d.Categories.Expense),
		},
		Limits:   maps.Clone(d.Limits),
		Goals:    slices.Clone(d.Goals),
		Settings: maps.Clone(d.Settings),
	}
	for i, op := range out.Operations {
		if op.OriginDevice != nil {
			dev := *op.OriginDevice
			out.Operations[i].OriginDevice = &dev
		}
	}
	return Normalize(out)
}

// Equal compares two documents by their canonical JSON encoding.
func (d Document) Equal(o Document) bool {
	a, err := json.Marshal(Normalize(d))
	if err != nil {
		return false
	}
	b, err := json.Marshal(Normalize(o))
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Currency returns the configured currency label.
func (d Document) Currency() string {
	if v, ok := d.Settings[SettingCurrency].(string); ok && v != "" {
		return v
	}
	return "zł"
}

// Operation looks up an entry by id.
func (d Document) Operation(id int64) (Operation, bool) {
	for _, op := range d.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// Goal looks up a goal by id.
func (d Document) Goal(id int64) (Goal, bool) {
	for _, g := range d.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}
