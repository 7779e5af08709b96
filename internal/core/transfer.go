package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportName is the object name used for a backup taken on the given day.
func ExportName(t time.Time) string {
	return fmt.Sprintf("budget-export-%s.json", t.Format(dateLayout))
}

// Export serializes the document as indented JSON.
func Export(d Document) ([]byte, error) {
	data, err := json.MarshalIndent(Normalize(d), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export document: %w", err)
	}
	return data, nil
}

// ImportMerge applies an exported blob on top of d. Every top-level key in
// the blob replaces the current value wholesale; keys absent from the blob
// keep their current value. A malformed blob leaves d untouched.
func ImportMerge(d Document, blob []byte) (Document, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(blob, &keys); err != nil {
		return d, fmt.Errorf("import document: %w: %w", ErrInvalidImport, err)
	}
	if keys == nil {
		return d, fmt.Errorf("import document: %w: empty payload", ErrInvalidImport)
	}
	imported, err := DecodeDocument(blob)
	if err != nil {
		return d, fmt.Errorf("import document: %w: %w", ErrInvalidImport, err)
	}

	out := d.Clone()
	if _, ok := keys["operations"]; ok {
		out.Operations = imported.Operations
	}
	if _, ok := keys["categories"]; ok {
		out.Categories = imported.Categories
	}
	if _, ok := keys["limits"]; ok {
		out.Limits = imported.Limits
	}
	if _, ok := keys["goals"]; ok {
		out.Goals = imported.Goals
	}
	if _, ok := keys["settings"]; ok {
		out.Settings = imported.Settings
	}
	return Normalize(out), nil
}
