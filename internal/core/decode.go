package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// wireDocument mirrors Document but keeps list-shaped fields raw, because
// the hosted tree may hand them back as id-keyed objects instead of arrays.
type wireDocument struct {
	Operations json.RawMessage `json:"operations"`
	Categories *struct {
		Income  json.RawMessage `json:"income"`
		Expense json.RawMessage `json:"expense"`
	} `json:"categories"`
	Limits   map[string]*Money `json:"limits"`
	Goals    json.RawMessage   `json:"goals"`
	Settings map[string]any    `json:"settings"`
}

// DecodeDocument turns a stored or pushed payload into a normalized
// Document. It is the only path by which external data becomes a Document.
//
// List fields may arrive as arrays (null holes skipped) or as objects keyed
// by index or id (null values skipped). Keyed operations are ordered most
// recent first by entry id, keyed goals oldest first, and keyed category
// lists by key. Missing collections become empty.
func DecodeDocument(data []byte) (Document, error) {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}

	var doc Document
	var err error

	ops, keyed, err := decodeList[Operation](w.Operations)
	if err != nil {
		return Document{}, fmt.Errorf("decode operations: %w", err)
	}
	if keyed {
		sort.SliceStable(ops, func(i, j int) bool { return ops[i].ID > ops[j].ID })
	}
	doc.Operations = ops

	goals, keyed, err := decodeList[Goal](w.Goals)
	if err != nil {
		return Document{}, fmt.Errorf("decode goals: %w", err)
	}
	if keyed {
		sort.SliceStable(goals, func(i, j int) bool { return goals[i].ID < goals[j].ID })
	}
	doc.Goals = goals

	if w.Categories != nil {
		if doc.Categories.Income, _, err = decodeList[string](w.Categories.Income); err != nil {
			return Document{}, fmt.Errorf("decode income categories: %w", err)
		}
		if doc.Categories.Expense, _, err = decodeList[string](w.Categories.Expense); err != nil {
			return Document{}, fmt.Errorf("decode expense categories: %w", err)
		}
	}

	if len(w.Limits) > 0 {
		doc.Limits = make(map[string]Money, len(w.Limits))
		for k, v := range w.Limits {
			if v != nil {
				doc.Limits[k] = *v
			}
		}
	}
	doc.Settings = w.Settings

	return Normalize(doc), nil
}

// decodeList reads either a JSON array or a JSON object into a slice. The
// boolean reports whether the input was object shaped; object entries are
// returned in key order (numeric keys numerically, then the rest lexically).
func decodeList[T any](raw json.RawMessage) ([]T, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, false, nil
	}

	switch raw[0] {
	case '[':
		var items []*T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, false, err
		}
		out := make([]T, 0, len(items))
		for _, it := range items {
			if it != nil {
				out = append(out, *it)
			}
		}
		return out, false, nil

	case '{':
		var items map[string]*T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, true, err
		}
		keys := make([]string, 0, len(items))
		for k, v := range items {
			if v != nil {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
		out := make([]T, 0, len(keys))
		for _, k := range keys {
			out = append(out, *items[k])
		}
		return out, true, nil

	default:
		return nil, false, fmt.Errorf("unexpected list shape %q", raw[:1])
	}
}

func keyLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
