package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"budgetsync/internal/core"
)

// Column layout of the mirror sheet, A through J.
var header = []string{"ID", "Date", "Readable date", "Time", "Type", "Amount", "Person", "Category", "Description", "Device"}

const lastColumn = "J"

func recordRow(rec core.MirrorRecord) []any {
	return []any{
		strconv.FormatInt(rec.ID, 10),
		rec.Date,
		rec.ReadableDate,
		rec.Time,
		rec.Type,
		rec.Amount,
		rec.Person,
		rec.Category,
		rec.Description,
		rec.Device,
	}
}

// parseRow is the inverse of recordRow. Header and malformed rows report
// false.
func parseRow(row []any) (core.MirrorRecord, bool) {
	cols := toStrings(row)
	if len(cols) < 6 {
		return core.MirrorRecord{}, false
	}
	id, err := strconv.ParseInt(cols[0], 10, 64)
	if err != nil || id <= 0 {
		return core.MirrorRecord{}, false
	}
	return core.MirrorRecord{
		ID:           id,
		Date:         cols[1],
		ReadableDate: cols[2],
		Time:         cols[3],
		Type:         cols[4],
		Amount:       cols[5],
		Person:       safeGet(cols, 6),
		Category:     safeGet(cols, 7),
		Description:  safeGet(cols, 8),
		Device:       safeGet(cols, 9),
	}, true
}

// recordYear picks the yearly sheet a record belongs to: the year of its
// ledger date, or fallback when the date is unreadable.
func recordYear(rec core.MirrorRecord, fallback time.Time) int {
	if d, err := core.ParseDate(rec.Date); err == nil {
		return d.Year()
	}
	return fallback.Year()
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
