package core

import (
	"strings"
	"time"
)

// MirrorRecord is the human readable copy of an operation written to
// external inspection sinks. The application never reads it back.
type MirrorRecord struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Person       string `json:"person"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Date         string `json:"date"`
	ReadableDate string `json:"readableDate"`
	Time         string `json:"time"`
	Device       string `json:"device,omitempty"`
}

// NewMirrorRecord renders op for display. Timestamps are shown in loc.
func NewMirrorRecord(op Operation, currency string, loc *time.Location) MirrorRecord {
	if loc == nil {
		loc = time.Local
	}
	created := op.CreatedAt
	if created.IsZero() {
		created = time.UnixMilli(op.ID)
	}
	created = created.In(loc)

	rec := MirrorRecord{
		ID:           op.ID,
		Type:         strings.ToUpper(op.Type.String()),
		Amount:       op.Amount.Format(currency),
		Person:       op.Person,
		Category:     op.Category,
		Description:  op.Description,
		Date:         op.Date.String(),
		ReadableDate: op.Date.Format("02.01.2006"),
		Time:         created.Format("15:04:05"),
	}
	if op.OriginDevice != nil {
		rec.Device = op.OriginDevice.Name
	}
	return rec
}
