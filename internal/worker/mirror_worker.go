package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"budgetsync/internal/amqp"
	"budgetsync/internal/cache"
	"budgetsync/internal/log"
	"budgetsync/internal/sheets"
)

// MirrorWorker turns operation mirror messages into spreadsheet rows. The
// broker may redeliver, so every record is checked against the sheet
// before it is appended.
type MirrorWorker struct {
	sheet    sheets.Mirror
	familyID string
	seen     *cache.LRUCache[bool]
	logger   *slog.Logger

	appended   atomic.Int64
	duplicates atomic.Int64
	skipped    atomic.Int64
}

// Stats counts what the worker did with the messages it received.
type Stats struct {
	Appended   int64 `json:"appended"`
	Duplicates int64 `json:"duplicates"`
	Skipped    int64 `json:"skipped"`
}

// NewMirrorWorker creates a worker. A non-empty familyID drops messages
// from other families.
func NewMirrorWorker(sheet sheets.Mirror, familyID string) *MirrorWorker {
	return &MirrorWorker{
		sheet:    sheet,
		familyID: familyID,
		seen:     cache.NewLRUCache[bool](4096, 24*time.Hour),
		logger:   slog.Default().With(log.FieldComponent, log.ComponentWorker),
	}
}

// Seen exposes the dedupe cache so a cache.Manager can sweep it.
func (w *MirrorWorker) Seen() *cache.LRUCache[bool] {
	return w.seen
}

func seenKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// HandleMirrorMessage processes a single operation mirror message from AMQP
func (w *MirrorWorker) HandleMirrorMessage(ctx context.Context, msg *amqp.OperationMirrorMessage) error {
	rec := msg.Record
	if w.familyID != "" && msg.FamilyID != w.familyID {
		w.skipped.Add(1)
		w.logger.DebugContext(ctx, "Ignoring mirror message for another family",
			log.FieldFamilyID, msg.FamilyID,
			log.FieldOperationID, rec.ID)
		return nil
	}
	if rec.Device == "" {
		rec.Device = msg.DeviceName
	}

	if _, ok := w.seen.Get(seenKey(rec.ID)); ok {
		w.duplicates.Add(1)
		return nil
	}

	found, err := w.sheet.HasOperation(ctx, rec)
	if err != nil {
		return fmt.Errorf("check sheet for %d: %w", rec.ID, err)
	}
	if found {
		w.seen.Set(seenKey(rec.ID), true)
		w.duplicates.Add(1)
		w.logger.InfoContext(ctx, "Operation already mirrored",
			log.FieldOperationID, rec.ID)
		return nil
	}

	ref, err := w.sheet.AppendOperation(ctx, rec)
	if err != nil {
		return fmt.Errorf("append %d to sheet: %w", rec.ID, err)
	}
	w.seen.Set(seenKey(rec.ID), true)
	w.appended.Add(1)

	w.logger.InfoContext(ctx, "Successfully mirrored operation",
		log.FieldOperationID, rec.ID,
		log.FieldDeviceName, msg.DeviceName,
		"sheets_ref", ref)
	return nil
}

// WarmUp loads the ids already present in the sheet for the given year into
// the dedupe cache. Useful after a restart to recover from redeliveries.
func (w *MirrorWorker) WarmUp(ctx context.Context, year int) error {
	rows, err := w.sheet.ListOperations(ctx, year)
	if err != nil {
		return fmt.Errorf("list mirrored operations: %w", err)
	}
	for _, rec := range rows {
		w.seen.Set(seenKey(rec.ID), true)
	}
	w.logger.InfoContext(ctx, "Mirror dedupe cache warmed",
		"year", year,
		"rows", len(rows))
	return nil
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{
		Appended:   w.appended.Load(),
		Duplicates: w.duplicates.Load(),
		Skipped:    w.skipped.Load(),
	}
}

