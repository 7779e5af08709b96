package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
)

// MirrorSink receives a readable copy of each new operation.
type MirrorSink interface {
	Name() string
	Mirror(ctx context.Context, deviceName string, rec core.MirrorRecord) error
}

// OperationMirror fans new operations out to every sink through the
// diagnostics queue.
type OperationMirror struct {
	queue  *DiagnosticsQueue
	sinks  []MirrorSink
	loc    *time.Location
	logger *slog.Logger
}

func NewOperationMirror(queue *DiagnosticsQueue, loc *time.Location, sinks ...MirrorSink) *OperationMirror {
	return &OperationMirror{
		queue:  queue,
		sinks:  sinks,
		loc:    loc,
		logger: slog.Default().With(log.FieldComponent, log.ComponentMirror),
	}
}

// Sinks returns the configured sink names.
func (m *OperationMirror) Sinks() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Record renders op and queues one write per sink. It returns the number of
// writes queued.
func (m *OperationMirror) Record(op core.Operation, currency, deviceName string) int {
	if m == nil || len(m.sinks) == 0 {
		return 0
	}
	rec := core.NewMirrorRecord(op, currency, m.loc)
	if rec.Device == "" {
		rec.Device = deviceName
	}

	queued := 0
	for _, sink := range m.sinks {
		sink := sink
		ok := m.queue.Enqueue(Task{
			Name: "mirror:" + sink.Name(),
			Run: func(ctx context.Context) error {
				if err := sink.Mirror(ctx, deviceName, rec); err != nil {
					return fmt.Errorf("mirror %d to %s: %w", rec.ID, sink.Name(), err)
				}
				m.logger.DebugContext(ctx, "Operation mirrored",
					log.FieldSink, sink.Name(),
					log.FieldOperationID, rec.ID)
				return nil
			},
		})
		if ok {
			queued++
		}
	}
	return queued
}
