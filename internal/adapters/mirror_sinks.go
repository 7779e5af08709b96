package adapters

import (
	"context"
	"errors"
	"fmt"

	"budgetsync/internal/amqp"
	"budgetsync/internal/core"
	"budgetsync/internal/services"
	"budgetsync/internal/sheets"
)

// Mirror sinks adapt the remote tree, the message broker and the
// spreadsheet to services.MirrorSink so the ledger can fan operations out
// without knowing the transports.

var (
	_ services.MirrorSink = (*TreeSink)(nil)
	_ services.MirrorSink = (*AMQPSink)(nil)
	_ services.MirrorSink = (*SheetsSink)(nil)
)

var errMirrorRejected = errors.New("mirror write rejected")

type treeMirror interface {
	MirrorOperation(ctx context.Context, deviceName string, rec core.MirrorRecord) bool
}

// TreeSink writes under families/Device/<device>/Operations/<id>.
type TreeSink struct {
	client treeMirror
}

func NewTreeSink(client treeMirror) *TreeSink {
	return &TreeSink{client: client}
}

func (s *TreeSink) Name() string { return "tree" }

func (s *TreeSink) Mirror(ctx context.Context, deviceName string, rec core.MirrorRecord) error {
	if !s.client.MirrorOperation(ctx, deviceName, rec) {
		return errMirrorRejected
	}
	return nil
}

type mirrorPublisher interface {
	PublishOperationMirror(ctx context.Context, msg *amqp.OperationMirrorMessage) error
}

// AMQPSink publishes the record for the mirror worker.
type AMQPSink struct {
	publisher mirrorPublisher
	familyID  string
}

func NewAMQPSink(publisher mirrorPublisher, familyID string) *AMQPSink {
	return &AMQPSink{publisher: publisher, familyID: familyID}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Mirror(ctx context.Context, deviceName string, rec core.MirrorRecord) error {
	msg := amqp.NewOperationMirrorMessage(s.familyID, deviceName, rec)
	if err := s.publisher.PublishOperationMirror(ctx, msg); err != nil {
		return fmt.Errorf("publish mirror message: %w", err)
	}
	return nil
}

// SheetsSink appends the record straight to the spreadsheet, skipping rows
// that are already there.
type SheetsSink struct {
	sheet sheets.Mirror
}

func NewSheetsSink(sheet sheets.Mirror) *SheetsSink {
	return &SheetsSink{sheet: sheet}
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Mirror(ctx context.Context, _ string, rec core.MirrorRecord) error {
	found, err := s.sheet.HasOperation(ctx, rec)
	if err != nil {
		return fmt.Errorf("check sheet: %w", err)
	}
	if found {
		return nil
	}
	if _, err := s.sheet.AppendOperation(ctx, rec); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}
