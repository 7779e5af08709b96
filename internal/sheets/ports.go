package sheets

import (
	"context"

	"budgetsync/internal/core"
)

// Ports for outbound spreadsheet adapters. Rows are mirror records: a
// write-only, human readable copy of each ledger entry.
type (
	OperationAppender interface {
		AppendOperation(ctx context.Context, rec core.MirrorRecord) (rowRef string, err error)
	}

	// OperationIndex answers whether a record was already mirrored, so
	// redelivered messages do not produce duplicate rows.
	OperationIndex interface {
		HasOperation(ctx context.Context, rec core.MirrorRecord) (bool, error)
	}

	// OperationLister returns the mirrored rows of one year.
	OperationLister interface {
		ListOperations(ctx context.Context, year int) ([]core.MirrorRecord, error)
	}

	Mirror interface {
		OperationAppender
		OperationIndex
		OperationLister
	}
)
