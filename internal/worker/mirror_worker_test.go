package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/amqp"
	"budgetsync/internal/core"
	sheetsmem "budgetsync/internal/sheets/memory"
)

func message(family string, id int64) *amqp.OperationMirrorMessage {
	return amqp.NewOperationMirrorMessage(family, "Phone", core.MirrorRecord{
		ID: id, Type: "INCOME", Amount: "100.00 zł", Date: "2025-02-01",
	})
}

func TestMirrorWorker_AppendsOnce(t *testing.T) {
	store := sheetsmem.New()
	w := NewMirrorWorker(store, "fam")
	ctx := context.Background()

	require.NoError(t, w.HandleMirrorMessage(ctx, message("fam", 1)))
	require.NoError(t, w.HandleMirrorMessage(ctx, message("fam", 1)))

	rows, err := store.ListOperations(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Phone", rows[0].Device, "device name filled from the message")
	assert.Equal(t, Stats{Appended: 1, Duplicates: 1}, w.Stats())
}

func TestMirrorWorker_FiltersFamily(t *testing.T) {
	store := sheetsmem.New()
	w := NewMirrorWorker(store, "fam")

	require.NoError(t, w.HandleMirrorMessage(context.Background(), message("other", 1)))
	assert.Zero(t, store.Len())
	assert.Equal(t, int64(1), w.Stats().Skipped)
}

func TestMirrorWorker_SheetErrorsRequeue(t *testing.T) {
	store := sheetsmem.New()
	w := NewMirrorWorker(store, "")
	store.FailWith(errors.New("rate limited"))

	err := w.HandleMirrorMessage(context.Background(), message("any", 3))
	assert.ErrorContains(t, err, "rate limited")

	store.FailWith(nil)
	require.NoError(t, w.HandleMirrorMessage(context.Background(), message("any", 3)))
	assert.Equal(t, 1, store.Len())
}

func TestMirrorWorker_WarmUp(t *testing.T) {
	store := sheetsmem.New()
	ctx := context.Background()
	_, err := store.AppendOperation(ctx, message("fam", 9).Record)
	require.NoError(t, err)

	w := NewMirrorWorker(store, "fam")
	require.NoError(t, w.WarmUp(ctx, 2025))
	assert.Equal(t, 1, w.Seen().Size())

	store.FailWith(errors.New("unreachable"))
	require.NoError(t, w.HandleMirrorMessage(ctx, message("fam", 9)), "cached ids skip the sheet")
	assert.Equal(t, int64(1), w.Stats().Duplicates)
}
