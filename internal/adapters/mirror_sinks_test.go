package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/amqp"
	"budgetsync/internal/core"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/memory"
	sheetsmem "budgetsync/internal/sheets/memory"
)

func sampleRecord() core.MirrorRecord {
	return core.MirrorRecord{ID: 1741950000000, Type: "EXPENSE", Amount: "20.00 zł", Date: "2025-03-14"}
}

func TestTreeSink(t *testing.T) {
	hub := memory.NewHub()
	conn := hub.Connect()
	defer conn.Close()
	client := remote.NewClient(conn, remote.ClientConfig{FamilyID: "fam", Timeout: time.Second})
	ctx := context.Background()
	require.True(t, client.Init(ctx))

	sink := NewTreeSink(client)
	assert.Equal(t, "tree", sink.Name())
	require.NoError(t, sink.Mirror(ctx, "My Phone", sampleRecord()))
	assert.True(t, hub.Peek(remote.MirrorPath("My Phone", 1741950000000)).Exists())

	conn.SetOffline(true)
	assert.ErrorIs(t, sink.Mirror(ctx, "My Phone", sampleRecord()), errMirrorRejected)
}

type fakePublisher struct {
	msgs []*amqp.OperationMirrorMessage
	err  error
}

func (p *fakePublisher) PublishOperationMirror(_ context.Context, msg *amqp.OperationMirrorMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAMQPSink(pub, "fam")
	ctx := context.Background()

	require.NoError(t, sink.Mirror(ctx, "Desktop", sampleRecord()))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "fam", pub.msgs[0].FamilyID)
	assert.Equal(t, "Desktop", pub.msgs[0].DeviceName)
	assert.Equal(t, sampleRecord(), pub.msgs[0].Record)

	pub.err = errors.New("circuit breaker is open")
	assert.ErrorContains(t, sink.Mirror(ctx, "Desktop", sampleRecord()), "circuit breaker")
}

func TestSheetsSinkSkipsDuplicates(t *testing.T) {
	store := sheetsmem.New()
	sink := NewSheetsSink(store)
	ctx := context.Background()

	require.NoError(t, sink.Mirror(ctx, "", sampleRecord()))
	require.NoError(t, sink.Mirror(ctx, "", sampleRecord()))
	assert.Equal(t, 1, store.Len())

	store.FailWith(errors.New("quota"))
	assert.ErrorContains(t, sink.Mirror(ctx, "", core.MirrorRecord{ID: 2, Date: "2025-01-01"}), "check sheet")
}
