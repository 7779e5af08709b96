package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/memory"
)

type fakeDevices struct {
	registers atomic.Int32
	updates   atomic.Int32
	lastState atomic.Value
}

func (f *fakeDevices) RegisterDevice(context.Context, core.DeviceIdentity) bool {
	f.registers.Add(1)
	return true
}

func (f *fakeDevices) UpdateDeviceStatus(_ context.Context, _ string, s core.DeviceStatus, _ time.Time) bool {
	f.updates.Add(1)
	f.lastState.Store(s)
	return true
}

func (f *fakeDevices) ActiveDevices(context.Context) ([]core.DeviceIdentity, bool) {
	return []core.DeviceIdentity{{SessionID: "s1"}}, true
}

func startedQueue(t *testing.T) *DiagnosticsQueue {
	t.Helper()
	q := NewDiagnosticsQueue(DiagnosticsConfig{QueueSize: 16, MaxRetries: 1})
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { q.Stop(context.Background()) })
	return q
}

func TestDeviceRegistry_OfflineIsNoop(t *testing.T) {
	store := &fakeDevices{}
	q := NewDiagnosticsQueue(DefaultDiagnosticsConfig())
	r := NewDeviceRegistry(store, q, func() bool { return false }, core.DeviceIdentity{SessionID: "s1"}, time.Minute)
	ctx := context.Background()

	assert.False(t, r.Register(r.Identity()))
	assert.False(t, r.UpdateStatus("s1", core.StatusOnline))
	assert.Empty(t, r.Active(ctx))
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Stop(ctx))

	assert.Zero(t, q.Stats().Pending)
	assert.Zero(t, store.registers.Load())
	assert.Zero(t, store.updates.Load())
}

func TestDeviceRegistry_HeartbeatAndShutdown(t *testing.T) {
	store := &fakeDevices{}
	q := startedQueue(t)
	r := NewDeviceRegistry(store, q, func() bool { return true }, core.DeviceIdentity{SessionID: "s1"}, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx), "second start")

	assert.Eventually(t, func() bool { return store.registers.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return store.updates.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, core.StatusOffline, store.lastState.Load())
	assert.NoError(t, r.Stop(ctx), "stop when not running")

	assert.Len(t, r.Active(ctx), 1)
}

func TestDeviceRegistry_PresenceRemovedOnDisconnect(t *testing.T) {
	hub := memory.NewHub()
	conn := hub.Connect()
	client := remote.NewClient(conn, remote.ClientConfig{FamilyID: "fam", Timeout: time.Second})
	ctx := context.Background()
	require.True(t, client.Init(ctx))

	identity := core.NewSessionIdentity("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", "", time.Now())
	r := NewDeviceRegistry(client, startedQueue(t), func() bool { return true }, identity, time.Hour)
	require.NoError(t, r.Start(ctx))

	active := "families/fam/activeDevices/" + identity.SessionID
	history := "families/fam/deviceHistory/" + identity.SessionID
	require.Eventually(t, func() bool { return hub.Peek(active).Exists() }, time.Second, 5*time.Millisecond)

	var stored core.DeviceIdentity
	require.NoError(t, json.Unmarshal(hub.Peek(history).Value, &stored))
	assert.Equal(t, core.DeviceMobile, stored.Type)
	assert.Equal(t, "Mobile", stored.Name)

	devices := r.Active(ctx)
	require.Len(t, devices, 1)
	assert.Equal(t, identity.SessionID, devices[0].SessionID)

	require.NoError(t, r.Stop(ctx))
	require.NoError(t, conn.Close())

	assert.False(t, hub.Peek(active).Exists(), "presence removed by the server")
	assert.True(t, hub.Peek(history).Exists(), "history is permanent")
}
