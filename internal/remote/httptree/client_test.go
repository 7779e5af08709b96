package httptree_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/httptree"
	"budgetsync/internal/remote/memory"
	"budgetsync/internal/treeserver"
)

type fixture struct {
	hub *memory.Hub
	srv *treeserver.Server
	url string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := memory.NewHub()
	srv, err := treeserver.New(hub, treeserver.Config{JWTSecret: []byte("secret"), KeepAlive: 50 * time.Millisecond})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Close() })
	return &fixture{hub: hub, srv: srv, url: ts.URL}
}

func (f *fixture) client(t *testing.T) *httptree.Client {
	t.Helper()
	c := httptree.New(httptree.Config{BaseURL: f.url, MaxBackoff: 100 * time.Millisecond})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCallsBeforeSignIn(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	_, err := c.Get(context.Background(), "a")
	assert.ErrorIs(t, err, remote.ErrUnauthenticated)
}

func TestReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.client(t)
	_, err := c.SignInAnonymously(ctx)
	require.NoError(t, err)

	rev, err := c.Set(ctx, "families/f/devices/My Phone", map[string]string{"name": "phone"})
	require.NoError(t, err)
	assert.Positive(t, rev)

	snap, err := c.Get(ctx, "families/f/devices/My Phone")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"phone"}`, string(snap.Value))
	assert.Equal(t, rev, snap.Revision)

	_, err = c.SetIf(ctx, "families/f/devices/My Phone", "x", rev-1)
	assert.ErrorIs(t, err, remote.ErrRevisionMismatch)

	_, err = c.Update(ctx, "families/f/devices/My Phone", map[string]any{"status": "online"})
	require.NoError(t, err)
	children, err := c.List(ctx, "families/f/devices")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"phone","status":"online"}`, string(children["My Phone"]))

	require.NoError(t, c.Remove(ctx, "families/f"))
	assert.False(t, f.hub.Peek("families/f").Exists())
}

func TestWatchAndPresenceOverHTTP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.client(t), f.client(t)
	_, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)
	_, err = b.SignInAnonymously(ctx)
	require.NoError(t, err)

	got := make(chan remote.Snapshot, 16)
	stop, err := a.Watch(ctx, "families/f/budgetData", func(s remote.Snapshot) { got <- s })
	require.NoError(t, err)
	defer stop()

	select {
	case s := <-got:
		assert.False(t, s.Exists())
	case <-time.After(2 * time.Second):
		t.Fatal("initial value not delivered")
	}

	_, err = b.Set(ctx, "families/f/budgetData", map[string]int{"n": 1})
	require.NoError(t, err)
	select {
	case s := <-got:
		assert.JSONEq(t, `{"n":1}`, string(s.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}

	_, err = b.Set(ctx, "families/f/activeDevices/b", true)
	require.NoError(t, err)
	require.NoError(t, b.OnDisconnectRemove(ctx, "families/f/activeDevices/b"))
	require.NoError(t, b.Close())

	assert.Eventually(t, func() bool {
		return !f.hub.Peek("families/f/activeDevices/b").Exists()
	}, 2*time.Second, 10*time.Millisecond)
}

// The remote client works unchanged against the HTTP transport.
func TestRemoteClientOverHTTP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rc := remote.NewClient(f.client(t), remote.ClientConfig{FamilyID: "fam", Timeout: 2 * time.Second})
	require.True(t, rc.Init(ctx))

	doc := core.DefaultDocument()
	doc, err := core.AddOperation(doc, core.Operation{
		ID: 1, Type: core.Income, Amount: core.NewMoney(99.99), Person: "anna",
		Category: "salary", Date: core.NewDate(2025, 4, 1),
	})
	require.NoError(t, err)

	pushed := make(chan core.Document, 4)
	h, ok := rc.Subscribe(ctx, func(d core.Document) { pushed <- d })
	require.True(t, ok)
	defer rc.Unsubscribe(h)

	require.True(t, rc.Save(ctx, doc))
	loaded := rc.Load(ctx)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Equal(doc))

	select {
	case d := <-pushed:
		assert.True(t, d.Equal(doc))
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}

	raw := f.hub.Peek("families/fam/budgetData").Value
	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Contains(t, string(wire["operations"]), "99.99")
}

func TestStreamReconnectRearmsWatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.client(t)
	_, err := c.SignInAnonymously(ctx)
	require.NoError(t, err)

	got := make(chan remote.Snapshot, 16)
	stop, err := c.Watch(ctx, "doc", func(s remote.Snapshot) { got <- s })
	require.NoError(t, err)
	defer stop()
	<-got

	// dropping every session on the server forces the client to reconnect
	require.Eventually(t, func() bool { return f.srv.Sessions() == 1 }, time.Second, 10*time.Millisecond)
	f.srv.DropSessions()

	require.Eventually(t, func() bool { return f.srv.Sessions() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	writer := f.hub.Connect()
	_, err = writer.SignInAnonymously(ctx)
	require.NoError(t, err)
	_, err = writer.Set(ctx, "doc", "after-reconnect")
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-got:
			if string(s.Value) == `"after-reconnect"` {
				return
			}
		case <-deadline:
			t.Fatal("watch not re-armed after reconnect")
		}
	}
}
