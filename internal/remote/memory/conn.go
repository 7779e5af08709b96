package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"budgetsync/internal/remote"
)

var _ remote.Tree = (*Conn)(nil)

// Conn is one session on a Hub. Closing it runs its on-disconnect removals.
type Conn struct {
	hub *Hub
	id  string

	mu           sync.Mutex
	uid          string
	closed       bool
	offline      bool
	latency      time.Duration
	watches      map[string]struct{}
	onDisconnect []string
}

// ID identifies the session.
func (c *Conn) ID() string {
	return c.id
}

// UID is the anonymous user id once signed in.
func (c *Conn) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// SetOffline simulates a network partition for this session. Coming back
// online redelivers current values to its watchers.
func (c *Conn) SetOffline(offline bool) {
	c.mu.Lock()
	was := c.offline
	c.offline = offline
	c.mu.Unlock()
	if was && !offline {
		c.hub.resync(c)
	}
}

// SetLatency delays every call by d, honouring context cancellation.
func (c *Conn) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
}

func (c *Conn) isOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

// enter runs the common preconditions of every call.
func (c *Conn) enter(ctx context.Context, needAuth bool) error {
	c.mu.Lock()
	latency, closed, offline, uid := c.latency, c.closed, c.offline, c.uid
	c.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case closed:
		return remote.ErrClosed
	case offline:
		return remote.ErrOffline
	case needAuth && uid == "":
		return remote.ErrUnauthenticated
	}
	return nil
}

func (c *Conn) SignInAnonymously(ctx context.Context) (string, error) {
	if err := c.enter(ctx, false); err != nil {
		return "", err
	}
	c.hub.mu.Lock()
	if c.hub.rejectAuth {
		c.hub.mu.Unlock()
		return "", remote.ErrAuthRejected
	}
	c.hub.signIns++
	c.hub.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid == "" {
		c.uid = uuid.NewString()
	}
	return c.uid, nil
}

func (c *Conn) Get(ctx context.Context, path string) (remote.Snapshot, error) {
	if err := c.enter(ctx, true); err != nil {
		return remote.Snapshot{}, err
	}
	return c.hub.Peek(path), nil
}

func (c *Conn) Set(ctx context.Context, path string, value any) (int64, error) {
	return c.write(ctx, path, value, -1)
}

func (c *Conn) SetIf(ctx context.Context, path string, value any, revision int64) (int64, error) {
	return c.write(ctx, path, value, revision)
}

// write stores value at path; a non-negative expect is checked against the
// node's current revision first.
func (c *Conn) write(ctx context.Context, path string, value any, expect int64) (int64, error) {
	if err := c.enter(ctx, true); err != nil {
		return 0, err
	}
	v, err := decodeValue(value)
	if err != nil {
		return 0, err
	}
	path = normalize(path)

	h := c.hub
	h.mu.Lock()
	if expect >= 0 && h.revisionLocked(path) != expect {
		h.mu.Unlock()
		return 0, remote.ErrRevisionMismatch
	}
	after := h.commitLocked(map[string]any{path: v})
	rev := h.revision
	h.mu.Unlock()
	after()
	return rev, nil
}

func (c *Conn) Update(ctx context.Context, path string, fields map[string]any) (int64, error) {
	if err := c.enter(ctx, true); err != nil {
		return 0, err
	}
	path = normalize(path)
	writes := make(map[string]any, len(fields))
	for k, raw := range fields {
		v, err := decodeValue(raw)
		if err != nil {
			return 0, err
		}
		writes[remote.JoinPath(path, k)] = v
	}
	if len(writes) == 0 {
		return c.hub.Revision(), nil
	}

	h := c.hub
	h.mu.Lock()
	after := h.commitLocked(writes)
	rev := h.revision
	h.mu.Unlock()
	after()
	return rev, nil
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	_, err := c.write(ctx, path, nil, -1)
	return err
}

func (c *Conn) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	if err := c.enter(ctx, true); err != nil {
		return nil, err
	}
	return c.hub.children(normalize(path)), nil
}

func (c *Conn) Watch(ctx context.Context, path string, fn remote.WatchFunc) (func(), error) {
	if err := c.enter(ctx, true); err != nil {
		return nil, err
	}
	w := c.hub.addWatcher(c, normalize(path), fn)

	c.mu.Lock()
	if c.watches == nil {
		c.watches = map[string]struct{}{}
	}
	c.watches[w.id] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watches, w.id)
			c.mu.Unlock()
			c.hub.removeWatcher(w.id)
		})
	}, nil
}

func (c *Conn) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := c.enter(ctx, true); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, normalize(path))
	return nil
}

// Close ends the session: watches stop and armed removals are applied as if
// the server noticed the client going away.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watches := c.watches
	c.watches = nil
	pending := c.onDisconnect
	c.onDisconnect = nil
	c.mu.Unlock()

	for id := range watches {
		c.hub.removeWatcher(id)
	}
	if len(pending) == 0 {
		return nil
	}

	writes := make(map[string]any, len(pending))
	for _, p := range pending {
		writes[p] = nil
	}
	h := c.hub
	h.mu.Lock()
	after := h.commitLocked(writes)
	h.mu.Unlock()
	after()
	return nil
}
