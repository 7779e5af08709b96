// Package memory is an in-process realtime tree. A Hub holds the data and
// each Conn is one client session against it.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"budgetsync/internal/remote"
)

// CommitFunc observes the whole tree after each write.
type CommitFunc func(root json.RawMessage, revision int64)

type HubOption func(*Hub)

// WithSnapshot seeds the hub, e.g. from persisted state.
func WithSnapshot(root json.RawMessage, revision int64) HubOption {
	return func(h *Hub) {
		if v, err := decodeValue(root); err == nil {
			h.root = asNode(v)
			h.revision = revision
			if revision > 0 {
				h.revs[""] = revision
			}
		}
	}
}

// WithCommitHook registers fn to run after every write, outside the hub lock.
func WithCommitHook(fn CommitFunc) HubOption {
	return func(h *Hub) { h.onCommit = fn }
}

type Hub struct {
	mu         sync.Mutex
	root       map[string]any
	revision   int64
	revs       map[string]int64
	watchers   map[string]*watcher
	rejectAuth bool
	signIns    int
	onCommit   CommitFunc
}

type watcher struct {
	id       string
	path     string
	conn     *Conn
	dispatch *remote.Dispatcher
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		root:     map[string]any{},
		revs:     map[string]int64{},
		watchers: map[string]*watcher{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect opens a new session.
func (h *Hub) Connect() *Conn {
	return &Conn{hub: h, id: uuid.NewString()}
}

// RejectAuth makes subsequent anonymous sign-ins fail.
func (h *Hub) RejectAuth(reject bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectAuth = reject
}

// SignIns counts successful anonymous sign-ins.
func (h *Hub) SignIns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signIns
}

// Revision is the revision of the latest write.
func (h *Hub) Revision() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revision
}

// Export returns the whole tree as JSON.
func (h *Hub) Export() (json.RawMessage, int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, _ := json.Marshal(h.root)
	return data, h.revision
}

// Peek reads a path without a session, for tests and admin tooling.
func (h *Hub) Peek(path string) remote.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(normalize(path))
}

func normalize(path string) string {
	return strings.Join(remote.SplitPath(path), "/")
}

// related reports whether a and b are the same node or one contains the other.
func related(a, b string) bool {
	return a == b || a == "" || b == "" ||
		strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func (h *Hub) snapshotLocked(path string) remote.Snapshot {
	v := lookup(h.root, path)
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("null")
	}
	return remote.Snapshot{Value: data, Revision: h.revisionLocked(path)}
}

func (h *Hub) revisionLocked(path string) int64 {
	var rev int64
	for p, r := range h.revs {
		if r > rev && related(p, path) {
			rev = r
		}
	}
	return rev
}

// commitLocked applies writes, bumps the revision once and notifies every
// watcher whose node was touched. The caller must hold h.mu and must call
// the returned func after unlocking.
func (h *Hub) commitLocked(writes map[string]any) func() {
	h.revision++
	rev := h.revision

	for path, v := range writes {
		h.root = asNode(assign(h.root, remote.SplitPath(path), v))
		for p := range h.revs {
			if path == "" || strings.HasPrefix(p, path+"/") {
				delete(h.revs, p)
			}
		}
		h.revs[path] = rev
	}

	for _, w := range h.watchers {
		if w.conn.isOffline() {
			continue
		}
		for path := range writes {
			if related(w.path, path) {
				w.dispatch.Push(h.snapshotLocked(w.path))
				break
			}
		}
	}

	hook := h.onCommit
	if hook == nil {
		return func() {}
	}
	root, _ := json.Marshal(h.root)
	return func() { hook(root, rev) }
}

func (h *Hub) addWatcher(c *Conn, path string, fn remote.WatchFunc) *watcher {
	w := &watcher{
		id:       uuid.NewString(),
		path:     path,
		conn:     c,
		dispatch: remote.NewDispatcher(fn),
	}
	h.mu.Lock()
	h.watchers[w.id] = w
	if !c.isOffline() {
		w.dispatch.Push(h.snapshotLocked(path))
	}
	h.mu.Unlock()
	return w
}

func (h *Hub) removeWatcher(id string) {
	h.mu.Lock()
	w, ok := h.watchers[id]
	delete(h.watchers, id)
	h.mu.Unlock()
	if ok {
		w.dispatch.Stop()
	}
}

// resync delivers current values to every watcher of c, used when a
// session comes back online.
func (h *Hub) resync(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		if w.conn == c {
			w.dispatch.Push(h.snapshotLocked(w.path))
		}
	}
}

func (h *Hub) children(path string) map[string]json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := lookup(h.root, path).(map[string]any)
	out := make(map[string]json.RawMessage, len(node))
	if !ok {
		return out
	}
	for k, v := range node {
		data, err := json.Marshal(v)
		if err == nil {
			out[k] = data
		}
	}
	return out
}

// decodeValue turns a Go value or raw JSON into the tree's generic form.
// Numbers stay json.Number so amounts keep their exact decimal text.
func decodeValue(v any) (any, error) {
	var data []byte
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		data = t
	case []byte:
		data = t
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

// prune drops null children and empty objects; an empty tree is absent.
func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if c := prune(child); c == nil {
				delete(t, k)
			} else {
				t[k] = c
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

func asNode(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func lookup(root map[string]any, path string) any {
	var cur any = root
	for _, seg := range remote.SplitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// assign returns node with v stored at segs, creating or pruning
// intermediate objects. Maps along the path are copied so snapshots already
// handed out are never mutated.
func assign(node any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	src, _ := node.(map[string]any)
	dst := make(map[string]any, len(src)+1)
	for k, c := range src {
		dst[k] = c
	}
	child := assign(dst[segs[0]], segs[1:], v)
	if child == nil {
		delete(dst, segs[0])
	} else {
		dst[segs[0]] = child
	}
	if len(dst) == 0 {
		return nil
	}
	return dst
}
