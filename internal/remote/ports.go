package remote

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrRevisionMismatch = errors.New("revision mismatch")
	ErrUnauthenticated  = errors.New("not signed in")
	ErrAuthRejected     = errors.New("anonymous sign-in rejected")
	ErrOffline          = errors.New("remote unreachable")
	ErrClosed           = errors.New("connection closed")
)

// Snapshot is the value stored at a path together with the revision of the
// last write that touched it.
type Snapshot struct {
	Value    json.RawMessage `json:"value"`
	Revision int64           `json:"revision"`
}

// Exists reports whether the snapshot carries a non-null value.
func (s Snapshot) Exists() bool {
	v := string(s.Value)
	return v != "" && v != "null"
}

// WatchFunc receives the full value at a watched path.
type WatchFunc func(Snapshot)

// Tree is a session against a hosted realtime key/value tree. Paths are
// slash separated; writing null removes a node.
type Tree interface {
	SignInAnonymously(ctx context.Context) (string, error)
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value any) (int64, error)
	// SetIf writes only when the current revision at path equals revision.
	SetIf(ctx context.Context, path string, value any, revision int64) (int64, error)
	// Update merges fields into the node at path; nil values remove children.
	Update(ctx context.Context, path string, fields map[string]any) (int64, error)
	Remove(ctx context.Context, path string) error
	List(ctx context.Context, path string) (map[string]json.RawMessage, error)
	// Watch calls fn with the current value and again after every change.
	Watch(ctx context.Context, path string, fn WatchFunc) (func(), error)
	// OnDisconnectRemove arms a server-side removal of path for when this
	// session ends.
	OnDisconnectRemove(ctx context.Context, path string) error
	Close() error
}
