package services

import (
	"sync"
	"time"
)

// SyncState is the user visible connection indicator.
type SyncState string

const (
	StateConnecting SyncState = "connecting"
	StateSyncing    SyncState = "syncing"
	StateConnected  SyncState = "connected"
	StateOffline    SyncState = "offline"
)

// Status is a point-in-time view of the sync layer.
type Status struct {
	CloudConnected bool      `json:"cloudConnected"`
	State          SyncState `json:"state"`
	LastSync       time.Time `json:"lastSync,omitempty"`
	FamilyID       string    `json:"familyId"`
}

// StatusTracker holds the current Status and notifies listeners on change.
type StatusTracker struct {
	mu        sync.Mutex
	status    Status
	gen       uint64
	listeners map[int]func(Status)
	nextID    int
	now       func() time.Time
}

func NewStatusTracker(familyID string) *StatusTracker {
	return &StatusTracker{
		status:    Status{State: StateConnecting, FamilyID: familyID},
		listeners: make(map[int]func(Status)),
		now:       time.Now,
	}
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Set moves to state unconditionally.
func (t *StatusTracker) Set(state SyncState) {
	t.update(func(s *Status) bool {
		if s.State == state {
			return false
		}
		s.State = state
		return true
	})
}

// SetIf moves to `to` only when the current state is `from`.
func (t *StatusTracker) SetIf(from, to SyncState) bool {
	return t.update(func(s *Status) bool {
		if s.State != from {
			return false
		}
		s.State = to
		return true
	})
}

// SetCloud records whether the remote store is usable.
func (t *StatusTracker) SetCloud(connected bool) {
	t.update(func(s *Status) bool {
		if s.CloudConnected == connected {
			return false
		}
		s.CloudConnected = connected
		return true
	})
}

// MarkSynced stamps LastSync with the current time.
func (t *StatusTracker) MarkSynced() {
	t.update(func(s *Status) bool {
		s.LastSync = t.now().UTC()
		return true
	})
}

// SettleAfter returns the tracker to connected after delay, unless another
// push or state change happened in between.
func (t *StatusTracker) SettleAfter(delay time.Duration) {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	settle := func() {
		t.mu.Lock()
		if t.gen != gen || t.status.State != StateSyncing {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		t.SetIf(StateSyncing, StateConnected)
	}
	if delay <= 0 {
		settle()
		return
	}
	time.AfterFunc(delay, settle)
}

// Subscribe registers fn for every status change and returns a function
// that removes it.
func (t *StatusTracker) Subscribe(fn func(Status)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *StatusTracker) update(change func(*Status) bool) bool {
	t.mu.Lock()
	if !change(&t.status) {
		t.mu.Unlock()
		return false
	}
	t.gen++
	snap := t.status
	listeners := make([]func(Status), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return true
}
