package remote

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherCoalescesToLatest(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int64

	d := NewDispatcher(func(s Snapshot) {
		if s.Revision == 1 {
			<-release
		}
		mu.Lock()
		seen = append(seen, s.Revision)
		mu.Unlock()
	})
	defer d.Stop()

	d.Push(Snapshot{Revision: 1})
	time.Sleep(20 * time.Millisecond)
	for i := int64(2); i <= 5; i++ {
		d.Push(Snapshot{Revision: i})
	}
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int64{1, 5}, seen)
	mu.Unlock()
}

func TestDispatcherStop(t *testing.T) {
	calls := 0
	d := NewDispatcher(func(Snapshot) { calls++ })
	d.Stop()
	d.Stop()
	d.Wait()
	d.Push(Snapshot{Revision: 1})
	assert.Equal(t, 0, calls)
}

func TestSnapshotExists(t *testing.T) {
	assert.False(t, Snapshot{}.Exists())
	assert.False(t, Snapshot{Value: json.RawMessage("null")}.Exists())
	assert.True(t, Snapshot{Value: json.RawMessage("{}")}.Exists())
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "families/f/budgetData", JoinPath("/families/", "", "f", "budgetData/"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("//a/b/"))
	assert.Equal(t, "My_Phone_1", SanitizeKey("My/Phone.1"))
	assert.Equal(t, "unknown", SanitizeKey("  "))
	assert.Equal(t, "families/Device/Mobile/Operations/42", MirrorPath("Mobile", 42))
}
