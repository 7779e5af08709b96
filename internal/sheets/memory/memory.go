package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"budgetsync/internal/core"
	ports "budgetsync/internal/sheets"
)

var _ ports.Mirror = (*Store)(nil)

// Store keeps mirror rows per year in memory.
type Store struct {
	mu   sync.Mutex
	rows map[int][]core.MirrorRecord
	fail error
}

func New() *Store {
	return &Store{rows: make(map[int][]core.MirrorRecord)}
}

// FailWith makes every later call return err; nil restores normal
// behaviour.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func year(rec core.MirrorRecord) int {
	if d, err := core.ParseDate(rec.Date); err == nil {
		return d.Year()
	}
	return 0
}

// AppendOperation stores the record and returns a synthetic row reference.
func (s *Store) AppendOperation(_ context.Context, rec core.MirrorRecord) (string, error) {
	if rec.ID <= 0 {
		return "", errors.New("mirror record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	y := year(rec)
	s.rows[y] = append(s.rows[y], rec)
	return fmt.Sprintf("mem:%d:%d", y, len(s.rows[y])), nil
}

func (s *Store) HasOperation(_ context.Context, rec core.MirrorRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	for _, r := range s.rows[year(rec)] {
		if r.ID == rec.ID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListOperations(_ context.Context, y int) ([]core.MirrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return append([]core.MirrorRecord(nil), s.rows[y]...), nil
}

// Len returns the number of stored rows across all years.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}

