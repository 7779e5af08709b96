// Package localstore is the device-local cache of the budget document. It
// never surfaces errors: failed reads yield the caller's fallback and failed
// writes report false, with the cause logged.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetsync/internal/cache"
	"budgetsync/internal/log"
)

const (
	defaultCacheSize = 16
	defaultCacheTTL  = 5 * time.Minute
)

type Store struct {
	backend Backend
	reads   *cache.LRUCache[string]

	// gen advances on every write; a cache fill whose read started under an
	// older generation is discarded.
	mu  sync.Mutex
	gen uint64
}

type Option func(*Store)

// WithCache replaces the read cache, mainly to register it elsewhere.
func WithCache(c *cache.LRUCache[string]) Option {
	return func(s *Store) { s.reads = c }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		reads:   cache.NewLRUCache[string](defaultCacheSize, defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadCache exposes the read cache so a cache.Manager can sweep it.
func (s *Store) ReadCache() *cache.LRUCache[string] {
	return s.reads
}

// GetRaw returns the stored JSON text for key.
func (s *Store) GetRaw(ctx context.Context, key string) (string, bool) {
	if v, ok := s.reads.Get(key); ok {
		return v, true
	}
	gen := s.generation()
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Local read failed",
			log.FieldComponent, log.ComponentLocalStore,
			log.FieldKey, key,
			log.FieldError, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	s.fill(key, v, gen)
	return v, true
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Store) fill(key, v string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.reads.Set(key, v)
	}
}

func (s *Store) invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.reads.Delete(key)
}

func (s *Store) invalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.reads.Purge()
}

// Load decodes the value at key into dst and reports whether it succeeded.
// dst is left untouched when the entry is missing or corrupt.
func (s *Store) Load(ctx context.Context, key string, dst any) bool {
	raw, ok := s.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.WarnContext(ctx, "Corrupt local entry",
			log.FieldComponent, log.ComponentLocalStore,
			log.FieldKey, key,
			log.FieldError, err)
		return false
	}
	return true
}

// Get returns the decoded value at key, or fallback.
func Get[T any](ctx context.Context, s *Store, key string, fallback T) T {
	var v T
	if !s.Load(ctx, key, &v) {
		return fallback
	}
	return v
}

// Set serializes value and stores it under key.
func (s *Store) Set(ctx context.Context, key string, value any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Local write panicked",
				log.FieldComponent, log.ComponentLocalStore,
				log.FieldKey, key,
				log.FieldError, fmt.Sprint(r))
			ok = false
		}
	}()

	data, err := json.Marshal(value)
	if err != nil {
		slog.WarnContext(ctx, "Value not serializable",
			log.FieldComponent, log.ComponentLocalStore,
			log.FieldKey, key,
			log.FieldError, err)
		return false
	}

	s.invalidate(key)
	defer s.invalidate(key)
	if err := s.backend.Put(ctx, key, string(data)); err != nil {
		slog.WarnContext(ctx, "Local write failed",
			log.FieldComponent, log.ComponentLocalStore,
			log.FieldKey, key,
			log.FieldError, err)
		return false
	}
	return true
}

func (s *Store) Remove(ctx context.Context, key string) bool {
	s.invalidate(key)
	defer s.invalidate(key)
	if err := s.backend.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "Local remove failed",
			log.FieldComponent, log.ComponentLocalStore,
			log.FieldKey, key,
			log.FieldError, err)
		return false
	}
	return true
}

func (s *Store) Clear(ctx context.Context) bool {
	s.invalidateAll()
	defer s.invalidateAll()
	if err := s.backend.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "Local clear failed",
			log.FieldComponent, log.ComponentLocalStore,
			log.FieldError, err)
		return false
	}
	return true
}
