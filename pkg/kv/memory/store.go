package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shadowlend/shadowlend-backend/pkg/kv"
)

var errClosed = errors.New("memory store closed")

type entry struct {
	value   []byte
	set     map[string]struct{}
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store is an in-memory implementation of kv.Store. Expired keys are hidden
// on read and evicted by an optional janitor goroutine.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
	now     func() time.Time

	janitorStop chan struct{}
	janitorDone chan struct{}
	closeOnce   sync.Once
}

// New creates a store; a janitorInterval of 0 disables background eviction.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		entries:     make(map[string]*entry),
		now:         time.Now,
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	} else {
		close(s.janitorDone)
	}
	return s
}

func (s *Store) janitor(interval time.Duration) {
	defer close(s.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

// lookup must be called with the lock held.
func (s *Store) lookup(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return nil, false
	}
	return e, true
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[key] = &entry{value: cp, expires: kv.ExpiryFrom(s.now(), ttl...)}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	e, ok := s.lookup(key)
	if !ok || e.set != nil {
		return nil, kv.ErrNotFound
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	var n int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			n++
		}
		delete(s.entries, key)
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed
	}

	var n int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed
	}

	e, ok := s.lookup(key)
	if !ok {
		return 0, kv.ErrNotFound
	}
	if e.expires.IsZero() {
		return 0, nil
	}
	return e.expires.Sub(s.now()), nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{set: make(map[string]struct{})}
		s.entries[key] = e
	}
	if e.set == nil {
		return 0, errors.New("WRONGTYPE key holds a string value")
	}

	var added int64
	for _, m := range members {
		if _, exists := e.set[string(m)]; !exists {
			e.set[string(m)] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	e, ok := s.lookup(key)
	if !ok || e.set == nil {
		return 0, nil
	}

	var removed int64
	for _, m := range members {
		if _, exists := e.set[string(m)]; exists {
			delete(e.set, string(m))
			removed++
		}
	}
	if len(e.set) == 0 {
		delete(s.entries, key)
	}
	return removed, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	e, ok := s.lookup(key)
	if !ok || e.set == nil {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, len(e.set))
	for m := range e.set {
		out = append(out, []byte(m))
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone

		s.mu.Lock()
		s.closed = true
		s.entries = nil
		s.mu.Unlock()
	})
	return nil
}
