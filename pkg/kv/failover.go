package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LogFunc is a function type for structured logging
type LogFunc func(msg string, fields ...any)

// FailoverStore prefers the primary store and falls back to the secondary
// while the primary reports ErrBackendUnavailable. A background probe
// promotes the primary again once it answers Ping.
//
// Data written to the fallback during an outage is not copied back.
type FailoverStore struct {
	primary       Store
	fallback      Store
	active        atomic.Pointer[storeBox]
	probeInterval time.Duration
	logger        LogFunc

	mu        sync.Mutex
	probing   bool
	probeStop chan struct{}
	probeDone chan struct{}
	closeOnce sync.Once
}

// storeBox gives the active pointer one concrete type whichever backend it holds.
type storeBox struct{ Store }

func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	fs := &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger,
	}
	fs.active.Store(&storeBox{primary})
	return fs
}

// NewFailoverStoreWithFallbackActive starts on the fallback and probes the
// primary right away; used when the primary failed its startup check.
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := NewFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(&storeBox{fallback})
	fs.mu.Lock()
	fs.startProbingLocked()
	fs.mu.Unlock()
	return fs
}

func (fs *FailoverStore) activeStore() Store {
	return fs.active.Load().Store
}

// UsingFallback reports whether requests currently go to the fallback store.
func (fs *FailoverStore) UsingFallback() bool {
	return fs.activeStore() == fs.fallback
}

func (fs *FailoverStore) demote() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.activeStore() == fs.fallback {
		return
	}
	fs.active.Store(&storeBox{fs.fallback})
	fs.logger("Failing over to in-memory store", "reason", "primary_unavailable")
	fs.startProbingLocked()
}

func (fs *FailoverStore) startProbingLocked() {
	if fs.probing {
		return
	}
	fs.probing = true
	fs.probeStop = make(chan struct{})
	fs.probeDone = make(chan struct{})
	go fs.probeLoop(fs.probeStop, fs.probeDone)
}

func (fs *FailoverStore) probeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()
			if err != nil {
				continue
			}

			fs.mu.Lock()
			fs.active.Store(&storeBox{fs.primary})
			fs.probing = false
			fs.mu.Unlock()
			fs.logger("Recovered to primary store", "reason", "primary_healthy")
			return
		}
	}
}

func do[T any](fs *FailoverStore, fn func(Store) (T, error)) (T, error) {
	store := fs.activeStore()
	result, err := fn(store)
	if store == fs.primary && errors.Is(err, ErrBackendUnavailable) {
		fs.demote()
		return fn(fs.activeStore())
	}
	return result, err
}

func (fs *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	_, err := do(fs, func(s Store) (struct{}, error) {
		return struct{}{}, s.Set(ctx, key, value, ttl...)
	})
	return err
}

func (fs *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	return do(fs, func(s Store) ([]byte, error) { return s.Get(ctx, key) })
}

func (fs *FailoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return do(fs, func(s Store) (int64, error) { return s.Del(ctx, keys...) })
}

func (fs *FailoverStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return do(fs, func(s Store) (int64, error) { return s.Exists(ctx, keys...) })
}

func (fs *FailoverStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return do(fs, func(s Store) (time.Duration, error) { return s.TTL(ctx, key) })
}

func (fs *FailoverStore) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	return do(fs, func(s Store) (int64, error) { return s.SAdd(ctx, key, members...) })
}

func (fs *FailoverStore) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	return do(fs, func(s Store) (int64, error) { return s.SRem(ctx, key, members...) })
}

func (fs *FailoverStore) SMembers(ctx context.Context, key string) ([][]byte, error) {
	return do(fs, func(s Store) ([][]byte, error) { return s.SMembers(ctx, key) })
}

// Ping checks the active store only; a degraded but serving store is healthy.
func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.activeStore().Ping(ctx)
}

func (fs *FailoverStore) Close() error {
	var errs []error
	fs.closeOnce.Do(func() {
		fs.mu.Lock()
		if fs.probing {
			close(fs.probeStop)
			done := fs.probeDone
			fs.probing = false
			fs.mu.Unlock()
			<-done
		} else {
			fs.mu.Unlock()
		}
		if err := fs.primary.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := fs.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
