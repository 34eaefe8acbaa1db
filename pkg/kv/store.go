package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// Store is the key-value surface used by the ledger, the shadow-account
// cache and the price cache. Values are opaque bytes.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	// TTL returns 0 for keys without expiry and ErrNotFound for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Set operations back the ledger owner index.
	SAdd(ctx context.Context, key string, members ...[]byte) (int64, error)
	SRem(ctx context.Context, key string, members ...[]byte) (int64, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// TTLFrom picks the optional TTL argument; 0 means no expiry.
func TTLFrom(ttl []time.Duration) time.Duration {
	if len(ttl) == 0 || ttl[0] < 0 {
		return 0
	}
	return ttl[0]
}

// ExpiryFrom converts an optional TTL into an absolute deadline; the zero
// time means no expiry. Shared by backends that track expiry themselves.
func ExpiryFrom(now time.Time, ttl ...time.Duration) time.Time {
	d := TTLFrom(ttl)
	if d == 0 {
		return time.Time{}
	}
	return now.Add(d)
}
