package store

import (
	"context"
	"testing"
	"time"

	"github.com/shadowlend/shadowlend-backend/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	kvStore := memory.New(0)
	t.Cleanup(func() { kvStore.Close() })
	return NewCache(kvStore, zap.NewNop().Sugar(), nil)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	type position struct {
		Collateral string `json:"collateral"`
		Debt       string `json:"debt"`
	}
	key := Key(KeyPosition, "0xABCDEF")
	assert.Equal(t, "shl:position:0xabcdef", key)

	require.NoError(t, cache.Set(ctx, key, position{"1000", "500"}, time.Minute))

	var got position
	require.NoError(t, cache.Get(ctx, key, &got))
	assert.Equal(t, position{"1000", "500"}, got)

	require.NoError(t, cache.Delete(ctx, key))
	assert.ErrorIs(t, cache.Get(ctx, key, &got), ErrCacheMiss)
}

func TestCacheMiss(t *testing.T) {
	cache := newTestCache(t)

	var dest string
	err := cache.Get(context.Background(), Key(KeyShadowAccount, "0x01"), &dest)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheUnmarshalError(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "shl:test", "not-a-number", time.Minute))

	var n int
	err := cache.Get(ctx, "shl:test", &n)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestPrefixOf(t *testing.T) {
	assert.Equal(t, "shl:shadow", prefixOf("shl:shadow:0xabc"))
	assert.Equal(t, "plain", prefixOf("plain"))
}
