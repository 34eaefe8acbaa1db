// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shadowlend/shadowlend-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs every case against a fresh store from factory.
// Keys are prefixed with "kvtest:" so a shared Redis can be cleaned up.
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	cases := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetMissing", testGetMissing},
		{"Overwrite", testOverwrite},
		{"Del", testDel},
		{"Exists", testExists},
		{"TTL", testTTL},
		{"Expiry", testExpiry},
		{"Sets", testSets},
		{"Ping", testPing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tc.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	value := []byte(`{"version":1,"entries":[]}`)

	if err := store.Set(ctx, "kvtest:string", value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "kvtest:string")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(value) {
		t.Fatalf("Expected %q, got %q", value, got)
	}
}

func testGetMissing(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "kvtest:missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "kvtest:overwrite", []byte("a"))
	store.Set(ctx, "kvtest:overwrite", []byte("b"))

	got, err := store.Get(ctx, "kvtest:overwrite")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "b" {
		t.Fatalf("Expected last write to win, got %q", got)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "kvtest:del1", []byte("x"))
	store.Set(ctx, "kvtest:del2", []byte("x"))

	deleted, err := store.Del(ctx, "kvtest:del1", "kvtest:del-missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}
	if _, err := store.Get(ctx, "kvtest:del1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for deleted key, got %v", err)
	}
	if _, err := store.Get(ctx, "kvtest:del2"); err != nil {
		t.Fatalf("Expected kvtest:del2 to remain, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Del(ctx, "kvtest:exists")

	count, err := store.Exists(ctx, "kvtest:exists")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 for missing key, got %d", count)
	}

	store.Set(ctx, "kvtest:exists", []byte("x"))
	count, err = store.Exists(ctx, "kvtest:exists", "kvtest:exists-missing")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1, got %d", count)
	}
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()

	store.Set(ctx, "kvtest:ttl-none", []byte("x"))
	ttl, err := store.TTL(ctx, "kvtest:ttl-none")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != 0 {
		t.Fatalf("Expected no expiry, got %v", ttl)
	}

	store.Set(ctx, "kvtest:ttl", []byte("x"), time.Minute)
	ttl, err = store.TTL(ctx, "kvtest:ttl")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("Expected TTL in (0, 1m], got %v", ttl)
	}

	if _, err := store.TTL(ctx, "kvtest:ttl-missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "kvtest:expiry", []byte("x"), 50*time.Millisecond)

	time.Sleep(1100 * time.Millisecond)

	if _, err := store.Get(ctx, "kvtest:expiry"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected expired key to be gone, got %v", err)
	}
}

func testSets(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "kvtest:set"
	store.Del(ctx, key)

	added, err := store.SAdd(ctx, key, []byte("0xaa"), []byte("0xbb"), []byte("0xaa"))
	if err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	if added != 2 {
		t.Fatalf("Expected 2 added, got %d", added)
	}

	members, err := store.SMembers(ctx, key)
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	got := make([]string, len(members))
	for i, m := range members {
		got[i] = string(m)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "0xaa" || got[1] != "0xbb" {
		t.Fatalf("Unexpected members %v", got)
	}

	removed, err := store.SRem(ctx, key, []byte("0xaa"), []byte("0xcc"))
	if err != nil {
		t.Fatalf("SRem failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Expected 1 removed, got %d", removed)
	}

	empty, err := store.SMembers(ctx, "kvtest:set-missing")
	if err != nil {
		t.Fatalf("SMembers on missing key failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Expected empty set, got %d members", len(empty))
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
