// Package kv is the small key-value abstraction behind the pending-operation
// ledger and the read caches. It ships an in-memory backend for development
// and tests and a Redis backend (go-redis/v9) for shared deployments.
//
// Backends register themselves on import:
//
//	import (
//		"github.com/shadowlend/shadowlend-backend/pkg/kv"
//		_ "github.com/shadowlend/shadowlend-backend/pkg/kv/memory"
//		_ "github.com/shadowlend/shadowlend-backend/pkg/kv/redis"
//	)
//
//	store, err := kv.NewStoreFromConfig(kv.Config{
//		Backend:         kv.BackendRedis,
//		RedisURL:        "redis://localhost:6379/0",
//		FailoverEnabled: true,
//	})
//
// With failover enabled, connection errors from Redis switch traffic to an
// in-memory store until a background probe sees Redis answer again.
package kv
