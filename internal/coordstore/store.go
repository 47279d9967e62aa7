package coordstore

import (
	"context"
	"time"
)

/*
Coordination store

Responsibilities:
- Single access path for all cross-process crawler state
- Atomic single commands; multi-command sequences are issued as separate
  commands (no pipeline or transaction), so they are not atomic as a whole
- Stable key layout shared by every pod process

The store knows nothing about crawl semantics. Frontier, politeness and
storage decide what the keys mean; this package only moves them.
*/

// Store is the narrow surface the crawler needs from its per-pod
// coordination service. The canonical implementation wraps a Redis
// client; MemoryStore backs unit tests and single-process experiments.
type Store interface {
	// Hashes
	HGet(ctx context.Context, key, field string) (string, error)
	HMGet(ctx context.Context, key string, fields ...string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)

	// Strings and counters
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Del(ctx context.Context, keys ...string) error

	// Lists
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPop(ctx context.Context, key string) (string, error)
	BLPop(ctx context.Context, timeout time.Duration, key string) (string, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Sorted sets
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// Approximate membership (Bloom filter commands)
	BFReserve(ctx context.Context, key string, errorRate float64, capacity int64) error
	BFExists(ctx context.Context, key, item string) (bool, error)
	BFMExists(ctx context.Context, key string, items ...string) ([]bool, error)
	BFMAdd(ctx context.Context, key string, items ...string) ([]bool, error)

	// Key iteration / bulk delete
	ScanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
