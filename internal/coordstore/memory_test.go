package coordstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
)

func TestMemoryStore_Hashes(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()

	_, err := store.HGet(ctx, "domain:example.com", "frontier_size")
	assert.True(t, coordstore.IsNotFound(err))

	require.NoError(t, store.HSet(ctx, "domain:example.com", map[string]string{
		"frontier_size":   "120",
		"frontier_offset": "0",
	}))

	size, err := store.HGet(ctx, "domain:example.com", "frontier_size")
	require.NoError(t, err)
	assert.Equal(t, "120", size)

	fields, err := store.HMGet(ctx, "domain:example.com", "frontier_size", "missing", "frontier_offset")
	require.NoError(t, err)
	assert.Equal(t, []string{"120", "", "0"}, fields)

	all, err := store.HGetAll(ctx, "domain:example.com")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// HSetNX only writes absent fields
	set, err := store.HSetNX(ctx, "domain:example.com", "frontier_offset", "999")
	require.NoError(t, err)
	assert.False(t, set)
	set, err = store.HSetNX(ctx, "domain:example.com", "is_seeded", "0")
	require.NoError(t, err)
	assert.True(t, set)
}

func TestMemoryStore_Lists(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()

	length, err := store.RPush(ctx, "domains:queue:0", "a.com", "b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	head, err := store.LPop(ctx, "domains:queue:0")
	require.NoError(t, err)
	assert.Equal(t, "a.com", head)

	length, err = store.LLen(ctx, "domains:queue:0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	_, err = store.LPop(ctx, "empty")
	assert.True(t, coordstore.IsNotFound(err))
}

func TestMemoryStore_BLPop(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()

	// Timeout on empty list
	start := time.Now()
	_, err := store.BLPop(ctx, 50*time.Millisecond, "fetch:queue")
	assert.True(t, coordstore.IsNotFound(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Value pushed while blocked is delivered
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.RPush(ctx, "fetch:queue", "payload")
	}()
	value, err := store.BLPop(ctx, time.Second, "fetch:queue")
	require.NoError(t, err)
	assert.Equal(t, "payload", value)
}

func TestMemoryStore_StringsAndCounters(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()

	set, err := store.SetNX(ctx, "schema_version", "1")
	require.NoError(t, err)
	assert.True(t, set)
	set, err = store.SetNX(ctx, "schema_version", "2")
	require.NoError(t, err)
	assert.False(t, set)

	value, err := store.Get(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", value)

	count, err := store.Incr(ctx, "stats:urls_added")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = store.IncrBy(ctx, "stats:urls_added", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestMemoryStore_Bloom(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()

	require.NoError(t, store.BFReserve(ctx, "seen:bloom", 0.001, 1000))
	// Re-initialization is a no-op
	require.NoError(t, store.BFReserve(ctx, "seen:bloom", 0.001, 1000))

	wasNew, err := store.BFMAdd(ctx, "seen:bloom", "a", "b", "a")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, wasNew)

	exists, err := store.BFExists(ctx, "seen:bloom", "a")
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := store.BFMExists(ctx, "seen:bloom", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, found)
}

func TestMemoryStore_PatternDelete(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()

	require.NoError(t, store.HSet(ctx, "domain:a.com", map[string]string{"x": "1"}))
	require.NoError(t, store.HSet(ctx, "domain:b.com", map[string]string{"x": "1"}))
	require.NoError(t, store.Set(ctx, "schema_version", "1"))

	deleted, err := store.DeleteByPattern(ctx, "domain:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = store.HGet(ctx, "domain:a.com", "x")
	assert.True(t, coordstore.IsNotFound(err))
	_, err = store.Get(ctx, "schema_version")
	assert.NoError(t, err)
}

func TestMemoryStore_ZAdd(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()
	require.NoError(t, store.ZAdd(ctx, "visited:by_time", 1700000000, "abc123"))
	require.NoError(t, store.ZAdd(ctx, "visited:by_time", 1700000001, "abc123"))
}
