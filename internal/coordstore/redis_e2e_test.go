//go:build e2e

package coordstore_test

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
)

// TestRedisStoreE2E exercises the real Redis adapter. Requires a Redis
// with the Bloom module at 127.0.0.1:6379.
func TestRedisStoreE2E(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}

	store := coordstore.NewRedisStoreFromClient(client)
	bg := context.Background()

	t.Cleanup(func() {
		_, _ = store.DeleteByPattern(bg, "e2etest:*")
	})

	// Hash roundtrip
	require.NoError(t, store.HSet(bg, "e2etest:domain", map[string]string{"frontier_size": "42"}))
	value, err := store.HGet(bg, "e2etest:domain", "frontier_size")
	require.NoError(t, err)
	assert.Equal(t, "42", value)
	_, err = store.HGet(bg, "e2etest:domain", "missing")
	assert.True(t, coordstore.IsNotFound(err))

	// List claim semantics
	_, err = store.RPush(bg, "e2etest:queue", "a.com", "b.com")
	require.NoError(t, err)
	head, err := store.LPop(bg, "e2etest:queue")
	require.NoError(t, err)
	assert.Equal(t, "a.com", head)

	// Bloom test-and-set
	require.NoError(t, store.BFReserve(bg, "e2etest:bloom", 0.001, 10_000))
	require.NoError(t, store.BFReserve(bg, "e2etest:bloom", 0.001, 10_000)) // no-op
	wasNew, err := store.BFMAdd(bg, "e2etest:bloom", "u1", "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, wasNew)
}
