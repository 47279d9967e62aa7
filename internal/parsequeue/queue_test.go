package parsequeue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
	"github.com/rohmanhakim/web-crawler/internal/parsequeue"
)

func TestQueue_PushPopRoundtrip(t *testing.T) {
	ctx := context.Background()
	queue := parsequeue.New(coordstore.NewMemoryStore(), 100, 200)

	payload := &parsequeue.Payload{
		URL:         "http://ex.com/a",
		Domain:      "ex.com",
		Depth:       3,
		Body:        []byte("<html><body>hi</body></html>"),
		ContentType: "text/html; charset=utf-8",
		FetchedAt:   1_700_000_000,
		StatusCode:  200,
	}
	length, err := queue.Push(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	got, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payload.URL, got.URL)
	assert.Equal(t, payload.Domain, got.Domain)
	assert.Equal(t, payload.Depth, got.Depth)
	assert.Equal(t, payload.Body, got.Body)
	assert.Equal(t, payload.ContentType, got.ContentType)
	assert.Equal(t, payload.FetchedAt, got.FetchedAt)
	assert.Equal(t, payload.StatusCode, got.StatusCode)
}

func TestQueue_PopTimeoutReturnsNil(t *testing.T) {
	queue := parsequeue.New(coordstore.NewMemoryStore(), 100, 200)
	got, err := queue.Pop(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_SoftDelayMonotonic(t *testing.T) {
	queue := parsequeue.New(coordstore.NewMemoryStore(), 100, 200)

	// At or below the soft limit there is no throttle at all
	assert.Zero(t, queue.SoftDelay(0))
	assert.Zero(t, queue.SoftDelay(100))

	// Above it, the base delay grows with the observed length. Jitter
	// is bounded by 500ms, so compare with that slack.
	low := queue.SoftDelay(110)
	mid := queue.SoftDelay(150)
	high := queue.SoftDelay(200)
	assert.Greater(t, low, time.Duration(0))
	assert.GreaterOrEqual(t, mid+500*time.Millisecond, low)
	assert.GreaterOrEqual(t, high+500*time.Millisecond, mid)

	// The ratio caps at 1: far past hard is no worse than hard + jitter
	assert.LessOrEqual(t, queue.SoftDelay(10_000), 2*time.Second+500*time.Millisecond)
}

func TestQueue_AboveHard(t *testing.T) {
	queue := parsequeue.New(coordstore.NewMemoryStore(), 100, 200)
	assert.False(t, queue.AboveHard(200))
	assert.True(t, queue.AboveHard(201))
}

func TestQueue_WaitForDrain(t *testing.T) {
	ctx := context.Background()
	store := coordstore.NewMemoryStore()
	queue := parsequeue.New(store, 2, 5)

	for i := 0; i < 6; i++ {
		_, err := queue.Push(ctx, &parsequeue.Payload{URL: "http://ex.com/a"})
		require.NoError(t, err)
	}

	// A consumer drains in the background; the producer unblocks once
	// the length is back at or below soft.
	go func() {
		for i := 0; i < 4; i++ {
			time.Sleep(100 * time.Millisecond)
			_, _ = queue.Pop(ctx, time.Second)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- queue.WaitForDrain(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		length, err := queue.Len(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, length, int64(2))
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForDrain did not return")
	}
}

func TestQueue_WaitForDrainHonorsCancellation(t *testing.T) {
	store := coordstore.NewMemoryStore()
	queue := parsequeue.New(store, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 3; i++ {
		_, err := queue.Push(ctx, &parsequeue.Payload{URL: "http://ex.com/a"})
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := queue.WaitForDrain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
