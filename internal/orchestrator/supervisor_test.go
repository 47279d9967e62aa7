package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_CleanExitNotRestarted(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	super := newSupervisor(cancel)
	var runs atomic.Int32
	super.launch(ctx, "fetcher", 0, func(ctx context.Context, id int) error {
		runs.Add(1)
		return nil
	})

	require.True(t, super.wait(5*time.Second))
	assert.Equal(t, int32(1), runs.Load())
}

func TestSupervisor_RestartsFailedGroupWithNewID(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	super := newSupervisor(cancel)
	var ids []int
	var runs atomic.Int32
	super.launch(ctx, "parser", 0, func(ctx context.Context, id int) error {
		ids = append(ids, id)
		if runs.Add(1) < 3 {
			return errors.New("worker died")
		}
		return nil
	})

	require.True(t, super.wait(30*time.Second))
	assert.Equal(t, int32(3), runs.Load())
	// Each incarnation got a fresh sequential id
	assert.Equal(t, []int{0, 1, 2}, ids)
}

func TestSupervisor_PanicIsRestarted(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	super := newSupervisor(cancel)
	var runs atomic.Int32
	super.launch(ctx, "fetcher", 0, func(ctx context.Context, id int) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	require.True(t, super.wait(30*time.Second))
	assert.Equal(t, int32(2), runs.Load())
}

func TestSupervisor_RestartStormAborts(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	super := newSupervisor(cancel)
	super.launch(ctx, "fetcher", 0, func(ctx context.Context, id int) error {
		return errors.New("always failing")
	})

	require.True(t, super.wait(60*time.Second))
	cause := context.Cause(ctx)
	require.Error(t, cause)
	assert.Contains(t, cause.Error(), "restarts")
}

func TestSupervisor_ShutdownStopsRestarting(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())

	super := newSupervisor(cancel)
	started := make(chan struct{}, 1)
	super.launch(ctx, "fetcher", 0, func(ctx context.Context, id int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	cancel(nil)
	assert.True(t, super.wait(5*time.Second))
}
