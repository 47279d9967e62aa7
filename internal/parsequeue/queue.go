package parsequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
)

/*
Parse queue

Responsibilities:
- The single bounded buffer between fetchers and parsers in a pod
- Serialize fetch payloads onto the store list, pop them for parsers
- Translate observed queue length into producer throttling:
  above the soft limit fetchers sleep proportionally (plus jitter),
  above the hard limit they wait for the queue to drain to at most soft
*/

// Payload is one fetched page on its way to a parser.
type Payload struct {
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Depth       int    `json:"depth"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	FetchedAt   int64  `json:"fetched_at"`
	StatusCode  int    `json:"status_code"`
}

// drainPollInterval is how often a hard-blocked producer re-checks the
// queue length.
const drainPollInterval = 500 * time.Millisecond

// maxSoftSleep caps the proportional backpressure sleep.
const maxSoftSleep = 2 * time.Second

// Queue is the pod's fetch:queue.
type Queue struct {
	store coordstore.Store
	soft  int64
	hard  int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Queue with the given soft and hard limits.
func New(store coordstore.Store, softLimit, hardLimit int64) *Queue {
	return &Queue{
		store: store,
		soft:  softLimit,
		hard:  hardLimit,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Push appends a payload and returns the resulting queue length, which
// the producer feeds into its backpressure decision.
func (q *Queue) Push(ctx context.Context, payload *Payload) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode parse payload: %w", err)
	}
	return q.store.RPush(ctx, coordstore.FetchQueueKey, string(data))
}

// Pop blocks up to timeout for the next payload. Returns (nil, nil) on
// timeout so consumers can observe shutdown between waits.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Payload, error) {
	data, err := q.store.BLPop(ctx, timeout, coordstore.FetchQueueKey)
	if err != nil {
		if coordstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var payload Payload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decode parse payload: %w", err)
	}
	return &payload, nil
}

// Len returns the current queue length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, coordstore.FetchQueueKey)
}

// AboveHard reports whether the observed length exceeds the hard limit.
func (q *Queue) AboveHard(length int64) bool {
	return length > q.hard
}

// SoftDelay converts an observed queue length into the producer's
// throttle sleep: zero at or below the soft limit, then linear in the
// overflow ratio up to maxSoftSleep, plus up to 500ms of jitter.
func (q *Queue) SoftDelay(length int64) time.Duration {
	if length <= q.soft {
		return 0
	}
	ratio := float64(length-q.soft) / float64(q.hard-q.soft)
	if ratio > 1 {
		ratio = 1
	}
	base := time.Duration(ratio * float64(maxSoftSleep))
	return base + q.jitter(500*time.Millisecond)
}

// WaitForDrain blocks until the queue length drops back to the soft limit
// or below, or the context is cancelled.
func (q *Queue) WaitForDrain(ctx context.Context) error {
	for {
		length, err := q.Len(ctx)
		if err != nil {
			return err
		}
		if length <= q.soft {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}

func (q *Queue) jitter(max time.Duration) time.Duration {
	q.rngMu.Lock()
	defer q.rngMu.Unlock()
	return time.Duration(q.rng.Int63n(int64(max)))
}
