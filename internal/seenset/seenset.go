package seenset

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
)

/*
Seen-set

Responsibilities:
- Global "have we ever enqueued this URL?" probabilistic membership
- No false negatives; bounded false-positive rate per configuration
- Linearizable per-key test-and-set across processes in a pod

The authoritative filter lives in the coordination store so every process
in the pod shares it. A process-local Bloom filter sits in front and
caches positive answers only: a local hit means the URL is certainly
recorded (modulo the local filter's own false positives, which fold into
the configured over-suppression budget), a local miss proves nothing and
falls through to the store.
*/

// SeenSet is the approximate membership contract the frontier depends on.
type SeenSet interface {
	// Exists may return false positives, never false negatives.
	Exists(ctx context.Context, url string) (bool, error)
	// Add is an atomic test-and-set; wasNew is true when the URL had
	// never been recorded.
	Add(ctx context.Context, url string) (bool, error)
	// BatchAdd returns one was-new flag per input URL.
	BatchAdd(ctx context.Context, urls []string) ([]bool, error)
}

// StoreSeenSet implements SeenSet on the pod's coordination store.
type StoreSeenSet struct {
	store coordstore.Store

	mu    sync.Mutex
	local *bloom.BloomFilter
}

// localCacheSize bounds the process-local positive cache. It only saves
// round trips, so it can be much smaller than the shared filter.
const localCacheSize = 10_000_000

// New creates a StoreSeenSet and ensures the shared filter exists with
// the requested capacity and false-positive rate. Re-initialization of an
// existing filter is a no-op.
func New(ctx context.Context, store coordstore.Store, capacity int64, errorRate float64) (*StoreSeenSet, error) {
	if err := store.BFReserve(ctx, coordstore.SeenBloomKey, errorRate, capacity); err != nil {
		return nil, err
	}
	return &StoreSeenSet{
		store: store,
		local: bloom.NewWithEstimates(localCacheSize, errorRate),
	}, nil
}

func (s *StoreSeenSet) Exists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	hit := s.local.TestString(url)
	s.mu.Unlock()
	if hit {
		return true, nil
	}
	exists, err := s.store.BFExists(ctx, coordstore.SeenBloomKey, url)
	if err != nil {
		return false, err
	}
	if exists {
		s.cache(url)
	}
	return exists, nil
}

func (s *StoreSeenSet) Add(ctx context.Context, url string) (bool, error) {
	results, err := s.BatchAdd(ctx, []string{url})
	if err != nil {
		return false, err
	}
	return results[0], nil
}

func (s *StoreSeenSet) BatchAdd(ctx context.Context, urls []string) ([]bool, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	wasNew, err := s.store.BFMAdd(ctx, coordstore.SeenBloomKey, urls...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, url := range urls {
		s.local.AddString(url)
	}
	s.mu.Unlock()
	return wasNew, nil
}

// BatchExists checks many URLs in one round trip. URLs the local cache
// already knows are answered without touching the store.
func (s *StoreSeenSet) BatchExists(ctx context.Context, urls []string) ([]bool, error) {
	out := make([]bool, len(urls))
	var misses []string
	var missIdx []int
	s.mu.Lock()
	for i, url := range urls {
		if s.local.TestString(url) {
			out[i] = true
		} else {
			misses = append(misses, url)
			missIdx = append(missIdx, i)
		}
	}
	s.mu.Unlock()
	if len(misses) == 0 {
		return out, nil
	}
	found, err := s.store.BFMExists(ctx, coordstore.SeenBloomKey, misses...)
	if err != nil {
		return nil, err
	}
	for j, exists := range found {
		if exists {
			out[missIdx[j]] = true
			s.cache(misses[j])
		}
	}
	return out, nil
}

func (s *StoreSeenSet) cache(url string) {
	s.mu.Lock()
	s.local.AddString(url)
	s.mu.Unlock()
}
