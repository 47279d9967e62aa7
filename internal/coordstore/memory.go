package coordstore

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by unit tests and
// single-machine experiments. Single commands hold one mutex, which gives
// the same per-command atomicity the Redis implementation provides.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	zsets   map[string]map[string]float64
	blooms  map[string]map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		zsets:   make(map[string]map[string]float64),
		blooms:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) HGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash, ok := s.hashes[key]; ok {
		if val, ok := hash[field]; ok {
			return val, nil
		}
	}
	return "", ErrNotFound
}

func (s *MemoryStore) HMGet(ctx context.Context, key string, fields ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(fields))
	hash := s.hashes[key]
	for i, field := range fields {
		out[i] = hash[field]
	}
	return out, nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for field, val := range s.hashes[key] {
		out[field] = val
	}
	return out, nil
}

func (s *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	for field, val := range fields {
		hash[field] = val
	}
	return nil
}

func (s *MemoryStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	if _, ok := hash[field]; ok {
		return false, nil
	}
	hash[field] = value
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if val, ok := s.strings[key]; ok {
		return val, nil
	}
	return "", ErrNotFound
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strings[key]; ok {
		return false, nil
	}
	s.strings[key] = value
	return true, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := strconv.ParseInt(s.strings[key], 10, 64)
	current += delta
	s.strings[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.deleteKeyLocked(key)
	}
	return nil
}

func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) LPop(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if len(list) == 0 {
		return "", ErrNotFound
	}
	head := list[0]
	s.lists[key] = list[1:]
	return head, nil
}

func (s *MemoryStore) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		val, err := s.LPop(ctx, key)
		if err == nil {
			return val, nil
		}
		if time.Now().After(deadline) {
			return "", ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset := s.zsets[key]
	if zset == nil {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

// The in-memory filter is exact, which satisfies the approximate
// contract trivially (false-positive rate 0).
func (s *MemoryStore) BFReserve(ctx context.Context, key string, errorRate float64, capacity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blooms[key]; !ok {
		s.blooms[key] = make(map[string]struct{})
	}
	return nil
}

func (s *MemoryStore) BFExists(ctx context.Context, key, item string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blooms[key][item]
	return ok, nil
}

func (s *MemoryStore) BFMExists(ctx context.Context, key string, items ...string) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(items))
	for i, item := range items {
		_, out[i] = s.blooms[key][item]
	}
	return out, nil
}

func (s *MemoryStore) BFMAdd(ctx context.Context, key string, items ...string) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bloom := s.blooms[key]
	if bloom == nil {
		bloom = make(map[string]struct{})
		s.blooms[key] = bloom
	}
	out := make([]bool, len(items))
	for i, item := range items {
		if _, ok := bloom[item]; !ok {
			bloom[item] = struct{}{}
			out[i] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) ScanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error {
	s.mu.Lock()
	var matched []string
	for _, key := range s.allKeysLocked() {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	s.mu.Unlock()
	if len(matched) == 0 {
		return nil
	}
	return fn(matched)
}

func (s *MemoryStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := s.ScanKeys(ctx, pattern, func(keys []string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, key := range keys {
			s.deleteKeyLocked(key)
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) deleteKeyLocked(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.zsets, key)
	delete(s.blooms, key)
}

func (s *MemoryStore) allKeysLocked() []string {
	var keys []string
	for key := range s.strings {
		keys = append(keys, key)
	}
	for key := range s.hashes {
		keys = append(keys, key)
	}
	for key := range s.lists {
		keys = append(keys, key)
	}
	for key := range s.zsets {
		keys = append(keys, key)
	}
	for key := range s.blooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
