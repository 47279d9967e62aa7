package coordstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the canonical Store implementation, one per pod. It wraps
// a single go-redis client; go-redis pools connections internally so the
// same handle is shared by every worker task in the process.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the pod's Redis using a redis:// URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by e2e tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) HMGet(ctx context.Context, key string, fields ...string) ([]string, error) {
	raw, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[i] = str
		}
	}
	return out, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for field, value := range fields {
		args = append(args, field, value)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *RedisStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return s.client.HSetNX(ctx, key, field, value).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	return s.client.SetNX(ctx, key, value, 0).Result()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.RPush(ctx, key, args...).Result()
}

func (s *RedisStore) LPop(ctx context.Context, key string) (string, error) {
	val, err := s.client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	res, err := s.client.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	// BLPOP returns [key, value]
	return res[1], nil
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) BFReserve(ctx context.Context, key string, errorRate float64, capacity int64) error {
	err := s.client.BFReserve(ctx, key, errorRate, capacity).Err()
	if err != nil && strings.Contains(err.Error(), "exists") {
		// Re-initialization is a no-op by contract.
		return nil
	}
	return err
}

func (s *RedisStore) BFExists(ctx context.Context, key, item string) (bool, error) {
	return s.client.BFExists(ctx, key, item).Result()
}

func (s *RedisStore) BFMExists(ctx context.Context, key string, items ...string) ([]bool, error) {
	args := make([]interface{}, len(items))
	for i, v := range items {
		args[i] = v
	}
	return s.client.BFMExists(ctx, key, args...).Result()
}

func (s *RedisStore) BFMAdd(ctx context.Context, key string, items ...string) ([]bool, error) {
	args := make([]interface{}, len(items))
	for i, v := range items {
		args[i] = v
	}
	return s.client.BFMAdd(ctx, key, args...).Result()
}

func (s *RedisStore) ScanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := s.ScanKeys(ctx, pattern, func(keys []string) error {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
		deleted += int64(len(keys))
		return nil
	})
	return deleted, err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
