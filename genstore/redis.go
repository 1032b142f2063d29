package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares generations across processes and survives restarts.
// With a TTL, a generation key that expires reads as 0; the TTL must exceed
// the persistence TTL for the same reason as LocalGenStore retention.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed store; ttl <= 0 disables expiry.
func NewRedisGenStore(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, k string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(k)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

func (s *RedisGenStore) SnapshotMany(ctx context.Context, ks []string) (map[string]uint64, error) {
	if len(ks) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(ks))
	for i, k := range ks {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(ks))
	for i, v := range vals {
		if v == nil {
			out[ks[i]] = 0
			continue
		}
		u, err := strconv.ParseUint(fmt.Sprint(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis gen parse at %s: %w", ks[i], err)
		}
		out[ks[i]] = u
	}
	return out, nil
}

// Bump pipelines INCR + EXPIRE when a TTL is configured.
func (s *RedisGenStore) Bump(ctx context.Context, k string) (uint64, error) {
	key := s.key(k)
	if s.ttl <= 0 {
		return s.rdb.Incr(ctx, key).Uint64()
	}
	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Cleanup is a no-op; Redis handles expiry when a TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

// Close leaves the client open; it is usually shared with the redis provider.
func (s *RedisGenStore) Close(context.Context) error { return nil }
