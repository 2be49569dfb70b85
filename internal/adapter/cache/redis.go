package cache

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// RedisStore keeps results in Redis under daioe:v1:<taxonomy>:{weighted,simple,manifest}.
// Entries do not expire.
type RedisStore struct {
	client *redis.Client
	clock  clockwork.Clock
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client, clock clockwork.Clock) *RedisStore {
	return &RedisStore{client: client, clock: clock}
}

// Keys returns the weighted table, simple table and manifest keys of a taxonomy.
func Keys(tax domain.Taxonomy) (weighted, simple, manifest string) {
	prefix := fmt.Sprintf("daioe:v%d:%s:", Version, tax)
	return prefix + "weighted", prefix + "simple", prefix + "manifest"
}

// Read returns the cached result, or domain.ErrCacheMiss when any key is absent.
func (s *RedisStore) Read(ctx context.Context, tax domain.Taxonomy) (domain.Result, error) {
	wKey, sKey, mKey := Keys(tax)
	vals, err := s.client.MGet(ctx, mKey, wKey, sKey).Result()
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: redis mget: %w", domain.ErrNetwork, err)
	}

	parts := make([][]byte, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return domain.Result{}, domain.ErrCacheMiss
		}
		parts[i] = []byte(str)
	}
	return decodeEntry(tax, entry{manifest: parts[0], weighted: parts[1], simple: parts[2]})
}

// Write stores all three payloads in one MULTI/EXEC transaction.
func (s *RedisStore) Write(ctx context.Context, r domain.Result) error {
	e, err := encodeEntry(r, s.clock.Now())
	if err != nil {
		return err
	}
	wKey, sKey, mKey := Keys(r.Taxonomy)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, wKey, e.weighted, 0)
		pipe.Set(ctx, sKey, e.simple, 0)
		pipe.Set(ctx, mKey, e.manifest, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis write: %w", domain.ErrNetwork, err)
	}
	return nil
}

// CheckReadiness pings Redis.
func (s *RedisStore) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
