package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

func TestRedisStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	s := NewRedisStore(client, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := s.Read(ctx, domain.SSYK2012)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	err = s.Write(ctx, sampleResult())
	assert.ErrorIs(t, err, domain.ErrNetwork)

	assert.Error(t, s.CheckReadiness(ctx))
}
