package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const counterKeyPrefix = "yarrow:index:" // Session counter (yarrow:index:{session})

// CounterRepository keeps session counters in Redis so several index services can share them
type CounterRepository struct {
	redis *redis.Client
}

// NewCounterRepository creates counter repository
func NewCounterRepository(redisClient *RedisClient) *CounterRepository {
	return &CounterRepository{
		redis: redisClient.GetClient(),
	}
}

// Next returns the next value of the session counter, starting from 0
func (r *CounterRepository) Next(ctx context.Context, session string) (int64, error) {
	n, err := r.redis.Incr(ctx, counterKeyPrefix+session).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return n - 1, nil
}
