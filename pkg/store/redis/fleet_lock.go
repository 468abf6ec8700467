package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"yarrow/pkg/logger"
)

const (
	fleetLockKeyPrefix = "yarrow:fleet-lock:"
	fleetLockTTL       = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
)

// Only the holder's token may extend or release the lock
var (
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)
)

// FleetLock guards a fleet name prefix so that a single controller reconciles it.
// The lock expires on its own if the holder dies; a live holder renews it in the background.
type FleetLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	mu        sync.Mutex
	held      bool
	stopRenew chan struct{}
	renewDone chan struct{}
}

// NewFleetLock creates the lock of the fleet using namePrefix
func NewFleetLock(redisClient *RedisClient, namePrefix string) *FleetLock {
	return &FleetLock{
		client: redisClient.GetClient(),
		key:    fleetLockKeyPrefix + namePrefix,
		token:  uuid.NewString(),
		ttl:    fleetLockTTL,
	}
}

// Key returns the Redis key of the lock
func (l *FleetLock) Key() string {
	return l.key
}

// TryLock acquires the lock without waiting. It returns false when another controller holds it.
func (l *FleetLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire fleet lock %s: %w", l.key, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "Fleet lock %s already held by another controller", l.key)
		return false, nil
	}

	l.held = true
	l.stopRenew = make(chan struct{})
	l.renewDone = make(chan struct{})
	go l.renew(context.WithoutCancel(ctx), l.stopRenew, l.renewDone)

	logger.DebugCtx(ctx, "Fleet lock %s acquired", l.key)
	return true, nil
}

// IsHeld reports whether this instance holds the lock
func (l *FleetLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Unlock stops renewal and releases the lock if it is still ours
func (l *FleetLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	stop, done := l.stopRenew, l.renewDone
	l.mu.Unlock()

	close(stop)
	<-done

	released, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release fleet lock %s: %w", l.key, err)
	}
	if released == 0 {
		logger.WarnCtx(ctx, "Fleet lock %s was lost before release", l.key)
	}
	return nil
}

func (l *FleetLock) renew(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				logger.WarnCtx(ctx, "Failed to renew fleet lock %s: %v", l.key, err)
				continue
			}
			if renewed == 0 {
				logger.ErrorCtx(ctx, "Fleet lock %s lost to another controller", l.key)
				l.mu.Lock()
				l.held = false
				l.mu.Unlock()
				return
			}
		}
	}
}
