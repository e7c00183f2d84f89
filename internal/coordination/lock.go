// Package coordination provides the Redis-backed per-source harvest lock.
// The lock enforces single-harvest-per-source across processes; without
// Redis configured the harvester falls back to a no-op lock and relies on
// single-process deployment.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/logger"
)

const (
	// DefaultLockTTL is how long a harvest lock lives without renewal.
	DefaultLockTTL = 60 * time.Second

	// renewalDivisor derives the keepalive interval from the TTL.
	renewalDivisor = 3

	lockKeyPrefix = "arc:harvest:lock:"
)

// ErrHarvestInProgress is returned when another process already holds the
// harvest lock for a source.
var ErrHarvestInProgress = errors.New("harvest already in progress for source")

// ErrLockNotHeld is returned when releasing a lock this instance does not
// hold, typically after the TTL expired.
var ErrLockNotHeld = errors.New("harvest lock not held")

// HarvestLock is a mutual-exclusion guard for one source. Acquire is
// non-blocking: an overlapping harvest is an operator error, not
// something to wait out. While held, a keepalive goroutine extends the
// TTL so long harvests are not stolen.
type HarvestLock interface {
	// Acquire takes the lock or fails with ErrHarvestInProgress.
	Acquire(ctx context.Context) error
	// Release gives the lock back and stops the keepalive.
	Release(ctx context.Context) error
}

// NewRedisClient connects to the coordination backend.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// redisLock implements HarvestLock over Redis SETNX with a fencing token,
// so only the holder can release or extend.
type redisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	log    logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLock creates a harvest lock for one source.
func NewLock(client *redis.Client, source string, ttl time.Duration, log logger.Logger) HarvestLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	return &redisLock{
		client: client,
		key:    lockKeyPrefix + source,
		token:  uuid.NewString(),
		ttl:    ttl,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Acquire takes the lock without blocking and starts the keepalive.
func (l *redisLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire harvest lock: %w", err)
	}
	if !ok {
		return ErrHarvestInProgress
	}

	l.wg.Add(1)
	go l.keepalive()

	return nil
}

// Release stops the keepalive and deletes the lock if still held.
func (l *redisLock) Release(ctx context.Context) error {
	close(l.stopCh)
	l.wg.Wait()

	// Check-and-delete must be atomic, so a lock stolen after TTL expiry
	// is never released by the old holder.
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release harvest lock: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// keepalive extends the lock TTL until Release is called.
func (l *redisLock) keepalive() {
	defer l.wg.Done()

	interval := l.ttl / renewalDivisor
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			result, err := script.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()

			if err != nil {
				l.log.Warn("failed to extend harvest lock", logger.Error(err))
				continue
			}
			if result == 0 {
				l.log.Warn("harvest lock expired before renewal", logger.String("key", l.key))
				return
			}
		}
	}
}

// noopLock is the single-process fallback when Redis is not configured.
type noopLock struct{}

// NewNoopLock returns a lock that always acquires.
func NewNoopLock() HarvestLock {
	return noopLock{}
}

func (noopLock) Acquire(context.Context) error { return nil }
func (noopLock) Release(context.Context) error { return nil }
