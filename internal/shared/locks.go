// Package shared holds small cross-cutting helpers used by the jobs and
// service layers.
package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSweepInProgress indicates another detection sweep holds the lock.
var ErrSweepInProgress = errors.New("shared: detection sweep already in progress")

// sweepLockKey is the Redis key guarding the detection sweep critical
// section. One sweep at a time, platform-wide.
const sweepLockKey = "overstay:sweep:lock"

// SweepLock serializes detection sweeps across workers with a Redis
// SetNX lease. The detector assumes serialized execution per booking, so
// overlapping runs must be prevented here, at the scheduler boundary.
type SweepLock struct {
	client *redis.Client
	ttl    time.Duration
	token  string
}

// NewSweepLock constructs a lock with the given lease duration. The
// lease must comfortably exceed the longest expected sweep so a crashed
// worker releases the lock by expiry.
func NewSweepLock(client *redis.Client, ttl time.Duration) *SweepLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SweepLock{client: client, ttl: ttl}
}

// Acquire takes the lease or fails with ErrSweepInProgress.
func (l *SweepLock) Acquire(ctx context.Context) error {
	if l == nil || l.client == nil {
		return errors.New("shared: sweep lock not initialised")
	}
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := l.client.SetNX(ctx, sweepLockKey, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("shared: acquire sweep lock: %w", err)
	}
	if !ok {
		return ErrSweepInProgress
	}
	l.token = token
	return nil
}

// Release drops the lease if this instance still holds it. A lease lost
// to expiry is left alone so a newer holder is not unlocked.
func (l *SweepLock) Release(ctx context.Context) error {
	if l == nil || l.client == nil || l.token == "" {
		return nil
	}
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	err := l.client.Eval(ctx, script, []string{sweepLockKey}, l.token).Err()
	l.token = ""
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: release sweep lock: %w", err)
	}
	return nil
}
