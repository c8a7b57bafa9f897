package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/possync-backend/pkg/instance"
	pkgredis "github.com/angelmondragon/possync-backend/pkg/redis"
)

const defaultLockTTL = 5 * time.Minute

// Lock keeps a cycle to a single worker across the fleet.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock holds one fleet-wide key per cycle. Its TTL bounds how long a
// crashed worker keeps the others from sweeping, so it must exceed the
// longest expected cycle.
type RedisLock struct {
	store pkgredis.LeaseStore
	key   string
	ttl   time.Duration
	held  *pkgredis.Lease
}

func NewRedisLock(store pkgredis.LeaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

// Acquire stores the instance id in the token so a stuck sweep can be traced
// from redis.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	lease, err := pkgredis.TryLease(ctx, l.store, l.key, instance.GetID(), l.ttl)
	if err != nil {
		return false, err
	}
	l.held = lease
	return lease != nil, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	lease := l.held
	l.held = nil
	return lease.Release(ctx)
}
