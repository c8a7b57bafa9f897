package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/angelmondragon/possync-backend/pkg/redis"
)

// BranchLocker serializes sync passes, reconciliations and resolutions of one
// tenant branch. Different scopes never block each other.
type BranchLocker interface {
	Lock(ctx context.Context, scope Scope) (unlock func(), err error)
}

// MemoryBranchLocker serializes work within a single process.
type MemoryBranchLocker struct {
	mu    sync.Mutex
	slots map[Scope]chan struct{}
}

// NewMemoryBranchLocker returns a process-local locker.
func NewMemoryBranchLocker() *MemoryBranchLocker {
	return &MemoryBranchLocker{slots: make(map[Scope]chan struct{})}
}

func (l *MemoryBranchLocker) Lock(ctx context.Context, scope Scope) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[scope]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[scope] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type redisLockStore interface {
	pkgredis.LeaseStore
	LockKey(name string) string
}

const defaultBranchLockPoll = 50 * time.Millisecond

// RedisBranchLocker serializes branch work across api and worker instances.
// The TTL bounds how long a crashed holder can block the branch.
type RedisBranchLocker struct {
	client redisLockStore
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisBranchLocker builds a redis-backed locker.
func NewRedisBranchLocker(client redisLockStore, ttl time.Duration) (*RedisBranchLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for branch lock")
	}
	if ttl <= 0 {
		return nil, errors.New("branch lock ttl must be positive")
	}
	return &RedisBranchLocker{client: client, ttl: ttl, poll: defaultBranchLockPoll}, nil
}

// Lock polls until the branch key is free or ctx ends.
func (l *RedisBranchLocker) Lock(ctx context.Context, scope Scope) (func(), error) {
	key := l.client.LockKey("offline:" + scope.String())
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		lease, err := pkgredis.TryLease(ctx, l.client, key, "", l.ttl)
		if err != nil {
			return nil, fmt.Errorf("branch lock: %w", err)
		}
		if lease != nil {
			return func() { releaseDetached(lease) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// releaseDetached runs on a fresh context so a canceled request still frees
// the branch.
func releaseDetached(lease *pkgredis.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = lease.Release(ctx)
}
