package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseStore is what a Lease needs from redis. Stores that also implement
// ReleaseLock free the key atomically; others fall back to GET then DEL.
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type atomicReleaser interface {
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// Lease is a held SETNX key. The token is unique per acquisition so a late
// release never frees a key that expired and was taken by someone else.
type Lease struct {
	store LeaseStore
	key   string
	token string
}

// TryLease makes one attempt at key. It returns a nil lease without error
// when another holder owns it. holder prefixes the token so the owner can be
// read back from redis.
func TryLease(ctx context.Context, store LeaseStore, key, holder string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	if holder != "" {
		token = holder + "/" + token
	}
	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{store: store, key: key, token: token}, nil
}

func (l *Lease) Key() string   { return l.key }
func (l *Lease) Token() string { return l.token }

// Release frees the key if this lease still owns it. Calling it on a nil or
// already released lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	defer func() { l.token = "" }()

	if r, ok := l.store.(atomicReleaser); ok {
		_, err := r.ReleaseLock(ctx, l.key, l.token)
		return err
	}
	value, err := l.store.Get(ctx, l.key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s owner: %w", l.key, err)
	}
	if value != l.token {
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
