package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore is the tenant-scoped set of keys proven committed.
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	IsCommitted(ctx context.Context, tenantID uuid.UUID, key string) (bool, error)
	MarkCommitted(ctx context.Context, tenantID uuid.UUID, key string) error
}

// MemoryIdempotencyStore keeps committed keys for the process lifetime.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]map[string]struct{}
}

// NewMemoryIdempotencyStore returns an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{keys: make(map[uuid.UUID]map[string]struct{})}
}

func (s *MemoryIdempotencyStore) IsCommitted(_ context.Context, tenantID uuid.UUID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[tenantID][key]
	return ok, nil
}

func (s *MemoryIdempotencyStore) MarkCommitted(_ context.Context, tenantID uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenantKeys := s.keys[tenantID]
	if tenantKeys == nil {
		tenantKeys = make(map[string]struct{})
		s.keys[tenantID] = tenantKeys
	}
	tenantKeys[key] = struct{}{}
	return nil
}

type redisKeyStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
}

// RedisIdempotencyStore shares committed keys across instances. Keys expire
// after ttl, which must outlive the replay window.
type RedisIdempotencyStore struct {
	client redisKeyStore
	ttl    time.Duration
}

// NewRedisIdempotencyStore builds a redis-backed store.
func NewRedisIdempotencyStore(client redisKeyStore, ttl time.Duration) (*RedisIdempotencyStore, error) {
	if client == nil {
		return nil, errors.New("redis client required for idempotency store")
	}
	if ttl <= 0 {
		return nil, errors.New("idempotency ttl must be positive")
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}, nil
}

func (s *RedisIdempotencyStore) IsCommitted(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	_, err := s.client.Get(ctx, s.redisKey(tenantID, key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("read idempotency key: %w", err)
	}
	return true, nil
}

func (s *RedisIdempotencyStore) MarkCommitted(ctx context.Context, tenantID uuid.UUID, key string) error {
	if _, err := s.client.SetNX(ctx, s.redisKey(tenantID, key), "1", s.ttl); err != nil {
		return fmt.Errorf("mark idempotency key: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) redisKey(tenantID uuid.UUID, key string) string {
	return s.client.IdempotencyKey("offline:"+tenantID.String(), key)
}

type keyOwnership int

const (
	keyFree keyOwnership = iota
	keyOwned
	keyCommittedElsewhere
)

// Registry answers whether an idempotency key already produced an effect,
// combining the committed set with the transaction ledger and the queue.
type Registry struct {
	store IdempotencyStore
	repo  Repository
}

// NewRegistry wires the registry.
func NewRegistry(store IdempotencyStore, repo Repository) *Registry {
	return &Registry{store: store, repo: repo}
}

// IsKnown reports whether the key is in the committed set or carried by a
// transaction record.
func (r *Registry) IsKnown(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	committed, err := r.store.IsCommitted(ctx, tenantID, key)
	if err != nil || committed {
		return committed, err
	}
	rec, err := r.repo.FindTransaction(ctx, tenantID, key)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// KnownForEnqueue additionally treats a key held by any queued item as known.
func (r *Registry) KnownForEnqueue(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	known, err := r.IsKnown(ctx, tenantID, key)
	if err != nil || known {
		return known, err
	}
	return r.repo.HasItemWithKey(ctx, tenantID, key)
}

// ownership classifies the key relative to queueID. A transaction sourced
// from queueID means the item already committed; any other transaction, or a
// committed key without one, means another path committed it.
func (r *Registry) ownership(ctx context.Context, tenantID uuid.UUID, key string, queueID uuid.UUID) (keyOwnership, error) {
	rec, err := r.repo.FindTransaction(ctx, tenantID, key)
	if err != nil {
		return keyFree, err
	}
	if rec != nil {
		if rec.SourceQueueID != nil && *rec.SourceQueueID == queueID {
			return keyOwned, nil
		}
		return keyCommittedElsewhere, nil
	}
	committed, err := r.store.IsCommitted(ctx, tenantID, key)
	if err != nil {
		return keyFree, err
	}
	if committed {
		return keyCommittedElsewhere, nil
	}
	return keyFree, nil
}

// Commit appends the transaction record and then marks the key committed.
func (r *Registry) Commit(ctx context.Context, rec TransactionRecord) error {
	if err := r.repo.AppendTransaction(ctx, rec); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return r.MarkCommitted(ctx, rec.TenantID, rec.IdempotencyKey)
}

// MarkCommitted adds the key to the committed set.
func (r *Registry) MarkCommitted(ctx context.Context, tenantID uuid.UUID, key string) error {
	if err := r.store.MarkCommitted(ctx, tenantID, key); err != nil {
		return fmt.Errorf("mark committed: %w", err)
	}
	return nil
}
