package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/pkg/enums"
)

// MemoryRepository is the in-process reference store.
type MemoryRepository struct {
	mu           sync.RWMutex
	items        []QueueItem
	itemIndex    map[uuid.UUID]int
	keys         map[uuid.UUID]map[string]uuid.UUID
	transactions []TransactionRecord
	conflicts    []Conflict
	alerts       []Alert
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		itemIndex: make(map[uuid.UUID]int),
		keys:      make(map[uuid.UUID]map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) InsertItem(_ context.Context, item QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenantKeys := r.keys[item.TenantID]
	if tenantKeys == nil {
		tenantKeys = make(map[string]uuid.UUID)
		r.keys[item.TenantID] = tenantKeys
	}
	if _, exists := tenantKeys[item.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	tenantKeys[item.IdempotencyKey] = item.ID
	r.itemIndex[item.ID] = len(r.items)
	r.items = append(r.items, item)
	return nil
}

func (r *MemoryRepository) UpdateItem(_ context.Context, item QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.itemIndex[item.ID]
	if !ok || r.items[idx].TenantID != item.TenantID {
		return ErrNotFound
	}
	r.items[idx] = item
	return nil
}

func (r *MemoryRepository) GetItem(_ context.Context, tenantID, queueID uuid.UUID) (QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.itemIndex[queueID]
	if !ok || r.items[idx].TenantID != tenantID {
		return QueueItem{}, ErrNotFound
	}
	return r.items[idx], nil
}

func (r *MemoryRepository) ListItems(_ context.Context, scope Scope, filter ItemFilter) ([]QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []QueueItem
	for _, item := range r.items {
		if item.Scope() != scope || !filter.matches(item) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *MemoryRepository) HasItemWithKey(_ context.Context, tenantID uuid.UUID, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[tenantID][key]
	return ok, nil
}

func (r *MemoryRepository) ScopesWithStates(_ context.Context, states ...enums.QueueState) ([]Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[Scope]bool{}
	var out []Scope
	for _, item := range r.items {
		if len(states) > 0 && !containsState(states, item.State) {
			continue
		}
		scope := item.Scope()
		if seen[scope] {
			continue
		}
		seen[scope] = true
		out = append(out, scope)
	}
	return out, nil
}

func (r *MemoryRepository) AppendTransaction(_ context.Context, rec TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.TenantID == rec.TenantID && existing.IdempotencyKey == rec.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	r.transactions = append(r.transactions, rec)
	return nil
}

func (r *MemoryRepository) FindTransaction(_ context.Context, tenantID uuid.UUID, key string) (*TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.transactions {
		if rec.TenantID == tenantID && rec.IdempotencyKey == key {
			found := rec
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) DeleteTransactionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.transactions[:0]
	var deleted int64
	for _, rec := range r.transactions {
		if rec.CommittedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.transactions = kept
	return deleted, nil
}

func (r *MemoryRepository) InsertConflict(_ context.Context, conflict Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, conflict)
	return nil
}

func (r *MemoryRepository) UpdateConflict(_ context.Context, conflict Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.conflicts {
		if r.conflicts[i].ID == conflict.ID && r.conflicts[i].TenantID == conflict.TenantID {
			r.conflicts[i] = conflict
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) GetConflict(_ context.Context, tenantID, conflictID uuid.UUID) (Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conflicts {
		if c.ID == conflictID && c.TenantID == tenantID {
			return c, nil
		}
	}
	return Conflict{}, ErrNotFound
}

func (r *MemoryRepository) ListConflicts(_ context.Context, scope Scope, status enums.ConflictStatus) ([]Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conflict
	for _, c := range r.conflicts {
		if c.TenantID != scope.TenantID || c.BranchID != scope.BranchID {
			continue
		}
		if status != "" && c.ResolutionStatus != status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepository) InsertAlert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.Open() {
		for _, existing := range r.alerts {
			if existing.Open() && existing.TenantID == alert.TenantID && existing.BranchID == alert.BranchID &&
				existing.Category == alert.Category && existing.Source == alert.Source {
				return ErrAlertOpen
			}
		}
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *MemoryRepository) UpdateAlert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.alerts {
		if r.alerts[i].ID == alert.ID && r.alerts[i].TenantID == alert.TenantID {
			r.alerts[i] = alert
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) GetAlert(_ context.Context, tenantID, alertID uuid.UUID) (Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alerts {
		if a.ID == alertID && a.TenantID == tenantID {
			return a, nil
		}
	}
	return Alert{}, ErrNotFound
}

func (r *MemoryRepository) FindOpenAlert(_ context.Context, scope Scope, category enums.AlertCategory, source enums.AlertSource) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alerts {
		if a.Open() && a.TenantID == scope.TenantID && a.BranchID == scope.BranchID &&
			a.Category == category && a.Source == source {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListAlerts(_ context.Context, scope Scope, openOnly bool) ([]Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.TenantID != scope.TenantID || a.BranchID != scope.BranchID {
			continue
		}
		if openOnly && !a.Open() {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
