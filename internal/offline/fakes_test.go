package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/internal/inventory"
	"github.com/angelmondragon/possync-backend/internal/reports"
	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCatalog struct {
	mu     sync.Mutex
	prices map[PriceKey]inventory.Price
}

func (f *fakeCatalog) set(productID uuid.UUID, mode, price string, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = map[PriceKey]inventory.Price{}
	}
	f.prices[PriceKey{ProductID: productID, Mode: mode}] = inventory.Price{
		ProductID: productID,
		Mode:      mode,
		UnitPrice: decimal.RequireFromString(price),
		UpdatedAt: updatedAt,
	}
}

func (f *fakeCatalog) CurrentPrice(_ context.Context, _, productID uuid.UUID, mode string) (inventory.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[PriceKey{ProductID: productID, Mode: mode}]
	if !ok {
		return inventory.Price{}, pkgerrors.New(pkgerrors.CodeNotFound, "price not found")
	}
	return price, nil
}

type stockCall struct {
	key       string
	reason    string
	movements []inventory.Movement
}

type fakeStock struct {
	mu    sync.Mutex
	calls []stockCall
	err   error
}

func (f *fakeStock) ApplyMovements(_ context.Context, _, _ uuid.UUID, key, reason string, movements []inventory.Movement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, stockCall{key: key, reason: reason, movements: movements})
	return nil
}

func (f *fakeStock) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLoyalty struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	keys     map[string]bool
	applies  int
}

func (f *fakeLoyalty) Balance(_ context.Context, _, customerID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[customerID]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return balance, nil
}

func (f *fakeLoyalty) ApplyPoints(_ context.Context, _, customerID uuid.UUID, delta int64, key, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[customerID]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if f.keys[key] {
		return balance, nil
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	f.keys[key] = true
	f.applies++
	f.balances[customerID] = balance + delta
	return balance + delta, nil
}

type fakeFlags struct {
	mu      sync.Mutex
	enabled bool
}

func (f *fakeFlags) set(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeFlags) IsEnabled(context.Context, uuid.UUID, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

type fakeReports struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeReports) Generate(_ context.Context, _, _ uuid.UUID, templateID string, _ map[string]string) ([]reports.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if templateID == "missing" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown template")
	}
	f.calls = append(f.calls, templateID)
	return []reports.Row{{"count": 1}}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) Record(_ context.Context, input audit.RecordInput) (*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, input.Action)
	return &models.AuditEntry{ID: uuid.New(), Action: input.Action}, nil
}

func (f *fakeAudit) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.actions {
		if a == action {
			n++
		}
	}
	return n
}

type fakeEvents struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (f *fakeEvents) Emit(_ context.Context, event outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) count(eventType enums.OutboxEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// slowKeyRepo widens the gap between the key lookup and the commit.
type slowKeyRepo struct {
	Repository
	delay time.Duration
}

func (r slowKeyRepo) HasItemWithKey(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	found, err := r.Repository.HasItemWithKey(ctx, tenantID, key)
	time.Sleep(r.delay)
	return found, err
}

// failingRepo fails selected writes and delegates everything else.
type failingRepo struct {
	Repository
	mu          sync.Mutex
	appendFails int
	updateFails func(QueueItem) bool
}

func (r *failingRepo) AppendTransaction(ctx context.Context, rec TransactionRecord) error {
	r.mu.Lock()
	if r.appendFails > 0 {
		r.appendFails--
		r.mu.Unlock()
		return errors.New("transaction ledger unavailable")
	}
	r.mu.Unlock()
	return r.Repository.AppendTransaction(ctx, rec)
}

func (r *failingRepo) UpdateItem(ctx context.Context, item QueueItem) error {
	r.mu.Lock()
	fail := r.updateFails != nil && r.updateFails(item)
	r.mu.Unlock()
	if fail {
		return errors.New("queue table unavailable")
	}
	return r.Repository.UpdateItem(ctx, item)
}

type harness struct {
	svc     *Service
	repo    *MemoryRepository
	store   *MemoryIdempotencyStore
	clock   *testClock
	catalog *fakeCatalog
	stock   *fakeStock
	loyalty *fakeLoyalty
	flags   *fakeFlags
	reports *fakeReports
	audit   *fakeAudit
	events  *fakeEvents
	scope   Scope
}

type harnessDeps struct {
	wrapRepo func(Repository) Repository
	loyalty  LoyaltyLedger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, harnessDeps{})
}

func newHarnessWith(t *testing.T, deps harnessDeps) *harness {
	t.Helper()
	h := &harness{
		repo:    NewMemoryRepository(),
		store:   NewMemoryIdempotencyStore(),
		clock:   newTestClock(),
		catalog: &fakeCatalog{},
		stock:   &fakeStock{},
		loyalty: &fakeLoyalty{balances: map[uuid.UUID]int64{}},
		flags:   &fakeFlags{enabled: true},
		reports: &fakeReports{},
		audit:   &fakeAudit{},
		events:  &fakeEvents{},
		scope:   Scope{TenantID: uuid.New(), BranchID: uuid.New()},
	}
	var repo Repository = h.repo
	if deps.wrapRepo != nil {
		repo = deps.wrapRepo(h.repo)
	}
	var loyalty LoyaltyLedger = h.loyalty
	if deps.loyalty != nil {
		loyalty = deps.loyalty
	}
	svc, err := NewService(ServiceParams{
		Repository:  repo,
		Idempotency: h.store,
		Catalog:     h.catalog,
		Stock:       h.stock,
		Loyalty:     loyalty,
		Flags:       h.flags,
		Reports:     h.reports,
		Audit:       h.audit,
		Events:      h.events,
		Policy:      DefaultPolicy(),
		Clock:       h.clock.Now,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) enqueue(t *testing.T, payload Payload, key string) QueueItem {
	t.Helper()
	item, err := h.svc.Enqueue(context.Background(), h.scope, EnqueueInput{
		EventType:      payload.EventType(),
		Payload:        payload,
		IdempotencyKey: key,
		DeviceID:       "till-1",
	})
	require.NoError(t, err)
	return item
}

func (h *harness) sync(t *testing.T) SyncResult {
	t.Helper()
	result, err := h.svc.SyncPass(context.Background(), h.scope)
	require.NoError(t, err)
	return result
}

func (h *harness) item(t *testing.T, id uuid.UUID) QueueItem {
	t.Helper()
	item, err := h.repo.GetItem(context.Background(), h.scope.TenantID, id)
	require.NoError(t, err)
	return item
}

func (h *harness) alerts(t *testing.T) []Alert {
	t.Helper()
	alerts, err := h.repo.ListAlerts(context.Background(), h.scope, false)
	require.NoError(t, err)
	return alerts
}

func salePayload(productID uuid.UUID, qty int, price string, pricedAt time.Time) SalePayload {
	return SalePayload{
		Lines: []SaleLine{{
			ProductID: productID,
			Mode:      "retail",
			Quantity:  qty,
			UnitPrice: decimal.RequireFromString(price),
		}},
		PricedAt: pricedAt,
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, pkgerrors.CodeOf(err), "unexpected error: %v", err)
}

func pkgCode(code string) pkgerrors.Code {
	return pkgerrors.Code(code)
}
