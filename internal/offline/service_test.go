package offline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/possync-backend/internal/inventory"
	"github.com/angelmondragon/possync-backend/pkg/enums"
)

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{
		Repository:  NewMemoryRepository(),
		Idempotency: NewMemoryIdempotencyStore(),
	})
	require.Error(t, err)
}

func TestEnqueue_StoresPendingItem(t *testing.T) {
	h := newHarness(t)
	productID := uuid.New()
	payload := SalePayload{
		Lines: []SaleLine{
			{ProductID: productID, Quantity: 2, UnitPrice: decimal.RequireFromString("3.00")},
			{ProductID: productID, Mode: "wholesale", Quantity: 5, UnitPrice: decimal.RequireFromString("2.50")},
		},
		PricedAt: h.clock.Now(),
	}

	item := h.enqueue(t, payload, "  sale-7  ")
	assert.Equal(t, "sale-7", item.IdempotencyKey)
	assert.Equal(t, enums.QueueStatePending, item.State)
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, "till-1", item.DeviceID)
	assert.Equal(t, h.clock.Now().Add(72*time.Hour), item.ReplayDeadlineAt)
	assert.Equal(t, uuid.Version(7), item.ID.Version())

	stored, ok := item.Payload.(SalePayload)
	require.True(t, ok)
	assert.Equal(t, "retail", stored.Lines[0].Mode)
	assert.Equal(t, []inventory.Movement{{ProductID: productID, Delta: -7}}, stored.Movements)
	assert.Equal(t, 1, h.events.count(enums.EventOfflineItemQueued))

	listed, err := h.svc.ListQueue(context.Background(), h.scope, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, item.ID, listed[0].ID)
}

func TestEnqueue_GeneratesMissingKey(t *testing.T) {
	h := newHarness(t)
	item := h.enqueue(t, ReportPayload{TemplateID: "offline_queue_summary"}, "")
	assert.NotEmpty(t, item.IdempotencyKey)
}

func TestEnqueue_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, ReportPayload{TemplateID: "offline_queue_summary"}, "report-1")

	tests := []struct {
		name  string
		scope Scope
		input EnqueueInput
		code  string
	}{
		{
			name:  "missing branch",
			scope: Scope{TenantID: h.scope.TenantID},
			input: EnqueueInput{EventType: enums.QueueEventReport, Payload: ReportPayload{TemplateID: "x"}},
			code:  "VALIDATION_ERROR",
		},
		{
			name:  "unknown event type",
			scope: h.scope,
			input: EnqueueInput{EventType: "REFUND", Payload: ReportPayload{TemplateID: "x"}},
			code:  "VALIDATION_ERROR",
		},
		{
			name:  "payload mismatch",
			scope: h.scope,
			input: EnqueueInput{EventType: enums.QueueEventSale, Payload: ReportPayload{TemplateID: "x"}},
			code:  "VALIDATION_ERROR",
		},
		{
			name:  "invalid payload",
			scope: h.scope,
			input: EnqueueInput{EventType: enums.QueueEventInventory, Payload: InventoryPayload{}},
			code:  "VALIDATION_ERROR",
		},
		{
			name:  "duplicate key",
			scope: h.scope,
			input: EnqueueInput{EventType: enums.QueueEventReport, Payload: ReportPayload{TemplateID: "x"}, IdempotencyKey: "report-1"},
			code:  "IDEMPOTENCY_KEY_REUSED",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Enqueue(ctx, tc.scope, tc.input)
			requireCode(t, err, pkgCode(tc.code))
		})
	}
}

func TestEnqueue_LoyaltyRequiresFlag(t *testing.T) {
	h := newHarness(t)
	h.flags.set(false)
	_, err := h.svc.Enqueue(context.Background(), h.scope, EnqueueInput{
		EventType: enums.QueueEventLoyalty,
		Payload:   LoyaltyPayload{CustomerID: uuid.New(), Operation: enums.LoyaltyAccrue, Points: 10},
	})
	requireCode(t, err, "FEATURE_DISABLED")

	items, err := h.svc.ListQueue(context.Background(), h.scope, ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnqueue_KeysAreTenantScoped(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, ReportPayload{TemplateID: "offline_queue_summary"}, "shared-key")

	other := Scope{TenantID: uuid.New(), BranchID: uuid.New()}
	_, err := h.svc.Enqueue(context.Background(), other, EnqueueInput{
		EventType:      enums.QueueEventReport,
		Payload:        ReportPayload{TemplateID: "offline_queue_summary"},
		IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)
}

func TestRecordDirectCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.svc.RecordDirectCommit(ctx, h.scope, "pos-1", enums.QueueEventSale)
	require.NoError(t, err)
	assert.Nil(t, rec.SourceQueueID)
	assert.Equal(t, 1, h.events.count(enums.EventOfflineDirectCommit))

	_, err = h.svc.RecordDirectCommit(ctx, h.scope, "pos-1", enums.QueueEventSale)
	requireCode(t, err, "IDEMPOTENCY_KEY_REUSED")

	_, err = h.svc.Enqueue(ctx, h.scope, EnqueueInput{
		EventType:      enums.QueueEventReport,
		Payload:        ReportPayload{TemplateID: "offline_queue_summary"},
		IdempotencyKey: "pos-1",
	})
	requireCode(t, err, "IDEMPOTENCY_KEY_REUSED")

	_, err = h.svc.RecordDirectCommit(ctx, h.scope, " ", enums.QueueEventSale)
	requireCode(t, err, "VALIDATION_ERROR")
}

func TestRecordDirectCommit_ConcurrentBranchesCommitKeyOnce(t *testing.T) {
	h := newHarnessWith(t, harnessDeps{
		wrapRepo: func(repo Repository) Repository {
			return slowKeyRepo{Repository: repo, delay: 20 * time.Millisecond}
		},
	})
	ctx := context.Background()
	branches := []Scope{
		{TenantID: h.scope.TenantID, BranchID: uuid.New()},
		{TenantID: h.scope.TenantID, BranchID: uuid.New()},
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, len(branches))
	)
	for i, scope := range branches {
		wg.Add(1)
		go func(i int, scope Scope) {
			defer wg.Done()
			<-start
			_, errs[i] = h.svc.RecordDirectCommit(ctx, scope, "pos-race", enums.QueueEventSale)
		}(i, scope)
	}
	close(start)
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireCode(t, err, "IDEMPOTENCY_KEY_REUSED")
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, h.events.count(enums.EventOfflineDirectCommit))

	h.repo.mu.RLock()
	defer h.repo.mu.RUnlock()
	assert.Len(t, h.repo.transactions, 1)
}

func TestPruneTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.RecordDirectCommit(ctx, h.scope, "old", enums.QueueEventSale)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.svc.RecordDirectCommit(ctx, h.scope, "new", enums.QueueEventSale)
	require.NoError(t, err)

	deleted, err := h.svc.PruneTransactions(ctx, h.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rec, err := h.repo.FindTransaction(ctx, h.scope.TenantID, "new")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
