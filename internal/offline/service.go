package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/internal/featureflags"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

// SyncObserver receives pass and alert measurements.
type SyncObserver interface {
	ObserveOutcome(outcome string)
	ObservePass(mode string, d time.Duration)
	ObserveAlert(category, severity string)
}

type noopObserver struct{}

func (noopObserver) ObserveOutcome(string)             {}
func (noopObserver) ObservePass(string, time.Duration) {}
func (noopObserver) ObserveAlert(string, string)       {}

// ServiceParams wires the sync engine. Audit, Events, Metrics, Locker and
// Clock are optional.
type ServiceParams struct {
	Repository  Repository
	Idempotency IdempotencyStore
	Locker      BranchLocker
	Catalog     PriceCatalog
	Stock       StockLedger
	Loyalty     LoyaltyLedger
	Flags       FeatureFlags
	Reports     ReportGenerator
	Audit       AuditSink
	Events      EventEmitter
	Metrics     SyncObserver
	Logger      *logger.Logger
	Policy      Policy
	Clock       func() time.Time
}

// Service owns the offline queue state machine for every tenant branch.
type Service struct {
	repo      Repository
	registry  *Registry
	locker    BranchLocker
	mutations *mutations
	auditor   AuditSink
	events    EventEmitter
	metrics   SyncObserver
	logg      *logger.Logger
	policy    Policy
	clock     func() time.Time
}

// NewService validates the params and builds the engine.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, errors.New("offline repository required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency store required")
	}
	if params.Catalog == nil {
		return nil, errors.New("price catalog required")
	}
	if params.Stock == nil {
		return nil, errors.New("stock ledger required")
	}
	if params.Loyalty == nil {
		return nil, errors.New("loyalty ledger required")
	}
	if params.Flags == nil {
		return nil, errors.New("feature flags required")
	}
	if params.Reports == nil {
		return nil, errors.New("report generator required")
	}

	locker := params.Locker
	if locker == nil {
		locker = NewMemoryBranchLocker()
	}
	var observer SyncObserver = noopObserver{}
	if params.Metrics != nil {
		observer = params.Metrics
	}
	policy := params.Policy
	if policy.MaxRetryAttempts <= 0 {
		policy = DefaultPolicy()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		repo:     params.Repository,
		registry: NewRegistry(params.Idempotency, params.Repository),
		locker:   locker,
		mutations: &mutations{
			catalog: params.Catalog,
			stock:   params.Stock,
			loyalty: params.Loyalty,
			flags:   params.Flags,
			reports: params.Reports,
			logg:    params.Logger,
		},
		auditor: params.Audit,
		events:  params.Events,
		metrics: observer,
		logg:    params.Logger,
		policy:  policy,
		clock:   clock,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// EnqueueInput is one device operation submitted for later sync. An empty
// IdempotencyKey gets a server-generated one.
type EnqueueInput struct {
	EventType      enums.QueueEventType
	Payload        Payload
	IdempotencyKey string
	DeviceID       string
}

// Enqueue validates and stores an operation as PENDING. A key the tenant
// already committed or queued is rejected with CodeIdempotency.
func (s *Service) Enqueue(ctx context.Context, scope Scope, input EnqueueInput) (QueueItem, error) {
	if err := validateScope(scope); err != nil {
		return QueueItem{}, err
	}
	if !input.EventType.IsValid() {
		return QueueItem{}, validationErr(fmt.Sprintf("unsupported event type %q", input.EventType))
	}
	if input.Payload == nil {
		return QueueItem{}, validationErr("payload is required")
	}
	if input.Payload.EventType() != input.EventType {
		return QueueItem{}, validationErr(fmt.Sprintf("payload does not match event type %s", input.EventType))
	}
	if err := input.Payload.Validate(); err != nil {
		return QueueItem{}, err
	}

	payload := input.Payload
	switch p := payload.(type) {
	case SalePayload:
		payload = p.withMovements()
	case LoyaltyPayload:
		enabled, err := s.mutations.flags.IsEnabled(ctx, scope.TenantID, featureflags.LoyaltyRules)
		if err != nil {
			return QueueItem{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loyalty flag lookup failed")
		}
		if !enabled {
			return QueueItem{}, pkgerrors.New(pkgerrors.CodeFeatureOff, "loyalty rules are disabled for tenant")
		}
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	known, err := s.registry.KnownForEnqueue(ctx, scope.TenantID, key)
	if err != nil {
		return QueueItem{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup failed")
	}
	if known {
		return QueueItem{}, duplicateKeyErr(key)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return QueueItem{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate queue id")
	}
	now := s.now()
	item := QueueItem{
		ID:               id,
		TenantID:         scope.TenantID,
		BranchID:         scope.BranchID,
		DeviceID:         strings.TrimSpace(input.DeviceID),
		IdempotencyKey:   key,
		EventType:        input.EventType,
		Payload:          payload,
		State:            enums.QueueStatePending,
		ReplayDeadlineAt: now.Add(s.policy.ReplayWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.InsertItem(ctx, item); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return QueueItem{}, duplicateKeyErr(key)
		}
		return QueueItem{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store queue item")
	}

	fx := &sideEffects{}
	s.emit(ctx, fx, enums.EventOfflineItemQueued, enums.AggregateQueueItem, item.ID, itemQueuedEvent(item))
	s.flush(ctx, fx, itemFields(item))
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, itemFields(item)), "offline item queued")
	}
	return item, nil
}

// RecordDirectCommit registers a key committed by a synchronous checkout path
// so a later queued replay of the same operation is recognized.
func (s *Service) RecordDirectCommit(ctx context.Context, scope Scope, key string, eventType enums.QueueEventType) (TransactionRecord, error) {
	if err := validateScope(scope); err != nil {
		return TransactionRecord{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return TransactionRecord{}, validationErr("idempotency key is required")
	}
	if !eventType.IsValid() {
		return TransactionRecord{}, validationErr(fmt.Sprintf("unsupported event type %q", eventType))
	}
	known, err := s.registry.KnownForEnqueue(ctx, scope.TenantID, key)
	if err != nil {
		return TransactionRecord{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup failed")
	}
	if known {
		return TransactionRecord{}, duplicateKeyErr(key)
	}

	rec := TransactionRecord{
		ID:             uuid.New(),
		TenantID:       scope.TenantID,
		BranchID:       scope.BranchID,
		IdempotencyKey: key,
		EventType:      eventType,
		CommittedAt:    s.now(),
	}
	if err := s.registry.Commit(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return TransactionRecord{}, duplicateKeyErr(key)
		}
		return TransactionRecord{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit transaction")
	}

	fx := &sideEffects{}
	s.audit(ctx, fx, scope, audit.ActionDirectCommit, entityTransaction, rec.ID, "", map[string]any{
		"idempotencyKey": key,
		"eventType":      eventType,
	})
	s.emit(ctx, fx, enums.EventOfflineDirectCommit, enums.AggregateTransaction, rec.ID, directCommitEvent(rec))
	s.flush(ctx, fx, scopeFields(scope))
	return rec, nil
}

// ListQueue returns the branch queue in insertion order.
func (s *Service) ListQueue(ctx context.Context, scope Scope, filter ItemFilter) ([]QueueItem, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, scope, filter)
}

// GetItem returns one queue item of the tenant.
func (s *Service) GetItem(ctx context.Context, tenantID, queueID uuid.UUID) (QueueItem, error) {
	item, err := s.repo.GetItem(ctx, tenantID, queueID)
	if err != nil {
		return QueueItem{}, notFoundOr(err, "queue item")
	}
	return item, nil
}

// ListConflicts returns branch conflicts; an empty status matches all.
func (s *Service) ListConflicts(ctx context.Context, scope Scope, status enums.ConflictStatus) ([]Conflict, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if status != "" && !status.IsValid() {
		return nil, validationErr(fmt.Sprintf("invalid conflict status %q", status))
	}
	return s.repo.ListConflicts(ctx, scope, status)
}

// ListAlerts returns branch alerts, newest first.
func (s *Service) ListAlerts(ctx context.Context, scope Scope, openOnly bool) ([]Alert, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	return s.repo.ListAlerts(ctx, scope, openOnly)
}

// SweepTargets lists every branch with work for a sync pass.
func (s *Service) SweepTargets(ctx context.Context) ([]Scope, error) {
	return s.repo.ScopesWithStates(ctx, enums.QueueStatePending, enums.QueueStateFailed, enums.QueueStateSyncing)
}

// PruneTransactions drops transaction records committed before cutoff.
func (s *Service) PruneTransactions(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteTransactionsBefore(ctx, cutoff)
}

func validateScope(scope Scope) error {
	if scope.TenantID == uuid.Nil {
		return validationErr("tenant id is required")
	}
	if scope.BranchID == uuid.Nil {
		return validationErr("branch id is required")
	}
	return nil
}

func duplicateKeyErr(key string) error {
	return pkgerrors.New(pkgerrors.CodeIdempotency, fmt.Sprintf("idempotency key %q already used", key))
}

func stateConflict(msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg)
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, what+" not found")
	}
	return err
}
