package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
	"github.com/angelmondragon/possync-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/possync-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			syncedEvent(t, "event-one"),
			syncedEvent(t, "event-two"),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "domain-topic"},
		Payload:    &payloads.OfflineItemSyncedEvent{},
	}
	observer := &fakeObserver{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.metrics = observer

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
	if observer.counts[outcomeRetry] != 1 || observer.counts[outcomePublished] != 1 {
		t.Fatalf("unexpected outcome counts %v", observer.counts)
	}
}

func TestStartPublishAddsRoutingAttributes(t *testing.T) {
	tenantID, branchID := uuid.New(), uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOfflineAlertRaised,
		AggregateType: enums.AggregateAlert,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "alert"),
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "alert-topic", AggregateType: enums.AggregateAlert},
		Envelope:   outbox.PayloadEnvelope{EventID: "alert", OccurredAt: time.Now()},
		Payload: &payloads.OfflineAlertRaisedEvent{
			TenantID: tenantID,
			BranchID: branchID,
			Category: "RISK",
			Severity: "READ_ONLY",
		},
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, &fakeRepo{}, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	var topics []string
	service.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	result, err := service.startPublish(context.Background(), event, resolved)
	if err != nil {
		t.Fatalf("startPublish: %v", err)
	}
	if _, err := result.Get(context.Background()); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(topics) != 1 || topics[0] != "alert-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	attrs := pub.sent[0].Attributes
	want := map[string]string{
		"tenant_id":  tenantID.String(),
		"branch_id":  branchID.String(),
		"severity":   "READ_ONLY",
		"category":   "RISK",
		"event_type": string(enums.EventOfflineAlertRaised),
		"event_id":   "alert",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Fatalf("attribute %s: expected %q, got %q", k, v, attrs[k])
		}
	}
	if want := tenantID.String() + "/" + branchID.String(); pub.sent[0].OrderingKey != want {
		t.Fatalf("expected ordering key %q, got %q", want, pub.sent[0].OrderingKey)
	}
	if !bytes.Equal(pub.sent[0].Data, event.Payload) {
		t.Fatalf("message data must be the stored envelope")
	}
}

func TestStartPublishWithoutPublisherIsNonRetryable(t *testing.T) {
	event := syncedEvent(t, "orphan")
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "missing-topic"},
		Payload:    &payloads.OfflineItemSyncedEvent{},
	}
	service := newTestService(t, &fakeRepo{}, nil, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.startPublish(context.Background(), event, resolved)
	var nonRetry registry.NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestServiceProcessBatchDeadLettersUnroutableEvents(t *testing.T) {
	event := syncedEvent(t, "nonretryable")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	eventRegistry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row marked terminal, got %d", len(repo.terminal))
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := syncedEvent(t, "max-attempts")
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "domain-topic"},
		Payload:    &payloads.OfflineItemSyncedEvent{},
	}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlqRepo.entries[0].ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row must not also be marked failed")
	}
}

func TestServiceProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("expected empty batch to report nothing processed")
	}
}

func TestServiceProcessBatchPublishesBeforeWaiting(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			syncedEvent(t, "first"),
			syncedEvent(t, "second"),
			syncedEvent(t, "third"),
		},
	}
	gate := make(chan struct{})
	pub := &fakePublisher{results: []publishResult{
		gatedResult{gate: gate},
		gatedResult{gate: gate},
		gatedResult{gate: gate},
	}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "domain-topic"},
		Payload:    &payloads.OfflineItemSyncedEvent{},
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, &config.OutboxConfig{BatchSize: 3, MaxAttempts: 5})
	service.publishTimeout = 2 * time.Second
	pub.onPublish = func() {
		if len(pub.sent) == len(repo.events) {
			close(gate)
		}
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if got := len(repo.published); got != 3 {
		t.Fatalf("expected all rows published, got %d", got)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	base := 500 * time.Millisecond
	if got := nextBackoff(0, base, maxBackoff); got != time.Second {
		t.Fatalf("expected doubling from base, got %s", got)
	}
	if got := nextBackoff(8*time.Second, base, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap %s, got %s", maxBackoff, got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func syncedEvent(tb testing.TB, eventID string) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOfflineItemSynced,
		AggregateType: enums.AggregateQueueItem,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(tb, eventID),
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results   []publishResult
	sent      []*gcppubsub.Message
	onPublish func()
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if f.onPublish != nil {
		f.onPublish()
	}
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

// gatedResult blocks until every message of the batch has been handed over.
type gatedResult struct {
	gate chan struct{}
}

func (g gatedResult) Get(ctx context.Context) (string, error) {
	select {
	case <-g.gate:
		return "id", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeObserver struct {
	counts map[string]int
}

func (f *fakeObserver) ObservePublish(_ string, outcome string) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[outcome]++
}

func TestOrderingKeyNeedsFullScope(t *testing.T) {
	if got := orderingKey(map[string]string{"tenant_id": "t"}); got != "" {
		t.Fatalf("expected no key without a branch, got %q", got)
	}
	if got := orderingKey(map[string]string{"tenant_id": "t", "branch_id": "b"}); got != "t/b" {
		t.Fatalf("unexpected key %q", got)
	}
}
