package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

// DomainEvent is what the sync engine hands to the outbox. Data is encoded
// into the envelope as-is; the publisher decodes it again through the
// registry before shipping.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("unsupported outbox event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("unsupported aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return errors.New("aggregate id required")
	}
	return nil
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit writes event inside tx so it commits or rolls back with the queue
// change it describes.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return err
	}
	row, envelope, err := encode(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType, err)
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

func encode(event DomainEvent) (models.OutboxEvent, PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, err
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	version := event.Version
	if version == 0 {
		version = 1
	}
	envelope := PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, err
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
		CreatedAt:     envelope.OccurredAt,
	}, envelope, nil
}

// Emitter writes single events in their own transaction for callers that do
// not hold one.
type Emitter struct {
	db  *gorm.DB
	svc *Service
}

func NewEmitter(db *gorm.DB, svc *Service) *Emitter {
	return &Emitter{db: db, svc: svc}
}

func (e *Emitter) Emit(ctx context.Context, event DomainEvent) error {
	if e == nil || e.db == nil || e.svc == nil {
		return errors.New("outbox emitter not configured")
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.svc.Emit(ctx, tx, event)
	})
}
