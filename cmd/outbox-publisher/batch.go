package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	"github.com/angelmondragon/possync-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/possync-backend/pkg/outbox/registry"
)

const (
	outcomePublished = "published"
	outcomeRetry     = "retry"
	outcomeTerminal  = "terminal"
)

// inflight is one claimed row between Publish and its acknowledgement.
type inflight struct {
	event  models.OutboxEvent
	topic  string
	result publishResult
	err    error
}

// processBatch claims up to batchSize rows, hands every routable one to its
// publisher before waiting on any result, then settles each row inside the
// same transaction. It reports whether any row was claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil || len(events) == 0 {
			return err
		}
		claimed = true

		publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()

		batch := make([]inflight, 0, len(events))
		for _, event := range events {
			resolved, err := s.registry.Resolve(event)
			if err != nil {
				if err := s.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonUnroutable, err); err != nil {
					return err
				}
				continue
			}
			result, err := s.startPublish(publishCtx, event, resolved)
			batch = append(batch, inflight{event: event, topic: resolved.Descriptor.Topic, result: result, err: err})
		}

		for _, item := range batch {
			if item.err == nil {
				_, item.err = item.result.Get(publishCtx)
			}
			if err := s.settle(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// settle records the publish outcome of one row.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, item inflight) error {
	event := item.event
	if item.err == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.ObservePublish(string(event.EventType), outcomePublished)
		s.logg.Debug(s.logg.WithFields(ctx, eventFields(event, item.topic)), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(item.err, &nonRetry) {
		return s.deadLetter(ctx, tx, event, item.topic, enums.OutboxDLQReasonNonRetryable, item.err)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetter(ctx, tx, event, item.topic, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", item.err))
	}

	fields := eventFields(event, item.topic)
	fields["attempt_count"] = event.AttemptCount + 1
	fields["error"] = item.err.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, item.err); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.metrics.ObservePublish(string(event.EventType), outcomeRetry)
	return nil
}

// deadLetter copies the row into outbox_dlq and stops further attempts.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) error {
	fields := eventFields(event, topic)
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.ObservePublish(string(event.EventType), outcomeTerminal)
	return nil
}

// startPublish hands the stored envelope to the topic publisher without
// waiting for the server acknowledgement.
func (s *Service) startPublish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) (publishResult, error) {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return nil, registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	attrs := messageAttributes(event, resolved)
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: orderingKey(attrs),
	})
	if result == nil {
		return nil, registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	return result, nil
}

// messageAttributes merges the envelope identity with the payload's routing
// attributes. Envelope keys win on collision.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{}
	if routed, ok := resolved.Payload.(payloads.Routed); ok {
		for k, v := range routed.RoutingAttributes() {
			if v != "" {
				attrs[k] = v
			}
		}
	}
	attrs["event_id"] = resolved.Envelope.EventID
	attrs["event_type"] = string(event.EventType)
	attrs["aggregate_type"] = string(event.AggregateType)
	attrs["aggregate_id"] = event.AggregateID.String()
	attrs["created_at"] = event.CreatedAt.Format(time.RFC3339Nano)
	return attrs
}

// orderingKey groups a branch's events. Payloads without a scope publish
// unordered.
func orderingKey(attrs map[string]string) string {
	tenant, branch := attrs["tenant_id"], attrs["branch_id"]
	if tenant == "" || branch == "" {
		return ""
	}
	return tenant + "/" + branch
}

func eventFields(event models.OutboxEvent, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
