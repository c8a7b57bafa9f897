package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/google/uuid"
)

// Actions recorded by the offline sync engine.
const (
	ActionQueueConfirmed    = "offline.queue.confirmed"
	ActionQueueExpired      = "offline.queue.expired"
	ActionQueueExhausted    = "offline.queue.exhausted"
	ActionConflictCreated   = "offline.conflict.created"
	ActionConflictResolved  = "offline.conflict.resolved"
	ActionConflictEscalated = "offline.conflict.escalated"
	ActionAlertRaised       = "offline.alert.raised"
	ActionAlertAcknowledged = "offline.alert.acknowledged"
	ActionDirectCommit      = "offline.transaction.direct_commit"
)

// Service defines operations that append audit entries.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.AuditEntry, error)
	History(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// RecordInput captures the immutable data an audit entry requires.
type RecordInput struct {
	TenantID   uuid.UUID       `json:"tenant_id"`
	BranchID   *uuid.UUID      `json:"branch_id,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.AuditEntry, error) {
	if input.TenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(input.Action) == "" {
		return nil, fmt.Errorf("action is required")
	}
	if strings.TrimSpace(input.EntityType) == "" {
		return nil, fmt.Errorf("entity type is required")
	}
	if input.EntityID == uuid.Nil {
		return nil, fmt.Errorf("entity id is required")
	}

	entry := &models.AuditEntry{
		ID:         uuid.New(),
		TenantID:   input.TenantID,
		BranchID:   input.BranchID,
		Action:     input.Action,
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		Metadata:   input.Metadata,
		CreatedAt:  s.now().UTC(),
	}
	if actor := strings.TrimSpace(input.ActorID); actor != "" {
		entry.ActorID = &actor
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) History(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}
	if entityID == uuid.Nil {
		return nil, fmt.Errorf("entity id is required")
	}
	return s.repo.ListByEntity(ctx, tenantID, entityType, entityID)
}
