package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeRepository struct {
	createFn func(ctx context.Context, entry *models.AuditEntry) error
	entries  []models.AuditEntry
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if f.createFn != nil {
		return f.createFn(ctx, entry)
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeRepository) ListByEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, entry := range f.entries {
		if entry.TenantID == tenantID && entry.EntityType == entityType && entry.EntityID == entityID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func TestService_Record(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	branchID := uuid.New()
	metadata := json.RawMessage(`{"conflict_type":"PRICE"}`)
	input := RecordInput{
		TenantID:   uuid.New(),
		BranchID:   &branchID,
		Action:     ActionConflictCreated,
		EntityType: "offline_conflict",
		EntityID:   uuid.New(),
		ActorID:    "  system  ",
		Metadata:   metadata,
	}

	got, err := svc.Record(context.Background(), input)
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if got.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if got.TenantID != input.TenantID || got.Action != input.Action || got.EntityID != input.EntityID {
		t.Fatalf("unexpected entry data: %+v", got)
	}
	if got.ActorID == nil || *got.ActorID != "system" {
		t.Fatalf("expected trimmed actor, got %v", got.ActorID)
	}
	if string(got.Metadata) != string(metadata) {
		t.Fatalf("metadata mismatch: %s", got.Metadata)
	}

	history, err := svc.History(context.Background(), input.TenantID, "offline_conflict", input.EntityID)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
}

func TestService_RecordValidation(t *testing.T) {
	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	valid := RecordInput{
		TenantID:   uuid.New(),
		Action:     ActionAlertRaised,
		EntityType: "offline_alert",
		EntityID:   uuid.New(),
	}

	cases := map[string]func(in RecordInput) RecordInput{
		"missing tenant": func(in RecordInput) RecordInput { in.TenantID = uuid.Nil; return in },
		"missing action": func(in RecordInput) RecordInput { in.Action = " "; return in },
		"missing entity": func(in RecordInput) RecordInput { in.EntityType = ""; return in },
		"missing id":     func(in RecordInput) RecordInput { in.EntityID = uuid.Nil; return in },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Record(context.Background(), mutate(valid)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestService_RecordPropagatesRepositoryError(t *testing.T) {
	repoErr := errors.New("insert failed")
	repo := &fakeRepository{createFn: func(ctx context.Context, entry *models.AuditEntry) error {
		return repoErr
	}}
	svc, _ := NewService(repo)

	_, err := svc.Record(context.Background(), RecordInput{
		TenantID:   uuid.New(),
		Action:     ActionDirectCommit,
		EntityType: "offline_transaction",
		EntityID:   uuid.New(),
	})
	if !errors.Is(err, repoErr) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestNewService_RequiresRepository(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error without repository")
	}
}
