package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
)

// DLQRepository stores outbox events the publisher gave up on. Entries are
// kept until an operator requeues them.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns the newest entries first, optionally narrowed to one event type.
func (r *DLQRepository) List(ctx context.Context, eventType enums.OutboxEventType, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListed
	}
	q := r.db.WithContext(ctx)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	var rows []models.OutboxDLQ
	err := q.Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Requeue hands a dead-lettered event back to the publisher: the outbox row
// gets its attempts reset and the DLQ entry is removed, in one transaction.
// An alert that failed on a bad topic can be replayed once the topic exists.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dlq entry not found for event "+eventID.String())
		}
		reset := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{
				"attempt_count": 0,
				"last_error":    nil,
			})
		if reset.Error != nil {
			return reset.Error
		}
		if reset.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "outbox event "+eventID.String()+" is gone or already published")
		}
		return nil
	})
}

func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	return message[:maxDLQErrorLen]
}
