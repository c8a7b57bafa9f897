package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/api/middleware"
	"github.com/angelmondragon/possync-backend/api/responses"
	"github.com/angelmondragon/possync-backend/api/validators"
	"github.com/angelmondragon/possync-backend/internal/offline"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxNoteLength        = 1000
)

// OfflineService is the engine surface the offline routes need.
type OfflineService interface {
	Enqueue(ctx context.Context, scope offline.Scope, input offline.EnqueueInput) (offline.QueueItem, error)
	ListQueue(ctx context.Context, scope offline.Scope, filter offline.ItemFilter) ([]offline.QueueItem, error)
	SyncPass(ctx context.Context, scope offline.Scope) (offline.SyncResult, error)
	Reconcile(ctx context.Context, scope offline.Scope) (offline.ReconcileResult, error)
	ListConflicts(ctx context.Context, scope offline.Scope, status enums.ConflictStatus) ([]offline.Conflict, error)
	ResolveConflict(ctx context.Context, tenantID, conflictID uuid.UUID, resolverID, note string) (offline.Conflict, error)
	EscalateConflict(ctx context.Context, tenantID, conflictID uuid.UUID, actorID, note string) (offline.Conflict, error)
	ListAlerts(ctx context.Context, scope offline.Scope, openOnly bool) ([]offline.Alert, error)
	AcknowledgeAlert(ctx context.Context, tenantID, alertID uuid.UUID, actorID string) (offline.Alert, error)
}

type enqueueRequest struct {
	EventType      string          `json:"eventType" validate:"required,oneof=SALE INVENTORY LOYALTY REPORT"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"omitempty,max=128"`
	DeviceID       string          `json:"deviceId" validate:"omitempty,max=128"`
}

type conflictActionRequest struct {
	ActorID string `json:"actorId" validate:"omitempty,max=128"`
	Note    string `json:"note" validate:"omitempty,max=1000"`
}

type alertAckRequest struct {
	ActorID string `json:"actorId" validate:"omitempty,max=128"`
}

// OfflineEnqueue stores a device operation as PENDING. The Idempotency-Key
// header wins over the body field; neither means a server-generated key.
func OfflineEnqueue(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}
		scope := scopeFromRequest(r)

		var payload enqueueRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eventType := enums.QueueEventType(payload.EventType)
		decoded, err := offline.DecodePayload(eventType, payload.Payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if key == "" {
			key = strings.TrimSpace(payload.IdempotencyKey)
		}

		item, err := svc.Enqueue(r.Context(), scope, offline.EnqueueInput{
			EventType:      eventType,
			Payload:        decoded,
			IdempotencyKey: key,
			DeviceID:       strings.TrimSpace(payload.DeviceID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, item)
	}
}

// OfflineQueue lists the branch queue, optionally filtered by ?state= and
// ?eventType= (comma separated).
func OfflineQueue(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}

		var filter offline.ItemFilter
		for _, raw := range validators.ParseQueryList(r, "state") {
			state, err := enums.ParseQueueState(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid state filter"))
				return
			}
			filter.States = append(filter.States, state)
		}
		for _, raw := range validators.ParseQueryList(r, "eventType") {
			eventType, err := enums.ParseQueueEventType(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid eventType filter"))
				return
			}
			filter.EventTypes = append(filter.EventTypes, eventType)
		}

		items, err := svc.ListQueue(r.Context(), scopeFromRequest(r), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if items == nil {
			items = []offline.QueueItem{}
		}
		responses.WriteSuccess(w, items)
	}
}

func OfflineSync(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}
		result, err := svc.SyncPass(r.Context(), scopeFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func OfflineReconcile(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}
		result, err := svc.Reconcile(r.Context(), scopeFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func OfflineConflicts(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}

		var status enums.ConflictStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseConflictStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			status = parsed
		}

		conflicts, err := svc.ListConflicts(r.Context(), scopeFromRequest(r), status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if conflicts == nil {
			conflicts = []offline.Conflict{}
		}
		responses.WriteSuccess(w, conflicts)
	}
}

func OfflineResolveConflict(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return conflictAction(svc, logg, func(ctx context.Context, tenantID, conflictID uuid.UUID, actorID, note string) (offline.Conflict, error) {
		return svc.ResolveConflict(ctx, tenantID, conflictID, actorID, note)
	})
}

func OfflineEscalateConflict(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return conflictAction(svc, logg, func(ctx context.Context, tenantID, conflictID uuid.UUID, actorID, note string) (offline.Conflict, error) {
		return svc.EscalateConflict(ctx, tenantID, conflictID, actorID, note)
	})
}

type conflictActionFunc func(ctx context.Context, tenantID, conflictID uuid.UUID, actorID, note string) (offline.Conflict, error)

func conflictAction(svc OfflineService, logg *logger.Logger, action conflictActionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}
		conflictID, err := parsePathID(r, "conflictId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload conflictActionRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := actorFromRequest(r, payload.ActorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		conflict, err := action(r.Context(), middleware.TenantIDFromContext(r.Context()), conflictID, actorID, validators.SanitizeString(payload.Note, maxNoteLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conflict)
	}
}

// OfflineAlerts lists branch alerts, newest first; ?open=true hides
// acknowledged ones.
func OfflineAlerts(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}
		openOnly, err := validators.ParseQueryBool(r, "open", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		alerts, err := svc.ListAlerts(r.Context(), scopeFromRequest(r), openOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if alerts == nil {
			alerts = []offline.Alert{}
		}
		responses.WriteSuccess(w, alerts)
	}
}

func OfflineAcknowledgeAlert(svc OfflineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline service unavailable"))
			return
		}
		alertID, err := parsePathID(r, "alertId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload alertAckRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := actorFromRequest(r, payload.ActorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		alert, err := svc.AcknowledgeAlert(r.Context(), middleware.TenantIDFromContext(r.Context()), alertID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, alert)
	}
}

func scopeFromRequest(r *http.Request) offline.Scope {
	return offline.Scope{
		TenantID: middleware.TenantIDFromContext(r.Context()),
		BranchID: middleware.BranchIDFromContext(r.Context()),
	}
}

func parsePathID(r *http.Request, param string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+param)
	}
	return id, nil
}

// actorFromRequest prefers the body field and falls back to the forwarded
// X-Actor-Id header. Operator actions always need one.
func actorFromRequest(r *http.Request, bodyActor string) (string, error) {
	if actor := strings.TrimSpace(bodyActor); actor != "" {
		return actor, nil
	}
	if actor := middleware.ActorIDFromContext(r.Context()); actor != "" {
		return actor, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "actorId is required")
}
