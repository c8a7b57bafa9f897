package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxTenantID  contextKey = "tenant_id"
	ctxBranchID  contextKey = "branch_id"
	ctxActorID   contextKey = "actor_id"
	ctxRequestID contextKey = "request_id"
)

func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxTenantID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func BranchIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxBranchID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// ActorIDFromContext returns the operator identifier forwarded by the caller,
// or an empty string for device traffic.
func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		return v
	}
	return ""
}

// WithScope injects the tenant and branch for downstream handlers.
func WithScope(ctx context.Context, tenantID, branchID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	return context.WithValue(ctx, ctxBranchID, branchID)
}

func WithActorID(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActorID, actorID)
}

// RequestIDFromContext returns the id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		return v
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRequestID, requestID)
}
