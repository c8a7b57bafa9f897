package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

const (
	TenantHeader = "X-Tenant-Id"
	BranchHeader = "X-Branch-Id"
	ActorHeader  = "X-Actor-Id"
)

// BranchScope requires the tenant and branch headers. Identifying the caller
// happens upstream; this only parses what the gateway forwarded.
func BranchScope(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := parseScopeHeader(r, TenantHeader)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			branchID, err := parseScopeHeader(r, BranchHeader)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithScope(r.Context(), tenantID, branchID)
			if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
				ctx = WithActorID(ctx, actor)
			}
			if logg != nil {
				ctx = logg.WithTenantID(ctx, tenantID.String())
				ctx = logg.WithBranchID(ctx, branchID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseScopeHeader(r *http.Request, header string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, header+" header required")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+header+" header")
	}
	return id, nil
}
