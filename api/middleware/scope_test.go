package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestBranchScopeInjectsIdentifiers(t *testing.T) {
	tenant, branch := uuid.New(), uuid.New()
	var gotTenant, gotBranch uuid.UUID
	var gotActor string
	handler := BranchScope(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantIDFromContext(r.Context())
		gotBranch = BranchIDFromContext(r.Context())
		gotActor = ActorIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/offline/queue", nil)
	req.Header.Set(TenantHeader, tenant.String())
	req.Header.Set(BranchHeader, " "+branch.String()+" ")
	req.Header.Set(ActorHeader, "manager-7")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", resp.Code)
	}
	if gotTenant != tenant || gotBranch != branch {
		t.Fatalf("unexpected scope %s/%s", gotTenant, gotBranch)
	}
	if gotActor != "manager-7" {
		t.Fatalf("unexpected actor %q", gotActor)
	}
}

func TestBranchScopeRejectsMissingOrInvalidHeaders(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		branch string
	}{
		{"missing tenant", "", uuid.NewString()},
		{"missing branch", uuid.NewString(), ""},
		{"malformed tenant", "store-1", uuid.NewString()},
		{"nil branch", uuid.NewString(), uuid.Nil.String()},
	}

	for _, tt := range tests {
		called := false
		handler := BranchScope(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/offline/queue", nil)
		if tt.tenant != "" {
			req.Header.Set(TenantHeader, tt.tenant)
		}
		if tt.branch != "" {
			req.Header.Set(BranchHeader, tt.branch)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", tt.name, resp.Code)
		}
		if called {
			t.Fatalf("%s: handler should not run", tt.name)
		}
	}
}

func TestContextAccessorsTolerateEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if TenantIDFromContext(req.Context()) != uuid.Nil || BranchIDFromContext(req.Context()) != uuid.Nil {
		t.Fatal("expected nil ids without scope")
	}
	if ActorIDFromContext(req.Context()) != "" {
		t.Fatal("expected empty actor")
	}
}
