package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/possync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/possync-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency cache.
	ReplayedHeader = "Idempotent-Replayed"

	DefaultReplayTTL = 24 * time.Hour
	// ResolutionReplayTTL covers operators retrying a resolution days later
	// from a device that was offline.
	ResolutionReplayTTL = 7 * 24 * time.Hour

	// inFlightTTL bounds how long a crashed request keeps its key claimed.
	inFlightTTL = 30 * time.Second
)

const (
	recordInFlight = "in_flight"
	recordDone     = "done"
)

type replayRecord struct {
	State       string            `json:"state"`
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplayResponses makes an operator route safe to retry. A request carrying
// an Idempotency-Key claims the key while it runs; a repeat with the same
// body gets the stored response back, a repeat with another body gets 409.
// Requests without the header run unguarded. Server errors release the claim
// so a retry reaches the handler again.
func ReplayResponses(store pkgredis.IdempotencyStore, logg *logger.Logger, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			claim, err := json.Marshal(replayRecord{State: recordInFlight, RequestHash: hash})
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency claim"))
				return
			}
			claimed, err := store.SetNX(ctx, key, string(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, store, logg, w, key, hash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusOrOK()
			if status >= http.StatusInternalServerError {
				if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
					logError(ctx, logg, "release idempotency claim", err)
				}
				return
			}
			done := replayRecord{
				State:       recordDone,
				RequestHash: hash,
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				done.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(done)
			if err == nil {
				err = store.Set(context.WithoutCancel(ctx), key, string(payload), ttl)
			}
			if err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

// replayExisting answers a request whose key is already claimed.
func replayExisting(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, w http.ResponseWriter, key, hash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The claim expired between SETNX and GET; let the client retry.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != recordDone:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still in progress"))
	default:
		writeStoredResponse(w, record)
	}
}

// replayScope keeps keys of different branches, routes and resources apart.
func replayScope(r *http.Request) string {
	return strings.Join([]string{
		"http",
		TenantIDFromContext(r.Context()).String(),
		BranchIDFromContext(r.Context()).String(),
		r.Method,
		r.URL.Path,
	}, "|")
}

func writeStoredResponse(w http.ResponseWriter, record replayRecord) {
	if ct := record.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
