package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gasto/internal/core"
	applog "gasto/internal/log"
	"gasto/internal/services"
	"gasto/internal/turso"
)

// Client-facing error messages. Storage and remote details stay in the logs.
const (
	msgFailed         = "operation failed"
	msgInvalidInput   = "invalid input"
	msgNotFound       = "not found"
	msgNotAllowed     = "operation not allowed"
	msgRateLimited    = "rate limit exceeded"
	msgRemoteUnavail  = "remote unavailable"
	msgSyncInProgress = "sync already in progress"
	msgRemoteDisabled = "remote sync not configured"
)

type errorBody struct {
	Error string `json:"error"`
	// Field names the offending input on validation failures
	Field string `json:"field,omitempty"`
}

// mutationBody answers every write: the record (absent for deletes) and
// whether the change reached the sync queue.
type mutationBody struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
	Data   any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps repository errors onto status codes. Unexpected
// errors are logged here and answered with a generic 500.
func writeDomainError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: msgInvalidInput, Field: verr.Field})
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrEmptyPatch):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidInput)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, core.ErrDefaultCategory), errors.Is(err, core.ErrCategoryInUse):
		writeError(w, http.StatusConflict, msgNotAllowed)
	default:
		applog.NewStructuredLogger(applog.FromContext(ctx)).LogError(ctx, "Request failed", err, op, nil)
		writeError(w, http.StatusInternalServerError, msgFailed)
	}
}

// writeSyncError maps coordinator outcomes. Connectivity problems are 503 so
// clients retry later.
func writeSyncError(ctx context.Context, w http.ResponseWriter, err error) {
	var remoteErr *turso.RemoteError
	switch {
	case errors.Is(err, services.ErrSyncInProgress):
		writeError(w, http.StatusConflict, msgSyncInProgress)
	case errors.Is(err, services.ErrRemoteDisabled):
		writeError(w, http.StatusConflict, msgRemoteDisabled)
	case errors.Is(err, services.ErrOffline), errors.Is(err, services.ErrRemoteUnreachable), errors.As(err, &remoteErr):
		applog.FromContext(ctx).WarnContext(ctx, "Manual sync deferred", "error", err)
		writeError(w, http.StatusServiceUnavailable, msgRemoteUnavail)
	default:
		writeDomainError(ctx, w, applog.OpSync, err)
	}
}
