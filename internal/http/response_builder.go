package http

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"budgetsync/internal/archive"
	"budgetsync/internal/core"
	"budgetsync/internal/log"
	"budgetsync/internal/services"
)

// syncDelayedWarning accompanies writes that landed locally but not in
// the cloud.
const syncDelayedWarning = "sync delayed: saved on this device, the cloud copy will catch up"

// writeResponse is the body of every successful mutation.
type writeResponse struct {
	Document core.Document `json:"document"`
	Synced   bool          `json:"synced"`
	Degraded bool          `json:"degraded"`
	Warning  string        `json:"warning,omitempty"`

	Operation *core.Operation `json:"operation,omitempty"`
	Goal      *core.Goal      `json:"goal,omitempty"`
	ID        string          `json:"id,omitempty"`
}

func newWriteResponse(res services.WriteResult) writeResponse {
	out := writeResponse{Document: res.Document, Synced: res.Synced, Degraded: res.Degraded}
	if res.Degraded {
		out.Warning = syncDelayedWarning
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain and infrastructure errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, core.ErrOperationNotFound),
		errors.Is(err, core.ErrGoalNotFound),
		errors.Is(err, core.ErrCategoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCategoryExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyPerson),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrDescriptionLength),
		errors.Is(err, core.ErrInvalidSetting),
		errors.Is(err, core.ErrInvalidImport),
		errors.Is(err, archive.ErrUnsupportedURI),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoBackupStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs and writes err. Server errors hide their detail.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		log.FromContext(ctx).ErrorContext(ctx, "Request failed", log.FieldError, err)
		msg := http.StatusText(status)
		if errors.Is(err, services.ErrNoBackupStore) {
			msg = err.Error()
		}
		writeError(w, status, msg)
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Request rejected",
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeValidation)
	writeError(w, status, err.Error())
}

// respondWrite writes a mutation result. Degraded saves are still a
// success for the caller.
func (s *Server) respondWrite(w http.ResponseWriter, r *http.Request, status int, out writeResponse) {
	if out.Degraded {
		ctx := r.Context()
		log.FromContext(ctx).WarnContext(ctx, "Write saved locally, cloud sync delayed",
			log.FieldPath, r.URL.Path)
	}
	writeJSON(w, status, out)
}
