package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/importer"
	"github.com/justestif/spotify-listening-stats/internal/stats"
	"github.com/justestif/spotify-listening-stats/internal/sync"
	"github.com/justestif/spotify-listening-stats/internal/worker"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

var (
	errUnauthorized    = errors.New("unauthorized")
	errInvalidRequest  = errors.New("invalid request")
	errPayloadTooLarge = errors.New("payload too large")
	errInternal        = errors.New("internal server error")
)

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handlers) writeSuccess(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, APIResponse{Success: true, Data: data})
}

// writeError maps err to a status and writes an error response. Internal
// errors are logged and their details withheld.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		msg = errInternal.Error()
	}
	h.writeJSON(w, status, APIResponse{Success: false, Error: msg})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, stats.ErrInvalidWindow),
		errors.Is(err, stats.ErrMalformedRecord),
		errors.Is(err, importer.ErrUnsupportedFormat),
		errors.Is(err, importer.ErrCorruptFile),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, sync.ErrSyncTooRecent):
		return http.StatusTooManyRequests
	case errors.Is(err, sync.ErrAlreadyCaptured):
		return http.StatusConflict
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, worker.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, stats.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
