package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/httplog"

	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
)

type errorResponse struct {
	Error string         `json:"error"`
	Event *eventResponse `json:"event,omitempty"`
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, webhook.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrNotFound), errors.Is(err, subscription.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrInvalidState), errors.Is(err, webhook.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWithEvent(w, r, err, nil)
}

// writeErrorWithEvent also returns the unchanged event, used when an action does not apply to its state
func writeErrorWithEvent(w http.ResponseWriter, r *http.Request, err error, ev *eventResponse) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		// full detail stays in the server log
		oplog := httplog.LogEntry(r.Context())
		oplog.Error().Err(err).Msg("admin request failed")
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Event: ev})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
