package chi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/httplog"
	"github.com/google/uuid"

	"github.com/marcelsud/webhook-outbox/notify"
)

/* streamNotifications handles GET /v1/notifications/stream
 * Frames are written as newline-delimited JSON and flushed one by one
 * until the client goes away or the hub drops the session
 */
func streamNotifications(hub StreamHub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := uuid.NewString()
		ch := notify.NewStreamChannel(notify.DefaultBuffer)
		defer ch.Close()

		if err := hub.AddClient(clientID, ch); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		defer hub.RemoveClient(clientID)

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ch.Done():
				return
			case f := <-ch.Frames():
				if err := enc.Encode(f); err != nil {
					oplog := httplog.LogEntry(r.Context())
					oplog.Debug().Err(err).Str("client_id", clientID).Msg("stream write failed")
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	})
}
