package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/marcelsud/webhook-outbox/events"
)

// CorrelationHeader carries the caller's correlation id into the webhook metadata
const CorrelationHeader = "X-Correlation-Id"

// Publisher hands domain events to their consumers
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// domainEventRequest is the envelope an order system posts
type domainEventRequest struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type domainEventResponse struct {
	Kind          string `json:"kind"`
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	CorrelationID string `json:"correlationId"`
}

// postDomainEvent handles POST /v1/events
func postDomainEvent(publisher Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, validationError("failed to read request body"))
			return
		}
		defer r.Body.Close()

		var req domainEventRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, validationError("invalid JSON body"))
			return
		}

		e, err := events.Decode(events.Kind(req.Kind), req.Data)
		if err != nil {
			writeError(w, r, validationError("%v", err))
			return
		}

		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		if err := publisher.Publish(events.WithCorrelationID(r.Context(), correlationID), e); err != nil {
			if errors.Is(err, events.ErrBusClosed) {
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
				return
			}
			writeError(w, r, err)
			return
		}

		entityType, entityID := e.Entity()
		writeJSON(w, http.StatusAccepted, domainEventResponse{
			Kind:          string(e.Kind()),
			EntityType:    entityType,
			EntityID:      entityID,
			CorrelationID: correlationID,
		})
	})
}
