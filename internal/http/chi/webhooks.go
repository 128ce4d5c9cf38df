package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marcelsud/webhook-outbox/webhook"
)

/* HTTP layer DTOs for the admin API
 * Separate from domain entities to avoid leaking internal structure
 */

type eventResponse struct {
	ID                string                 `json:"id"`
	IdempotencyKey    string                 `json:"idempotencyKey"`
	EventType         string                 `json:"eventType"`
	EntityType        string                 `json:"entityType,omitempty"`
	EntityID          string                 `json:"entityId,omitempty"`
	SubscriptionID    string                 `json:"subscriptionId"`
	URL               string                 `json:"url"`
	Method            string                 `json:"method"`
	Headers           map[string]string      `json:"headers,omitempty"`
	Payload           json.RawMessage        `json:"payload"`
	SignatureMethod   string                 `json:"signatureMethod,omitempty"`
	Status            string                 `json:"status"`
	RetryCount        int                    `json:"retryCount"`
	MaxRetries        int                    `json:"maxRetries"`
	NextRetryAt       *time.Time             `json:"nextRetryAt,omitempty"`
	Response          *webhook.Response      `json:"response,omitempty"`
	Error             *webhook.ErrorSnapshot `json:"error,omitempty"`
	ScheduledAt       *time.Time             `json:"scheduledAt,omitempty"`
	SentAt            *time.Time             `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time             `json:"deliveredAt,omitempty"`
	FailedAt          *time.Time             `json:"failedAt,omitempty"`
	CancelledAt       *time.Time             `json:"cancelledAt,omitempty"`
	CancelReason      string                 `json:"cancelReason,omitempty"`
	RequestDurationMs int64                  `json:"requestDurationMs,omitempty"`
	Metadata          webhook.Metadata       `json:"metadata"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

type pageResponse struct {
	Items []eventResponse `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Pages int             `json:"pages"`
}

type statsResponse struct {
	WindowHours    float64         `json:"windowHours"`
	Total          int             `json:"total"`
	ByStatus       map[string]int  `json:"byStatus"`
	AvgDurationMs  int64           `json:"avgDurationMs"`
	SuccessRate    float64         `json:"successRate"`
	RecentFailures []eventResponse `json:"recentFailures"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func toEventResponse(ev webhook.Event) eventResponse {
	payload := json.RawMessage(ev.Payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(ev.Payload))
		payload = quoted
	}
	return eventResponse{
		ID:                ev.ID,
		IdempotencyKey:    ev.IdempotencyKey,
		EventType:         ev.EventType.String(),
		EntityType:        ev.EntityType,
		EntityID:          ev.EntityID,
		SubscriptionID:    ev.SubscriptionID,
		URL:               ev.URL,
		Method:            ev.Method,
		Headers:           redactHeaders(ev.Headers),
		Payload:           payload,
		SignatureMethod:   ev.SignatureMethod,
		Status:            ev.Status.String(),
		RetryCount:        ev.RetryCount,
		MaxRetries:        ev.MaxRetries,
		NextRetryAt:       optionalTime(ev.NextRetryAt),
		Response:          ev.Response,
		Error:             ev.Error,
		ScheduledAt:       optionalTime(ev.ScheduledAt),
		SentAt:            optionalTime(ev.SentAt),
		DeliveredAt:       optionalTime(ev.DeliveredAt),
		FailedAt:          optionalTime(ev.FailedAt),
		CancelledAt:       optionalTime(ev.CancelledAt),
		CancelReason:      ev.CancelReason,
		RequestDurationMs: ev.RequestDuration.Milliseconds(),
		Metadata:          ev.Metadata,
		CreatedAt:         ev.CreatedAt,
		UpdatedAt:         ev.UpdatedAt,
	}
}

// redactedValue replaces header values the admin API must not echo
const redactedValue = "[REDACTED]"

// protocol headers carry no secrets; everything else is a subscription header or the signature
var visibleHeaders = map[string]bool{
	webhook.HeaderContentType: true,
	webhook.HeaderUserAgent:   true,
	webhook.HeaderTimestamp:   true,
	webhook.HeaderEvent:       true,
	webhook.HeaderID:          true,
	webhook.HeaderAttempt:     true,
}

func redactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if visibleHeaders[http.CanonicalHeaderKey(name)] {
			out[name] = value
			continue
		}
		out[name] = redactedValue
	}
	return out
}

func toEventResponses(events []webhook.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", webhook.ErrValidation, fmt.Sprintf(format, args...))
}

// parseFilter reads the listing query string
func parseFilter(r *http.Request) (webhook.Filter, error) {
	q := r.URL.Query()
	f := webhook.Filter{
		SubscriptionID: q.Get("subscriptionId"),
		EntityType:     q.Get("entityType"),
		EntityID:       q.Get("entityId"),
		SortBy:         webhook.SortField(q.Get("sortBy")),
	}

	if s := q.Get("status"); s != "" {
		f.Status = webhook.NewStatus(s)
		if f.Status == 0 {
			return f, validationError("unknown status %q", s)
		}
	}
	if s := q.Get("eventType"); s != "" {
		t, err := webhook.ParseEventType(s)
		if err != nil {
			return f, fmt.Errorf("%w: %w", webhook.ErrValidation, err)
		}
		f.EventType = t
	}
	if s := q.Get("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 1 {
			return f, validationError("page must be a positive integer")
		}
		f.Page = page
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return f, validationError("limit must be a positive integer")
		}
		f.Limit = limit
	}
	if s := q.Get("createdAfter"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, validationError("createdAfter must be RFC3339")
		}
		f.CreatedAfter = t
	}

	switch order := q.Get("order"); order {
	case "", "desc":
		f.Desc = true
	case "asc":
		f.Desc = false
	default:
		return f, validationError("order must be asc or desc")
	}
	if f.SortBy == "" && q.Get("order") != "" {
		f.SortBy = webhook.SortCreatedAt
	}
	return f, nil
}

// listEvents handles GET /v1/webhook-events
func listEvents(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		page, err := webhookService.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}

		pages := 0
		if page.Limit > 0 {
			pages = (page.Total + page.Limit - 1) / page.Limit
		}
		writeJSON(w, http.StatusOK, pageResponse{
			Items: toEventResponses(page.Items),
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
			Pages: pages,
		})
	})
}

// getEvent handles GET /v1/webhook-events/:id
func getEvent(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev, err := webhookService.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(ev))
	})
}

// retryEvent handles POST /v1/webhook-events/:id/retry
func retryEvent(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev, err := webhookService.Retry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStateError(w, r, err, ev)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(ev))
	})
}

// cancelEvent handles POST /v1/webhook-events/:id/cancel
func cancelEvent(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, validationError("failed to read request body"))
			return
		}
		defer r.Body.Close()
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, r, validationError("invalid JSON body"))
				return
			}
		}

		ev, err := webhookService.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			writeStateError(w, r, err, ev)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(ev))
	})
}

// writeStateError includes the unchanged event when the action did not apply
func writeStateError(w http.ResponseWriter, r *http.Request, err error, ev webhook.Event) {
	if errors.Is(err, webhook.ErrInvalidState) && ev.ID != "" {
		resp := toEventResponse(ev)
		writeErrorWithEvent(w, r, err, &resp)
		return
	}
	writeError(w, r, err)
}

// getStats handles GET /v1/webhook-events/stats?hours=24
func getStats(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hours := 24
		if s := r.URL.Query().Get("hours"); s != "" {
			h, err := strconv.Atoi(s)
			if err != nil || h < 1 {
				writeError(w, r, validationError("hours must be a positive integer"))
				return
			}
			hours = h
		}

		st, err := webhookService.Stats(r.Context(), time.Duration(hours)*time.Hour)
		if err != nil {
			writeError(w, r, err)
			return
		}

		byStatus := make(map[string]int, len(st.ByStatus))
		for status, n := range st.ByStatus {
			byStatus[status.String()] = n
		}
		writeJSON(w, http.StatusOK, statsResponse{
			WindowHours:    st.Window.Hours(),
			Total:          st.Total,
			ByStatus:       byStatus,
			AvgDurationMs:  st.AvgDuration.Milliseconds(),
			SuccessRate:    st.SuccessRate,
			RecentFailures: toEventResponses(st.RecentFailures),
		})
	})
}

// getTimeline handles GET /v1/webhook-events/timeline/:entityType/:entityId
func getTimeline(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items, err := webhookService.Timeline(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponses(items))
	})
}
