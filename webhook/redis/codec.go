package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// Hash field names of an event record
const (
	fieldID              = "id"
	fieldIdempotencyKey  = "idempotency_key"
	fieldEventType       = "event_type"
	fieldEntityType      = "entity_type"
	fieldEntityID        = "entity_id"
	fieldSubscriptionID  = "subscription_id"
	fieldURL             = "url"
	fieldMethod          = "method"
	fieldHeaders         = "headers"
	fieldPayload         = "payload"
	fieldSignature       = "signature"
	fieldSignatureMethod = "signature_method"
	fieldStatus          = "status"
	fieldRetryCount      = "retry_count"
	fieldMaxRetries      = "max_retries"
	fieldNextRetryAt     = "next_retry_at"
	fieldResponse        = "response"
	fieldError           = "error"
	fieldScheduledAt     = "scheduled_at"
	fieldSentAt          = "sent_at"
	fieldDeliveredAt     = "delivered_at"
	fieldFailedAt        = "failed_at"
	fieldCancelledAt     = "cancelled_at"
	fieldCancelReason    = "cancel_reason"
	fieldRequestDuration = "request_duration_ns"
	fieldMetadata        = "metadata"
	fieldClaimedBy       = "claimed_by"
	fieldLeaseUntil      = "lease_until"
	fieldCreatedAt       = "created_at"
	fieldUpdatedAt       = "updated_at"
)

// toHash flattens an event into hash fields; times are unix milliseconds,
// zero times and nil snapshots are stored as empty strings
func toHash(ev webhook.Event) (map[string]interface{}, error) {
	headers, err := json.Marshal(ev.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	response, err := marshalOptional(ev.Response)
	if err != nil {
		return nil, fmt.Errorf("marshaling response: %w", err)
	}
	errSnapshot, err := marshalOptional(ev.Error)
	if err != nil {
		return nil, fmt.Errorf("marshaling error: %w", err)
	}

	return map[string]interface{}{
		fieldID:              ev.ID,
		fieldIdempotencyKey:  ev.IdempotencyKey,
		fieldEventType:       ev.EventType.String(),
		fieldEntityType:      ev.EntityType,
		fieldEntityID:        ev.EntityID,
		fieldSubscriptionID:  ev.SubscriptionID,
		fieldURL:             ev.URL,
		fieldMethod:          ev.Method,
		fieldHeaders:         string(headers),
		fieldPayload:         string(ev.Payload),
		fieldSignature:       ev.Signature,
		fieldSignatureMethod: ev.SignatureMethod,
		fieldStatus:          ev.Status.String(),
		fieldRetryCount:      ev.RetryCount,
		fieldMaxRetries:      ev.MaxRetries,
		fieldNextRetryAt:     formatTime(ev.NextRetryAt),
		fieldResponse:        response,
		fieldError:           errSnapshot,
		fieldScheduledAt:     formatTime(ev.ScheduledAt),
		fieldSentAt:          formatTime(ev.SentAt),
		fieldDeliveredAt:     formatTime(ev.DeliveredAt),
		fieldFailedAt:        formatTime(ev.FailedAt),
		fieldCancelledAt:     formatTime(ev.CancelledAt),
		fieldCancelReason:    ev.CancelReason,
		fieldRequestDuration: int64(ev.RequestDuration),
		fieldMetadata:        string(metadata),
		fieldClaimedBy:       ev.ClaimedBy,
		fieldLeaseUntil:      formatTime(ev.LeaseUntil),
		fieldCreatedAt:       formatTime(ev.CreatedAt),
		fieldUpdatedAt:       formatTime(ev.UpdatedAt),
	}, nil
}

// fromHash rebuilds an event from HGETALL output
func fromHash(data map[string]string) (webhook.Event, error) {
	ev := webhook.Event{
		ID:              data[fieldID],
		IdempotencyKey:  data[fieldIdempotencyKey],
		EventType:       webhook.EventType(data[fieldEventType]),
		EntityType:      data[fieldEntityType],
		EntityID:        data[fieldEntityID],
		SubscriptionID:  data[fieldSubscriptionID],
		URL:             data[fieldURL],
		Method:          data[fieldMethod],
		Payload:         []byte(data[fieldPayload]),
		Signature:       data[fieldSignature],
		SignatureMethod: data[fieldSignatureMethod],
		Status:          webhook.NewStatus(data[fieldStatus]),
		RetryCount:      int(parseInt64(data[fieldRetryCount])),
		MaxRetries:      int(parseInt64(data[fieldMaxRetries])),
		NextRetryAt:     parseTime(data[fieldNextRetryAt]),
		ScheduledAt:     parseTime(data[fieldScheduledAt]),
		SentAt:          parseTime(data[fieldSentAt]),
		DeliveredAt:     parseTime(data[fieldDeliveredAt]),
		FailedAt:        parseTime(data[fieldFailedAt]),
		CancelledAt:     parseTime(data[fieldCancelledAt]),
		CancelReason:    data[fieldCancelReason],
		RequestDuration: time.Duration(parseInt64(data[fieldRequestDuration])),
		ClaimedBy:       data[fieldClaimedBy],
		LeaseUntil:      parseTime(data[fieldLeaseUntil]),
		CreatedAt:       parseTime(data[fieldCreatedAt]),
		UpdatedAt:       parseTime(data[fieldUpdatedAt]),
	}

	ev.Headers = make(map[string]string)
	if s := data[fieldHeaders]; s != "" {
		if err := json.Unmarshal([]byte(s), &ev.Headers); err != nil {
			return webhook.Event{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}
	if s := data[fieldMetadata]; s != "" {
		if err := json.Unmarshal([]byte(s), &ev.Metadata); err != nil {
			return webhook.Event{}, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if s := data[fieldResponse]; s != "" {
		ev.Response = &webhook.Response{}
		if err := json.Unmarshal([]byte(s), ev.Response); err != nil {
			return webhook.Event{}, fmt.Errorf("unmarshaling response: %w", err)
		}
	}
	if s := data[fieldError]; s != "" {
		ev.Error = &webhook.ErrorSnapshot{}
		if err := json.Unmarshal([]byte(s), ev.Error); err != nil {
			return webhook.Event{}, fmt.Errorf("unmarshaling error: %w", err)
		}
	}
	return ev, nil
}

func marshalOptional[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	return time.UnixMilli(parseInt64(s)).UTC()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func parseInt64(s string) int64 {
	var result int64
	fmt.Sscanf(s, "%d", &result)
	return result
}
