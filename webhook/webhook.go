package webhook

import "time"

/* Event is one persisted attempt-chain delivering a single logical
 * domain event to a single subscription
 * Uses value semantics as it represents data, not behavior
 */
type Event struct {
	ID             string
	IdempotencyKey string

	EventType  EventType
	EntityType string
	EntityID   string

	SubscriptionID string
	URL            string
	Method         string
	Headers        map[string]string

	// Payload is the canonical JSON envelope sent as the request body
	Payload         []byte
	Signature       string
	SignatureMethod string

	Status      Status
	RetryCount  int
	MaxRetries  int
	NextRetryAt time.Time // only meaningful while Status == Pending

	Response *Response
	Error    *ErrorSnapshot

	ScheduledAt     time.Time
	SentAt          time.Time
	DeliveredAt     time.Time
	FailedAt        time.Time
	CancelledAt     time.Time
	CancelReason    string
	RequestDuration time.Duration

	Metadata Metadata

	// ClaimedBy and LeaseUntil are set while a worker owns the record
	ClaimedBy  string
	LeaseUntil time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata records where an event came from
type Metadata struct {
	Platform       string `json:"platform,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	ServerInstance string `json:"serverInstance,omitempty"`
}

// Response is a truncated snapshot of the remote endpoint's answer
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// ErrorSnapshot captures the last delivery failure
type ErrorSnapshot struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Attempt returns the number of the next (or current) delivery attempt
func (e Event) Attempt() int {
	return e.RetryCount + 1
}
