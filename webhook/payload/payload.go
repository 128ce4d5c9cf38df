package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Envelope is the body delivered to every subscriber
type Envelope struct {
	// Event is the full-stop delimited event type, e.g. "order.created"
	Event string `json:"event"`

	// Timestamp is when the event record was created
	Timestamp time.Time `json:"timestamp"`

	// Data is the event payload
	Data json.RawMessage `json:"data"`

	// Metadata identifies the delivery and the entity it concerns
	Metadata Metadata `json:"metadata"`
}

// Metadata travels alongside the data of every envelope
type Metadata struct {
	DeliveryID     string `json:"deliveryId"`
	EntityType     string `json:"entityType"`
	EntityID       string `json:"entityId"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Platform       string `json:"platform,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	Test           bool   `json:"test,omitempty"`
}

// Validate validates the envelope structure
func (e Envelope) Validate() error {
	if e.Event == "" {
		return fmt.Errorf("event is required")
	}

	if !eventTypePattern.MatchString(e.Event) {
		return fmt.Errorf("event must be hierarchical and contain only [a-zA-Z0-9_.]: %s", e.Event)
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	if e.Metadata.EntityType == "" || e.Metadata.EntityID == "" {
		return fmt.Errorf("metadata entityType and entityId are required")
	}

	return nil
}

// MarshalJSON returns the JSON encoding of the envelope
func (e Envelope) MarshalJSON() ([]byte, error) {
	type Alias Envelope
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Alias:     (*Alias)(&e),
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type Alias Envelope
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling envelope: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	e.Timestamp = timestamp

	return nil
}

// New builds an envelope around data
func New(eventType string, timestamp time.Time, data any, meta Metadata) (Envelope, error) {
	dataBytes, err := Canonical(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling data: %w", err)
	}

	env := Envelope{
		Event:     eventType,
		Timestamp: timestamp.UTC(),
		Data:      dataBytes,
		Metadata:  meta,
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return env, nil
}

// Parse parses a JSON body into an Envelope
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return env, nil
}

// Bytes returns the canonical JSON encoding of the envelope
func (e Envelope) Bytes() ([]byte, error) {
	return Canonical(e)
}

// Canonical marshals v into canonical JSON: object keys sorted,
// no insignificant whitespace, numbers kept verbatim
func Canonical(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return Canonicalize(b)
	case json.RawMessage:
		return Canonicalize(b)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites a JSON document into canonical form
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decoding json: trailing data")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MatchesEventType checks if eventType matches any of the given filters
// Supports exact matching and prefix matching (e.g., "order.*" matches "order.created")
func MatchesEventType(eventType string, filters []string) bool {
	for _, filter := range filters {
		if filter == "*" || filter == eventType {
			return true
		}

		if prefix, ok := strings.CutSuffix(filter, ".*"); ok && prefix != "" {
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		}
	}

	return false
}

// ValidateEventType validates an event type filter
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	if eventType == "*" {
		return nil
	}

	// Allow wildcard suffix for filtering
	eventType = strings.TrimSuffix(eventType, ".*")

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
