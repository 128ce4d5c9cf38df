package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/marcelsud/webhook-outbox/webhook/payload"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

// DefaultMaxRetries applies when a subscription does not configure retries
const DefaultMaxRetries = 5

// ErrNotFound is returned for unknown subscription ids
var ErrNotFound = errors.New("subscription not found")

/* Subscription is an external system's registered endpoint
 * It is owned by the configuration store; the delivery core only reads it
 */
type Subscription struct {
	ID         string
	URL        string
	Secret     string
	Enabled    bool
	Events     []string // Event type filters, e.g. ["order.created", "courier.*"]
	Method     string
	Headers    map[string]string
	MaxRetries int
	Platform   string
}

// Source is the read-only contract the delivery core consumes
type Source interface {
	Get(ctx context.Context, id string) (Subscription, error)
	// Matching returns enabled subscriptions whose filter accepts eventType
	Matching(ctx context.Context, eventType string) ([]Subscription, error)
}

// Validate checks if the subscription configuration is valid
func (s Subscription) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty for subscription %s", s.ID)
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) url for subscription %s", s.ID)
	}
	switch s.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("method must be POST, PUT or PATCH for subscription %s (got %q)", s.ID, s.Method)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative for subscription %s", s.ID)
	}
	if _, err := signature.NewSecret(s.Secret); err != nil {
		return fmt.Errorf("invalid secret for subscription %s: %w", s.ID, err)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events cannot be empty for subscription %s", s.ID)
	}
	for _, eventType := range s.Events {
		if err := payload.ValidateEventType(eventType); err != nil {
			return fmt.Errorf("invalid event '%s' for subscription %s: %w", eventType, s.ID, err)
		}
	}
	for name := range s.Headers {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-Webhook-") {
			return fmt.Errorf("header %s is reserved for subscription %s", name, s.ID)
		}
	}
	return nil
}

// Accepts reports whether the subscription is enabled and its filter includes eventType
func (s Subscription) Accepts(eventType string) bool {
	return s.Enabled && payload.MatchesEventType(eventType, s.Events)
}
