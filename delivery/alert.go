package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/webhook"
)

// Alerter is told about every event that ends permanently failed
type Alerter interface {
	PermanentFailure(ctx context.Context, ev webhook.Event)
}

// Alert is raised when one subscription keeps failing
type Alert struct {
	SubscriptionID string        `json:"subscriptionId"`
	Failures       int           `json:"failures"`
	Window         time.Duration `json:"window"`
	LastEventID    string        `json:"lastEventId"`
	LastEventType  string        `json:"lastEventType"`
	LastError      string        `json:"lastError,omitempty"`
	RaisedAt       time.Time     `json:"raisedAt"`
}

// AlertSink delivers operator alerts, e.g. to connected admin sessions
type AlertSink interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter logs each permanent failure
type LogAlerter struct {
	Logger zerolog.Logger
}

func (l LogAlerter) PermanentFailure(_ context.Context, ev webhook.Event) {
	evt := l.Logger.Error().
		Str("event_id", ev.ID).
		Str("event_type", ev.EventType.String()).
		Str("subscription_id", ev.SubscriptionID).
		Int("retry_count", ev.RetryCount)
	if ev.Error != nil {
		evt = evt.Str("code", ev.Error.Code).Str("error", ev.Error.Message)
	}
	evt.Msg("webhook event permanently failed")
}

/* ThresholdAlerter raises an Alert once a subscription accumulates
 * Threshold permanent failures inside Window, then resets its count
 */
type ThresholdAlerter struct {
	Threshold int
	Window    time.Duration

	clock  clock.Clock
	logger zerolog.Logger
	sinks  []AlertSink

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewThresholdAlerter creates an alerter forwarding alerts to sinks
func NewThresholdAlerter(threshold int, window time.Duration, clk clock.Clock, logger zerolog.Logger, sinks ...AlertSink) *ThresholdAlerter {
	if threshold < 1 {
		threshold = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &ThresholdAlerter{
		Threshold: threshold,
		Window:    window,
		clock:     clk,
		logger:    logger,
		sinks:     sinks,
		failures:  make(map[string][]time.Time),
	}
}

func (a *ThresholdAlerter) PermanentFailure(ctx context.Context, ev webhook.Event) {
	LogAlerter{Logger: a.logger}.PermanentFailure(ctx, ev)

	now := a.clock.Now()
	a.mu.Lock()
	recent := a.failures[ev.SubscriptionID][:0]
	for _, at := range a.failures[ev.SubscriptionID] {
		if now.Sub(at) < a.Window {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	count := len(recent)
	if count >= a.Threshold {
		delete(a.failures, ev.SubscriptionID)
	} else {
		a.failures[ev.SubscriptionID] = recent
	}
	a.mu.Unlock()

	if count < a.Threshold {
		return
	}

	alert := Alert{
		SubscriptionID: ev.SubscriptionID,
		Failures:       count,
		Window:         a.Window,
		LastEventID:    ev.ID,
		LastEventType:  ev.EventType.String(),
		RaisedAt:       now,
	}
	if ev.Error != nil {
		alert.LastError = ev.Error.Message
	}

	a.logger.Error().
		Str("subscription_id", alert.SubscriptionID).
		Int("failures", alert.Failures).
		Dur("window", alert.Window).
		Msg("subscription is failing repeatedly")
	for _, sink := range a.sinks {
		sink.Alert(ctx, alert)
	}
}
