package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

const (
	ReasonSubscriptionDisabled = "subscription disabled"
	ReasonSubscriptionNotFound = "subscription not found"

	// DefaultDeliveredTTL is how long delivered events stay in the store
	DefaultDeliveredTTL = 30 * 24 * time.Hour
)

// Outcome labels for recorded attempts
const (
	OutcomeDelivered = "delivered"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
)

// Recorder receives one observation per delivery attempt
type Recorder interface {
	RecordAttempt(ctx context.Context, subscriptionID, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordAttempt(context.Context, string, string, time.Duration) {}

// Config carries the worker's collaborators and limits
type Config struct {
	Client       HTTPDoer
	Timeout      time.Duration
	MaxRedirects int
	// Lease is how long a claim protects an attempt from other workers
	Lease        time.Duration
	WorkerID     string
	DeliveredTTL time.Duration // 0 disables early expiry

	Clock    clock.Clock
	Logger   zerolog.Logger
	Alerter  Alerter
	Recorder Recorder
	// Random returns values in [0, 1) for backoff jitter
	Random func() float64
}

/* Worker performs single delivery attempts
 * Uses pointer semantics as it's an API, not data
 */
type Worker struct {
	repo webhook.Repository
	subs subscription.Source

	client       HTTPDoer
	timeout      time.Duration
	lease        time.Duration
	workerID     string
	deliveredTTL time.Duration

	clock    clock.Clock
	logger   zerolog.Logger
	alerter  Alerter
	recorder Recorder
	random   func() float64
}

// NewWorker creates a delivery worker
func NewWorker(repo webhook.Repository, subs subscription.Source, cfg Config) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(cfg.Timeout, cfg.MaxRedirects)
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * cfg.Timeout
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.New().String()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Alerter == nil {
		cfg.Alerter = LogAlerter{Logger: cfg.Logger}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	return &Worker{
		repo:         repo,
		subs:         subs,
		client:       cfg.Client,
		timeout:      cfg.Timeout,
		lease:        cfg.Lease,
		workerID:     cfg.WorkerID,
		deliveredTTL: cfg.DeliveredTTL,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		alerter:      cfg.Alerter,
		recorder:     cfg.Recorder,
		random:       cfg.Random,
	}
}

// ID returns the identity the worker claims events with
func (w *Worker) ID() string {
	return w.workerID
}

/* Deliver performs one attempt for the event with the given id
 * Terminal events are returned unchanged. Delivery failures are recorded
 * on the event and do not surface as errors; an error means the event
 * could not be loaded or saved
 */
func (w *Worker) Deliver(ctx context.Context, id string) (webhook.Event, error) {
	ev, err := w.repo.Get(ctx, id)
	if err != nil {
		return webhook.Event{}, fmt.Errorf("getting webhook event: %w", err)
	}
	if ev.Status.IsFinal() {
		return ev, nil
	}

	sub, err := w.subs.Get(ctx, ev.SubscriptionID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return w.cancel(ctx, ev, ReasonSubscriptionNotFound)
	case err != nil:
		return ev, fmt.Errorf("getting subscription: %w", err)
	case !sub.Enabled:
		return w.cancel(ctx, ev, ReasonSubscriptionDisabled)
	}

	now := w.clock.Now()
	claimed, err := w.repo.Claim(ctx, id, w.workerID, now, w.lease)
	if errors.Is(err, webhook.ErrNotClaimable) {
		w.logger.Debug().Str("event_id", id).Msg("event owned by another worker")
		return claimed, nil
	}
	if err != nil {
		return ev, fmt.Errorf("claiming webhook event: %w", err)
	}
	ev = claimed

	secret, err := signature.NewSecret(sub.Secret)
	if err == nil {
		ev, err = ev.Signed(secret, now)
	}
	if err != nil {
		return w.fail(ctx, ev, now, InvalidError(err), nil)
	}
	ev.SentAt = now
	ev.UpdatedAt = now
	if stored, ok, err := w.save(ctx, ev, "sending"); !ok {
		return stored, err
	}

	resp, derr := w.send(ctx, ev)
	finished := w.clock.Now()
	ev.RequestDuration = finished.Sub(ev.SentAt)
	if resp != nil {
		ev.Response = resp
	}

	if derr == nil {
		return w.delivered(ctx, ev, finished)
	}
	if derr.Retryable() && ev.RetryCount < ev.MaxRetries {
		return w.retry(ctx, ev, finished, derr)
	}
	return w.fail(ctx, ev, finished, derr, resp)
}

// send issues the HTTP request; a nil error means a 2xx response
func (w *Worker) send(ctx context.Context, ev webhook.Event) (*webhook.Response, *Error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, ev.Method, ev.URL, bytes.NewReader(ev.Payload))
	if err != nil {
		return nil, InvalidError(fmt.Errorf("building request: %w", err))
	}
	for name, value := range ev.Headers {
		req.Header.Set(name, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	snap := snapshot(resp, w.clock.Now())
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return snap, StatusError(resp.StatusCode)
	}
	return snap, nil
}

func (w *Worker) delivered(ctx context.Context, ev webhook.Event, now time.Time) (webhook.Event, error) {
	ev.Status = webhook.Delivered
	ev.DeliveredAt = now
	ev.NextRetryAt = time.Time{}
	ev.ClaimedBy = ""
	ev.LeaseUntil = time.Time{}
	ev.UpdatedAt = now
	if stored, ok, err := w.save(ctx, ev, "delivered"); !ok {
		return stored, err
	}
	if w.deliveredTTL > 0 {
		if err := w.repo.SetTTL(ctx, ev.ID, w.deliveredTTL); err != nil {
			w.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("setting delivered ttl")
		}
	}

	w.recorder.RecordAttempt(ctx, ev.SubscriptionID, OutcomeDelivered, ev.RequestDuration)
	w.logger.Info().
		Str("event_id", ev.ID).
		Str("subscription_id", ev.SubscriptionID).
		Int("status_code", ev.Response.StatusCode).
		Int("attempt", ev.Attempt()).
		Dur("duration", ev.RequestDuration).
		Msg("webhook delivered")
	return ev, nil
}

func (w *Worker) retry(ctx context.Context, ev webhook.Event, now time.Time, derr *Error) (webhook.Event, error) {
	delay := Backoff(ev.RetryCount, w.random)
	ev.Error = errorSnapshot(derr, now)
	ev.RetryCount++
	ev.Status = webhook.Pending
	ev.NextRetryAt = now.Add(delay)
	ev.ClaimedBy = ""
	ev.LeaseUntil = time.Time{}
	ev.UpdatedAt = now
	if stored, ok, err := w.save(ctx, ev, "retrying"); !ok {
		return stored, err
	}

	w.recorder.RecordAttempt(ctx, ev.SubscriptionID, OutcomeRetrying, ev.RequestDuration)
	w.logger.Warn().
		Str("event_id", ev.ID).
		Str("subscription_id", ev.SubscriptionID).
		Str("code", derr.Code).
		Int("retry_count", ev.RetryCount).
		Dur("delay", delay).
		Msg("webhook delivery failed, retry scheduled")
	return ev, nil
}

func (w *Worker) fail(ctx context.Context, ev webhook.Event, now time.Time, derr *Error, resp *webhook.Response) (webhook.Event, error) {
	ev.Error = errorSnapshot(derr, now)
	if resp != nil {
		ev.Response = resp
	}
	ev.Status = webhook.Failed
	ev.FailedAt = now
	ev.NextRetryAt = time.Time{}
	ev.ClaimedBy = ""
	ev.LeaseUntil = time.Time{}
	ev.UpdatedAt = now
	if stored, ok, err := w.save(ctx, ev, "failed"); !ok {
		return stored, err
	}

	w.recorder.RecordAttempt(ctx, ev.SubscriptionID, OutcomeFailed, ev.RequestDuration)
	w.alerter.PermanentFailure(ctx, ev)
	return ev, nil
}

/* save writes an in-flight event while this worker still owns the claim
 * When the record moved on meanwhile (an admin cancel, a reclaim after
 * lease expiry) the stored record wins and ok is false with a nil error
 */
func (w *Worker) save(ctx context.Context, ev webhook.Event, state string) (webhook.Event, bool, error) {
	stored, err := w.repo.SaveClaimed(ctx, ev, w.workerID)
	if errors.Is(err, webhook.ErrLeaseLost) {
		w.logger.Info().
			Str("event_id", ev.ID).
			Str("status", stored.Status.String()).
			Str("dropped", state).
			Msg("event changed during attempt, keeping stored state")
		return stored, false, nil
	}
	if err != nil {
		return ev, false, fmt.Errorf("saving %s event: %w", state, err)
	}
	return stored, true, nil
}

func (w *Worker) cancel(ctx context.Context, ev webhook.Event, reason string) (webhook.Event, error) {
	if !ev.Status.CanTransition(webhook.Cancelled) {
		return ev, nil
	}
	now := w.clock.Now()
	ev.Status = webhook.Cancelled
	ev.CancelledAt = now
	ev.CancelReason = reason
	ev.NextRetryAt = time.Time{}
	ev.ClaimedBy = ""
	ev.LeaseUntil = time.Time{}
	ev.UpdatedAt = now
	if err := w.repo.Save(ctx, ev); err != nil {
		return ev, fmt.Errorf("saving cancelled event: %w", err)
	}
	w.logger.Info().Str("event_id", ev.ID).Str("reason", reason).Msg("webhook event cancelled")
	return ev, nil
}

func errorSnapshot(derr *Error, now time.Time) *webhook.ErrorSnapshot {
	return &webhook.ErrorSnapshot{
		Message:   derr.Error(),
		Code:      derr.Code,
		Stack:     fmt.Sprintf("%+v", pkgerrors.WithStack(derr)),
		Timestamp: now,
	}
}
