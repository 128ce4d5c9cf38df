package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/events"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook/payload"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the business operations for webhook event management
type UseCase interface {
	Create(ctx context.Context, in CreateInput) ([]Event, error)
	Get(ctx context.Context, id string) (Event, error)
	List(ctx context.Context, filter Filter) (Page, error)
	Retry(ctx context.Context, id string) (Event, error)
	Cancel(ctx context.Context, id, reason string) (Event, error)
	Stats(ctx context.Context, window time.Duration) (Stats, error)
	Timeline(ctx context.Context, entityType, entityID string) ([]Event, error)
	SendTest(ctx context.Context, subscriptionID string) (Event, error)
}

// Deliverer performs one delivery attempt for a stored event
type Deliverer interface {
	Deliver(ctx context.Context, id string) (Event, error)
}

// DefaultNormalDelay is how long a Normal priority event waits for the scheduler
const DefaultNormalDelay = 5 * time.Second

// ServiceConfig carries the service's collaborators and identity
type ServiceConfig struct {
	Clock       clock.Clock
	Logger      zerolog.Logger
	Deliverer   Deliverer // optional; without it High priority events wait for the scheduler
	Platform    string
	Instance    string
	NormalDelay time.Duration
}

type Service struct {
	Repo          Repository
	Subscriptions subscription.Source

	clock       clock.Clock
	logger      zerolog.Logger
	deliverer   Deliverer
	platform    string
	instance    string
	normalDelay time.Duration

	// tracks immediate dispatches so shutdown can wait for them
	inflight sync.WaitGroup
}

// NewService creates a new webhook service with dependency injection
func NewService(repo Repository, subs subscription.Source, cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.NormalDelay <= 0 {
		cfg.NormalDelay = DefaultNormalDelay
	}
	return &Service{
		Repo:          repo,
		Subscriptions: subs,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		deliverer:     cfg.Deliverer,
		platform:      cfg.Platform,
		instance:      cfg.Instance,
		normalDelay:   cfg.NormalDelay,
	}
}

// CreateInput describes one domain occurrence to fan out to subscribers
type CreateInput struct {
	EventType  EventType
	Payload    any
	EntityType string
	EntityID   string

	// SubscriptionID targets one subscription and bypasses its event filter
	SubscriptionID string
	IdempotencyKey string
	Priority       Priority
	CorrelationID  string
	Test           bool
}

// Validate checks the input before any record is built
func (in CreateInput) Validate() error {
	if err := in.EventType.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if in.EntityType == "" || in.EntityID == "" {
		return fmt.Errorf("%w: entity type and id are required", ErrValidation)
	}
	if in.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if in.Priority != 0 {
		if err := in.Priority.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}

/* Create persists one pending event per target subscription
 * With a SubscriptionID only that subscription is targeted, even when disabled;
 * the worker cancels it later. Otherwise every enabled subscription
 * whose filter accepts the event type is targeted, and none is not an error
 * Duplicate idempotency keys return the existing record without a new dispatch
 */
func (s *Service) Create(ctx context.Context, in CreateInput) ([]Event, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Priority == 0 {
		in.Priority = Normal
	}

	subs, err := s.targets(ctx, in)
	if err != nil {
		return nil, err
	}

	created := make([]Event, 0, len(subs))
	for _, sub := range subs {
		ev, isNew, err := s.createOne(ctx, in, sub)
		if err != nil {
			return created, err
		}
		created = append(created, ev)
		if isNew && in.Priority == High {
			s.dispatch(ev.ID)
		}
	}
	return created, nil
}

func (s *Service) targets(ctx context.Context, in CreateInput) ([]subscription.Subscription, error) {
	if in.SubscriptionID != "" {
		sub, err := s.Subscriptions.Get(ctx, in.SubscriptionID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, in.SubscriptionID)
			}
			return nil, fmt.Errorf("getting subscription: %w", err)
		}
		return []subscription.Subscription{sub}, nil
	}

	subs, err := s.Subscriptions.Matching(ctx, in.EventType.String())
	if err != nil {
		return nil, fmt.Errorf("matching subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Service) createOne(ctx context.Context, in CreateInput, sub subscription.Subscription) (Event, bool, error) {
	now := s.clock.Now()
	id := uuid.New().String()

	key := id
	if in.IdempotencyKey != "" {
		key = in.IdempotencyKey + ":" + sub.ID
	}

	env, err := payload.New(in.EventType.String(), now, in.Payload, payload.Metadata{
		DeliveryID:     id,
		EntityType:     in.EntityType,
		EntityID:       in.EntityID,
		SubscriptionID: sub.ID,
		Platform:       s.platformFor(sub),
		CorrelationID:  in.CorrelationID,
		Test:           in.Test,
	})
	if err != nil {
		return Event{}, false, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	body, err := env.Bytes()
	if err != nil {
		return Event{}, false, fmt.Errorf("encoding envelope: %w", err)
	}

	secret, err := signature.NewSecret(sub.Secret)
	if err != nil {
		return Event{}, false, fmt.Errorf("subscription %s secret: %w", sub.ID, err)
	}

	next := now
	if in.Priority != High {
		next = now.Add(s.normalDelay)
	}

	headers := make(map[string]string, len(sub.Headers)+7)
	for k, v := range sub.Headers {
		headers[k] = v
	}
	headers[HeaderContentType] = ContentTypeJSON
	headers[HeaderUserAgent] = UserAgent
	headers[HeaderEvent] = in.EventType.String()
	headers[HeaderID] = key

	ev := Event{
		ID:             id,
		IdempotencyKey: key,
		EventType:      in.EventType,
		EntityType:     in.EntityType,
		EntityID:       in.EntityID,
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		Method:         sub.Method,
		Headers:        headers,
		Payload:        body,
		Status:         Pending,
		MaxRetries:     sub.MaxRetries,
		NextRetryAt:    next,
		ScheduledAt:    next,
		Metadata: Metadata{
			Platform:       s.platformFor(sub),
			CorrelationID:  in.CorrelationID,
			ServerInstance: s.instance,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	ev, err = ev.Signed(secret, now)
	if err != nil {
		return Event{}, false, err
	}

	stored, isNew, err := s.Repo.Create(ctx, ev)
	if err != nil {
		return Event{}, false, fmt.Errorf("storing webhook event: %w", err)
	}

	if isNew {
		s.logger.Info().
			Str("event_id", stored.ID).
			Str("event_type", stored.EventType.String()).
			Str("subscription_id", stored.SubscriptionID).
			Str("priority", in.Priority.String()).
			Msg("webhook event created")
	} else {
		s.logger.Debug().
			Str("event_id", stored.ID).
			Str("idempotency_key", key).
			Msg("duplicate idempotency key, returning existing event")
	}
	return stored, isNew, nil
}

func (s *Service) platformFor(sub subscription.Subscription) string {
	if sub.Platform != "" {
		return sub.Platform
	}
	return s.platform
}

// dispatch runs one delivery attempt in the background; failures are left to the scheduler
func (s *Service) dispatch(id string) {
	if s.deliverer == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.deliverer.Deliver(context.Background(), id); err != nil {
			s.logger.Warn().Err(err).Str("event_id", id).Msg("immediate delivery failed")
		}
	}()
}

// Wait blocks until every background dispatch started by Create has finished
func (s *Service) Wait() {
	s.inflight.Wait()
}

// HandleEvent turns a domain event from the bus into webhook events
func (s *Service) HandleEvent(ctx context.Context, e events.Event) error {
	entityType, entityID := e.Entity()
	_, err := s.Create(ctx, CreateInput{
		EventType:     EventType(e.Kind()),
		Payload:       e,
		EntityType:    entityType,
		EntityID:      entityID,
		Priority:      PriorityFor(e.Kind()),
		CorrelationID: events.CorrelationID(ctx),
	})
	if err != nil {
		return fmt.Errorf("creating webhook events for %s: %w", e.Kind(), err)
	}
	return nil
}
