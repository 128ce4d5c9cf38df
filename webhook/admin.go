package webhook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// RecentFailuresLimit caps the failures reported by Stats
const RecentFailuresLimit = 10

// Page is one page of an admin listing
type Page struct {
	Items []Event
	Total int
	Page  int
	Limit int
}

// Stats aggregates events created inside a time window
type Stats struct {
	Window         time.Duration
	Total          int
	ByStatus       map[Status]int
	AvgDuration    time.Duration // over delivered events
	SuccessRate    float64       // delivered / (delivered + failed), in percent
	RecentFailures []Event
}

// Get returns one event by id
func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	ev, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Event{}, fmt.Errorf("getting webhook event: %w", err)
	}
	return ev, nil
}

// List returns a filtered, sorted page of events
func (s *Service) List(ctx context.Context, filter Filter) (Page, error) {
	if err := filter.Validate(); err != nil {
		return Page{}, err
	}
	filter = filter.Normalize()

	items, total, err := s.Repo.List(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("listing webhook events: %w", err)
	}
	return Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

/* Retry resets a failed or pending event so the scheduler picks it up now
 * Delivered, cancelled and in-flight events are returned unchanged with ErrInvalidState
 */
func (s *Service) Retry(ctx context.Context, id string) (Event, error) {
	ev, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Event{}, fmt.Errorf("getting webhook event: %w", err)
	}
	if ev.Status != Failed && ev.Status != Pending {
		return ev, fmt.Errorf("%w: cannot retry %s event", ErrInvalidState, ev.Status)
	}

	now := s.clock.Now()
	ev.Status = Pending
	ev.RetryCount = 0
	ev.NextRetryAt = now
	ev.FailedAt = time.Time{}
	ev.ClaimedBy = ""
	ev.LeaseUntil = time.Time{}
	ev.UpdatedAt = now

	if err := s.Repo.Save(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("saving webhook event: %w", err)
	}
	s.logger.Info().Str("event_id", id).Msg("webhook event queued for manual retry")
	return ev, nil
}

/* Cancel stops a pending or sending event for good
 * Terminal events are returned unchanged with ErrInvalidState
 */
func (s *Service) Cancel(ctx context.Context, id, reason string) (Event, error) {
	if reason == "" {
		return Event{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	ev, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Event{}, fmt.Errorf("getting webhook event: %w", err)
	}
	if !ev.Status.CanTransition(Cancelled) {
		return ev, fmt.Errorf("%w: cannot cancel %s event", ErrInvalidState, ev.Status)
	}

	now := s.clock.Now()
	ev.Status = Cancelled
	ev.CancelledAt = now
	ev.CancelReason = reason
	ev.NextRetryAt = time.Time{}
	ev.ClaimedBy = ""
	ev.LeaseUntil = time.Time{}
	ev.UpdatedAt = now

	if err := s.Repo.Save(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("saving webhook event: %w", err)
	}
	s.logger.Info().Str("event_id", id).Str("reason", reason).Msg("webhook event cancelled")
	return ev, nil
}

// Stats aggregates events created within window of now
func (s *Service) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	if window <= 0 {
		return Stats{}, fmt.Errorf("%w: window must be positive", ErrValidation)
	}
	since := s.clock.Now().Add(-window)

	items, _, err := s.Repo.List(ctx, Filter{CreatedAfter: since, Limit: Unlimited})
	if err != nil {
		return Stats{}, fmt.Errorf("listing webhook events: %w", err)
	}

	st := Stats{Window: window, Total: len(items), ByStatus: make(map[Status]int, 5)}
	for _, status := range Statuses() {
		st.ByStatus[status] = 0
	}

	var totalDuration time.Duration
	failures := make([]Event, 0)
	for _, ev := range items {
		st.ByStatus[ev.Status]++
		switch ev.Status {
		case Delivered:
			totalDuration += ev.RequestDuration
		case Failed:
			failures = append(failures, ev)
		}
	}

	delivered, failed := st.ByStatus[Delivered], st.ByStatus[Failed]
	if delivered > 0 {
		st.AvgDuration = totalDuration / time.Duration(delivered)
	}
	if delivered+failed > 0 {
		st.SuccessRate = float64(delivered) / float64(delivered+failed) * 100
	}

	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].FailedAt.After(failures[j].FailedAt)
	})
	if len(failures) > RecentFailuresLimit {
		failures = failures[:RecentFailuresLimit]
	}
	st.RecentFailures = failures
	return st, nil
}

// Timeline returns every event for one entity, oldest first
func (s *Service) Timeline(ctx context.Context, entityType, entityID string) ([]Event, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity type and id are required", ErrValidation)
	}
	items, err := s.Repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing entity events: %w", err)
	}
	SortEvents(items, SortCreatedAt, false)
	return items, nil
}

// TestPayload is the body of a webhook.test event
type TestPayload struct {
	Message        string    `json:"message"`
	SubscriptionID string    `json:"subscriptionId"`
	SentAt         time.Time `json:"sentAt"`
}

// SendTest creates a high priority test event for one subscription
func (s *Service) SendTest(ctx context.Context, subscriptionID string) (Event, error) {
	if subscriptionID == "" {
		return Event{}, fmt.Errorf("%w: subscription id is required", ErrValidation)
	}
	created, err := s.Create(ctx, CreateInput{
		EventType:  TestEvent,
		EntityType: "subscription",
		EntityID:   subscriptionID,
		Payload: TestPayload{
			Message:        "This is a test webhook",
			SubscriptionID: subscriptionID,
			SentAt:         s.clock.Now(),
		},
		SubscriptionID: subscriptionID,
		Priority:       High,
		Test:           true,
	})
	if err != nil {
		return Event{}, err
	}
	if len(created) == 0 {
		return Event{}, errors.New("no test event created")
	}
	return created[0], nil
}
