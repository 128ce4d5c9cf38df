package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/webhook"
)

/* Repository keeps events in process memory
 * Used by tests and single-instance deployments (STORE=memory)
 * TTLs are enforced lazily against the injected clock
 */
type Repository struct {
	mu      sync.RWMutex
	clock   clock.Clock
	events  map[string]webhook.Event
	byKey   map[string]string
	expires map[string]time.Time
}

// NewRepository creates an empty in-memory repository
func NewRepository(clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.Real()
	}
	return &Repository{
		clock:   clk,
		events:  make(map[string]webhook.Event),
		byKey:   make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

// expire drops events whose TTL has passed; callers hold the write lock
func (r *Repository) expire() {
	now := r.clock.Now()
	for id, at := range r.expires {
		if !at.After(now) {
			r.remove(id)
		}
	}
}

func (r *Repository) remove(id string) {
	if ev, ok := r.events[id]; ok {
		delete(r.byKey, ev.IdempotencyKey)
	}
	delete(r.events, id)
	delete(r.expires, id)
}

func (r *Repository) Get(ctx context.Context, id string) (webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	ev, ok := r.events[id]
	if !ok {
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	return ev, nil
}

func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	id, ok := r.byKey[key]
	if !ok {
		return webhook.Event{}, fmt.Errorf("idempotency key %s: %w", key, webhook.ErrNotFound)
	}
	return r.events[id], nil
}

func (r *Repository) List(ctx context.Context, filter webhook.Filter) ([]webhook.Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	all := make([]webhook.Event, 0, len(r.events))
	for _, ev := range r.events {
		all = append(all, ev)
	}
	items, total := webhook.Apply(all, filter)
	return items, total, nil
}

func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string) ([]webhook.Event, error) {
	items, _, err := r.List(ctx, webhook.Filter{
		EntityType: entityType,
		EntityID:   entityID,
		Limit:      webhook.Unlimited,
		SortBy:     webhook.SortCreatedAt,
	})
	return items, err
}

func (r *Repository) CountByStatus(ctx context.Context) (map[webhook.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	counts := make(map[webhook.Status]int, 5)
	for _, s := range webhook.Statuses() {
		counts[s] = 0
	}
	for _, ev := range r.events {
		counts[ev.Status]++
	}
	return counts, nil
}

func (r *Repository) Create(ctx context.Context, ev webhook.Event) (webhook.Event, bool, error) {
	if ev.ID == "" || ev.IdempotencyKey == "" {
		return webhook.Event{}, false, fmt.Errorf("%w: id and idempotency key are required", webhook.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	if id, ok := r.byKey[ev.IdempotencyKey]; ok {
		return r.events[id], false, nil
	}
	if _, ok := r.events[ev.ID]; ok {
		return webhook.Event{}, false, fmt.Errorf("event %s: %w", ev.ID, webhook.ErrConflict)
	}

	r.events[ev.ID] = ev
	r.byKey[ev.IdempotencyKey] = ev.ID
	return ev, true, nil
}

func (r *Repository) Save(ctx context.Context, ev webhook.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	if _, ok := r.events[ev.ID]; !ok {
		return fmt.Errorf("event %s: %w", ev.ID, webhook.ErrNotFound)
	}
	r.events[ev.ID] = ev
	return nil
}

func (r *Repository) SetTTL(ctx context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[id]; !ok {
		return fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	r.expires[id] = r.clock.Now().Add(ttl)
	return nil
}

func (r *Repository) DeleteTerminalBefore(ctx context.Context, statuses []webhook.Status, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	deleted := 0
	for id, ev := range r.events {
		if !ev.Status.IsFinal() || !ev.CreatedAt.Before(before) {
			continue
		}
		for _, s := range statuses {
			if ev.Status == s {
				r.remove(id)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}

func (r *Repository) FindDue(ctx context.Context, now time.Time, limit int) ([]webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	due := make([]webhook.Event, 0)
	for _, ev := range r.events {
		if webhook.Due(ev, now) {
			due = append(due, ev)
		}
	}
	webhook.SortEvents(due, webhook.SortNextRetryAt, false)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *Repository) Claim(ctx context.Context, id, worker string, now time.Time, lease time.Duration) (webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	ev, ok := r.events[id]
	if !ok {
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	if !webhook.Claimable(ev, now) {
		return ev, fmt.Errorf("event %s is %s: %w", id, ev.Status, webhook.ErrNotClaimable)
	}

	ev.Status = webhook.Sending
	ev.ClaimedBy = worker
	ev.LeaseUntil = now.Add(lease)
	ev.UpdatedAt = now
	r.events[id] = ev
	return ev, nil
}

func (r *Repository) SaveClaimed(ctx context.Context, ev webhook.Event, worker string) (webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()

	stored, ok := r.events[ev.ID]
	if !ok {
		return webhook.Event{}, fmt.Errorf("event %s: %w", ev.ID, webhook.ErrNotFound)
	}
	if !webhook.OwnedBy(stored, worker) {
		return stored, fmt.Errorf("event %s is %s: %w", ev.ID, stored.Status, webhook.ErrLeaseLost)
	}
	r.events[ev.ID] = ev
	return ev, nil
}

func (r *Repository) CountDue(ctx context.Context, now time.Time) (int, error) {
	due, err := r.FindDue(ctx, now, 0)
	return len(due), err
}

func (r *Repository) Close(ctx context.Context) error {
	return nil
}
