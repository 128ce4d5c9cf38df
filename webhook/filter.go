package webhook

import (
	"fmt"
	"sort"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// Unlimited disables pagination in List
	Unlimited = -1
)

// SortField names a sortable timestamp
type SortField string

const (
	SortCreatedAt   SortField = "createdAt"
	SortUpdatedAt   SortField = "updatedAt"
	SortScheduledAt SortField = "scheduledAt"
	SortNextRetryAt SortField = "nextRetryAt"
)

// Filter selects events for the admin listing
// Zero values mean "any"
type Filter struct {
	Status         Status
	EventType      EventType
	SubscriptionID string
	EntityType     string
	EntityID       string
	CreatedAfter   time.Time

	Page   int
	Limit  int
	SortBy SortField
	Desc   bool
}

// Normalize fills defaults and clamps the page size
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit == 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	case f.Limit < 0:
		f.Limit = Unlimited
	}
	if f.SortBy == "" {
		f.SortBy = SortCreatedAt
		f.Desc = true
	}
	return f
}

// Validate checks the filter's enumerated fields
func (f Filter) Validate() error {
	if f.Status != 0 {
		if err := f.Status.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if f.EventType != "" {
		if err := f.EventType.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	switch f.SortBy {
	case "", SortCreatedAt, SortUpdatedAt, SortScheduledAt, SortNextRetryAt:
	default:
		return fmt.Errorf("%w: unknown sort field %q", ErrValidation, string(f.SortBy))
	}
	return nil
}

// Matches reports whether the event passes every set criterion
func (f Filter) Matches(e Event) bool {
	if f.Status != 0 && e.Status != f.Status {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.SubscriptionID != "" && e.SubscriptionID != f.SubscriptionID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.CreatedAfter.IsZero() && e.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	return true
}

/* Apply filters, sorts and paginates an in-memory slice
 * Returns the page and the total number of matches
 * Store implementations that cannot index every field use it after a coarse fetch
 */
func Apply(all []Event, f Filter) ([]Event, int) {
	f = f.Normalize()

	matched := make([]Event, 0, len(all))
	for _, e := range all {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	SortEvents(matched, f.SortBy, f.Desc)

	total := len(matched)
	if f.Limit == Unlimited {
		return matched, total
	}
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []Event{}, total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// SortEvents orders events by the given timestamp, breaking ties by id
func SortEvents(events []Event, by SortField, desc bool) {
	key := func(e Event) time.Time {
		switch by {
		case SortUpdatedAt:
			return e.UpdatedAt
		case SortScheduledAt:
			return e.ScheduledAt
		case SortNextRetryAt:
			return e.NextRetryAt
		default:
			return e.CreatedAt
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := key(events[i]), key(events[j])
		if a.Equal(b) {
			if desc {
				return events[i].ID > events[j].ID
			}
			return events[i].ID < events[j].ID
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	})
}
