package webhook

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Reader provides read operations for webhook events
type Reader interface {
	/* Context is always the first parameter in functions that do I/O
	 * This allows for cancellation, timeouts, and shared values
	 */
	Get(ctx context.Context, id string) (Event, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Event, error)
	/* List returns one page of events matching the filter
	 * together with the total number of matches
	 */
	List(ctx context.Context, filter Filter) ([]Event, int, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Writer provides write operations for webhook events
type Writer interface {
	/* Create stores a new event unless its idempotency key is taken
	 * On a duplicate key the existing record is returned with created=false
	 */
	Create(ctx context.Context, event Event) (Event, bool, error)
	Save(ctx context.Context, event Event) error
	/* SetTTL sets an expiration time on an event
	 * Used to automatically clean up delivered events
	 */
	SetTTL(ctx context.Context, id string, ttl time.Duration) error
	/* DeleteTerminalBefore removes events in the given statuses created before the cutoff
	 * Returns how many were removed
	 */
	DeleteTerminalBefore(ctx context.Context, statuses []Status, before time.Time) (int, error)
}

// Queue provides the operations the delivery worker and retry scheduler need
type Queue interface {
	/* FindDue returns pending events whose NextRetryAt has passed
	 * plus sending events whose lease expired, oldest first
	 */
	FindDue(ctx context.Context, now time.Time, limit int) ([]Event, error)
	/* Claim atomically moves a due event to Sending for the given worker
	 * Returns ErrNotClaimable when another worker already owns it
	 */
	Claim(ctx context.Context, id, worker string, now time.Time, lease time.Duration) (Event, error)
	/* SaveClaimed writes the event only while the stored record is still
	 * Sending and claimed by worker. Otherwise the stored record is returned
	 * unchanged with ErrLeaseLost
	 */
	SaveClaimed(ctx context.Context, event Event, worker string) (Event, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Queue
	Close(ctx context.Context) error
}

// Claimable reports whether a worker may take the event at the given time
func Claimable(e Event, now time.Time) bool {
	switch e.Status {
	case Pending:
		return true
	case Sending:
		return !e.LeaseUntil.After(now)
	default:
		return false
	}
}

// OwnedBy reports whether the event is mid-attempt under the given worker
func OwnedBy(e Event, worker string) bool {
	return e.Status == Sending && e.ClaimedBy == worker
}

// Due reports whether the retry scheduler should pick up the event
func Due(e Event, now time.Time) bool {
	switch e.Status {
	case Pending:
		return !e.NextRetryAt.After(now)
	case Sending:
		return !e.LeaseUntil.After(now)
	default:
		return false
	}
}
