package webhook

import (
	"fmt"

	"github.com/marcelsud/webhook-outbox/events"
)

/* Priority decides whether a new event is delivered right away
 * High dispatches immediately in the background
 * Normal waits for the retry scheduler
 */
type Priority int

const (
	Normal Priority = iota + 1
	High
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case Normal:
		return "normal"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// NewPriority creates a Priority from a string
func NewPriority(s string) Priority {
	switch s {
	case "high":
		return High
	default:
		return Normal
	}
}

// Validate checks if the priority is valid
func (p Priority) Validate() error {
	if p != Normal && p != High {
		return fmt.Errorf("invalid priority: %d", p)
	}
	return nil
}

// PriorityFor returns the priority used for events emitted by the order system
func PriorityFor(kind events.Kind) Priority {
	switch kind {
	case events.KindOrderCreated, events.KindOrderCancelled,
		events.KindPaymentCompleted, events.KindPaymentFailed:
		return High
	default:
		return Normal
	}
}
