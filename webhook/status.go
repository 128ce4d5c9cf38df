package webhook

import "fmt"

/* Status represents the current state of a webhook event
 * Follows the lifecycle: Pending -> Sending -> Delivered/Pending (retry)/Failed
 * Any non-terminal state can be forced to Cancelled
 */
type Status int

const (
	Pending Status = iota + 1
	Sending
	Delivered
	Failed
	Cancelled
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sending:
		return "sending"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string, returning 0 when unknown
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "sending":
		return Sending
	case "delivered":
		return Delivered
	case "failed":
		return Failed
	case "cancelled":
		return Cancelled
	default:
		return 0
	}
}

// Statuses lists every valid status in lifecycle order
func Statuses() []Status {
	return []Status{Pending, Sending, Delivered, Failed, Cancelled}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Cancelled {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Delivered || s == Failed || s == Cancelled
}

// CanTransition reports whether the automatic state machine allows s -> to
func (s Status) CanTransition(to Status) bool {
	switch s {
	case Pending:
		return to == Sending || to == Cancelled
	case Sending:
		return to == Delivered || to == Pending || to == Failed || to == Cancelled
	default:
		return false
	}
}
