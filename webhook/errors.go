package webhook

import "errors"

var (
	// ErrValidation is returned for invalid input to the factory or admin surface
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown event or subscription ids
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate idempotency key; the factory resolves it
	// by returning the existing record
	ErrConflict = errors.New("idempotency key conflict")

	// ErrInvalidState is returned when an action does not apply to the current status
	ErrInvalidState = errors.New("invalid state")

	// ErrNotClaimable is returned by Claim when another worker owns the record
	// or it is no longer pending
	ErrNotClaimable = errors.New("event not claimable")

	// ErrLeaseLost is returned by SaveClaimed when the worker no longer owns the record,
	// for example after an admin cancel during the attempt
	ErrLeaseLost = errors.New("event no longer owned by worker")
)
