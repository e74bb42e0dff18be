package billing

import "errors"

var (
	// ErrCustomerNotFound means the event references an external
	// customer id with no local account mapping. Surfaced distinctly
	// so the transport can answer with a client-correctable status.
	ErrCustomerNotFound = errors.New("billing: customer not found")

	ErrSubscriptionNotFound = errors.New("billing: subscription not found")

	// ErrTerminalState means an event tried to move a canceled or
	// incomplete_expired subscription back to a live status.
	ErrTerminalState = errors.New("billing: subscription is in a terminal state")

	ErrInvalidEvent = errors.New("billing: invalid event payload")
)
