package catalog

import "errors"

var (
	// ErrPublisherClosed is returned by Publisher operations after Close.
	ErrPublisherClosed = errors.New("catalog: publisher closed")

	// ErrTimeout is returned when a command does not finish before the wait deadline.
	ErrTimeout = errors.New("catalog: timed out waiting for command")

	// ErrLeaseHeld is returned when another owner holds a live lease on a command.
	ErrLeaseHeld = errors.New("catalog: command lease held by another owner")

	// ErrForeignCommand is returned when a host claims or completes a command
	// addressed to another host.
	ErrForeignCommand = errors.New("catalog: command belongs to another host")

	// ErrInvalidTransition is returned for a command state change that is not forward.
	ErrInvalidTransition = errors.New("catalog: invalid command state transition")

	// ErrInvalidDraft is returned for model or endpoint drafts without an ID,
	// or with an ID listed twice.
	ErrInvalidDraft = errors.New("catalog: invalid draft")
)
