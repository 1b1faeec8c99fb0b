package relay

import "errors"

var (
	// ErrNotConfigured is returned when the relay has no store or provider.
	ErrNotConfigured = errors.New("relay: not configured")

	// ErrInvalidEnvelope is returned for envelopes without a conversation ID.
	ErrInvalidEnvelope = errors.New("relay: invalid envelope")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("relay: already running")
)
