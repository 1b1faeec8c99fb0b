package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is returned when the server cannot be reached or answers
	// with a non-2xx status.
	ErrNetwork = errors.New("inference: network failure")

	// ErrDecode is returned when the response body is not a chat completion.
	ErrDecode = errors.New("inference: decoding response")

	// ErrEmptyReply is returned when the completion carries no choices.
	ErrEmptyReply = errors.New("inference: empty reply")
)

// APIError is a non-2xx response from the inference server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("inference: server error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("inference: server error (%d)", e.Status)
}

// Is makes errors.Is(err, ErrNetwork) match.
func (e *APIError) Is(target error) bool {
	return target == ErrNetwork
}
