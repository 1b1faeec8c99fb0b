package model

import "errors"

var (
	// ErrDecode is returned when record fields cannot be decoded into a model type.
	ErrDecode = errors.New("model: decoding record fields")

	// ErrInvalidCommand is returned for commands with an unknown verb or a
	// relative path.
	ErrInvalidCommand = errors.New("model: invalid command")

	// ErrInvalidHostID is returned for an empty host identifier.
	ErrInvalidHostID = errors.New("model: invalid host id")
)
