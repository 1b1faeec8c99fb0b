package model

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CommandState is a command's position in the queue lifecycle.
type CommandState string

const (
	CommandQueued    CommandState = "queued"
	CommandRunning   CommandState = "running"
	CommandSucceeded CommandState = "succeeded"
	CommandFailed    CommandState = "failed"
)

// IsTerminal reports whether s is succeeded or failed.
func (s CommandState) IsTerminal() bool {
	return s == CommandSucceeded || s == CommandFailed
}

// CanTransition reports whether moving from s to next is a forward move.
func (s CommandState) CanTransition(next CommandState) bool {
	switch s {
	case CommandQueued:
		return next == CommandRunning || next.IsTerminal()
	case CommandRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Command is an HTTP-like request queued for a remote host.
type Command struct {
	ID             string       `json:"commandId"`
	HostID         string       `json:"hostId"`
	Verb           string       `json:"verb"`
	Path           string       `json:"path"`
	Body           []byte       `json:"body,omitempty"`
	State          CommandState `json:"state"`
	StatusCode     int          `json:"statusCode,omitempty"`
	Result         []byte       `json:"result,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	LeaseOwner     string       `json:"leaseOwner,omitempty"`
	LeaseUntil     *time.Time   `json:"leaseUntil,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// LeaseActive reports whether a lease is held at now.
func (c *Command) LeaseActive(now time.Time) bool {
	return c.LeaseOwner != "" && c.LeaseUntil != nil && c.LeaseUntil.After(now)
}

// ClearLease drops the lease fields.
func (c *Command) ClearLease() {
	c.LeaseOwner = ""
	c.LeaseUntil = nil
}

var commandVerbs = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// ValidateCommand checks verb and path, returning the upper-cased verb.
func ValidateCommand(verb, path string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(verb))
	if !commandVerbs[v] {
		return "", fmt.Errorf("%w: unsupported verb %q", ErrInvalidCommand, verb)
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: path %q must be absolute", ErrInvalidCommand, path)
	}
	return v, nil
}
