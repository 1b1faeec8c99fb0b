package model

import (
	"strings"
	"time"
)

// EnvelopeStatus tracks one request/response cycle on an envelope.
type EnvelopeStatus string

const (
	StatusPending      EnvelopeStatus = "pending"
	StatusAcknowledged EnvelopeStatus = "acknowledged"
	StatusProcessing   EnvelopeStatus = "processing"
	StatusCompleted    EnvelopeStatus = "completed"
	StatusFailed       EnvelopeStatus = "failed"
)

// envelopeTransitions lists forward moves. completed and failed re-enter
// pending only when the requester re-arms the envelope.
var envelopeTransitions = map[EnvelopeStatus][]EnvelopeStatus{
	StatusPending:      {StatusAcknowledged, StatusFailed},
	StatusAcknowledged: {StatusProcessing, StatusFailed},
	StatusProcessing:   {StatusCompleted, StatusPending, StatusFailed},
	StatusCompleted:    {StatusPending},
	StatusFailed:       {StatusPending},
}

// CanTransition reports whether moving from s to next is allowed.
func (s EnvelopeStatus) CanTransition(next EnvelopeStatus) bool {
	for _, allowed := range envelopeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known status.
func (s EnvelopeStatus) IsValid() bool {
	_, ok := envelopeTransitions[s]
	return ok
}

// Envelope is the full state of one conversation exchanged through the store.
type Envelope struct {
	ConversationID  string            `json:"conversationId"`
	Messages        []RelayMessage    `json:"messages"`
	NeedsResponse   bool              `json:"needsResponse"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Status          EnvelopeStatus    `json:"status"`
	StatusUpdatedAt time.Time         `json:"statusUpdatedAt"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
}

// HasMessage reports whether the envelope holds a message with id.
func (e *Envelope) HasMessage(id string) bool {
	for _, m := range e.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// SetStatus moves the envelope to status and stamps the time.
func (e *Envelope) SetStatus(status EnvelopeStatus, now time.Time) {
	e.Status = status
	e.StatusUpdatedAt = now
	if status != StatusFailed {
		e.ErrorMessage = ""
	}
}

// RelayMessage is one immutable message in an envelope.
type RelayMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	FullText       string    `json:"fullText,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// NewMessage builds a message from raw text. Text is the visible part with
// reasoning segments removed; FullText keeps the raw text only when the two
// differ.
func NewMessage(conversationID, role, raw string, now time.Time) RelayMessage {
	msg := RelayMessage{
		ID:             GenerateID(),
		ConversationID: conversationID,
		Role:           role,
		Text:           StripReasoning(raw),
		CreatedAt:      now,
	}
	if msg.Text != raw {
		msg.FullText = raw
	}
	return msg
}

// Reasoning segment markers.
const (
	ReasoningOpen  = "<think>"
	ReasoningClose = "</think>"
)

// StripReasoning removes every <think>...</think> segment. An unterminated
// opening marker hides the rest of the text.
func StripReasoning(s string) string {
	var sb strings.Builder
	rest := s
	for {
		start := strings.Index(rest, ReasoningOpen)
		if start < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:start])
		after := rest[start+len(ReasoningOpen):]
		end := strings.Index(after, ReasoningClose)
		if end < 0 {
			break
		}
		rest = after[end+len(ReasoningClose):]
	}
	return strings.TrimSpace(sb.String())
}
