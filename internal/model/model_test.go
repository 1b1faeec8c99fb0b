package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// ============================================================================
// Reasoning markup
// ============================================================================

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"leading block", "<think>plan the answer</think>\nParis.", "Paris."},
		{"two blocks", "A<think>x</think>B<think>y</think>C", "ABC"},
		{"unterminated", "Answer<think>still thinking", "Answer"},
		{"only reasoning", "<think>hmm</think>", ""},
		{"stray close", "text</think>", "text</think>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripReasoning(tt.in); got != tt.want {
				t.Errorf("StripReasoning(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	plain := NewMessage("c1", RoleUser, "hi", now)
	if plain.Text != "hi" || plain.FullText != "" {
		t.Errorf("plain message = %+v, want text only", plain)
	}
	if plain.ID == "" || plain.ConversationID != "c1" || !plain.CreatedAt.Equal(now) {
		t.Errorf("plain message metadata = %+v", plain)
	}

	raw := "<think>why</think>Because."
	reasoned := NewMessage("c1", RoleAssistant, raw, now)
	if reasoned.Text != "Because." || reasoned.FullText != raw {
		t.Errorf("reasoned message = %+v", reasoned)
	}
	if reasoned.ID == plain.ID {
		t.Error("message IDs should be unique")
	}
}

// ============================================================================
// State machines
// ============================================================================

func TestEnvelopeStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to EnvelopeStatus
		want     bool
	}{
		{StatusPending, StatusAcknowledged, true},
		{StatusAcknowledged, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusPending, true},
		{StatusCompleted, StatusPending, true},
		{StatusFailed, StatusPending, true},
		{StatusCompleted, StatusFailed, false},
		{StatusProcessing, StatusAcknowledged, false},
		{StatusPending, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if EnvelopeStatus("bogus").IsValid() {
		t.Error("bogus status should be invalid")
	}
}

func TestCommandState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to CommandState
		want     bool
	}{
		{CommandQueued, CommandRunning, true},
		{CommandRunning, CommandSucceeded, true},
		{CommandRunning, CommandFailed, true},
		{CommandQueued, CommandFailed, true},
		{CommandSucceeded, CommandRunning, false},
		{CommandFailed, CommandSucceeded, false},
		{CommandRunning, CommandQueued, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCommand_Lease(t *testing.T) {
	now := time.Now()
	until := now.Add(time.Minute)
	cmd := Command{LeaseOwner: "worker-1", LeaseUntil: &until}

	if !cmd.LeaseActive(now) {
		t.Error("lease should be active before expiry")
	}
	if cmd.LeaseActive(until.Add(time.Second)) {
		t.Error("lease should lapse after expiry")
	}
	cmd.ClearLease()
	if cmd.LeaseActive(now) || cmd.LeaseOwner != "" {
		t.Error("ClearLease should drop the lease")
	}
}

func TestValidateCommand(t *testing.T) {
	if verb, err := ValidateCommand("post", "/api/v1/models/pull"); err != nil || verb != "POST" {
		t.Errorf("ValidateCommand(post) = %q, %v", verb, err)
	}
	if _, err := ValidateCommand("TRACE", "/x"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("ValidateCommand(TRACE) error = %v, want ErrInvalidCommand", err)
	}
	if _, err := ValidateCommand("GET", "relative"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("ValidateCommand(relative) error = %v, want ErrInvalidCommand", err)
	}
}

// ============================================================================
// Codec and identifiers
// ============================================================================

func TestCodec_RoundTripsEnvelope(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	env := Envelope{
		ConversationID:  "c1",
		Messages:        []RelayMessage{NewMessage("c1", RoleUser, "hello", now)},
		NeedsResponse:   true,
		Parameters:      map[string]string{"model": "llama3"},
		Status:          StatusPending,
		StatusUpdatedAt: now,
	}

	rec := recordstore.NewRecord(TypeEnvelope, env.ConversationID)
	if err := Encode(rec, env); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if rec.Fields["needsResponse"] != true {
		t.Errorf("needsResponse field = %v, want true", rec.Fields["needsResponse"])
	}

	var got Envelope
	if err := Decode(rec, &got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ConversationID != "c1" || len(got.Messages) != 1 || got.Parameters["model"] != "llama3" {
		t.Errorf("decoded envelope = %+v", got)
	}
	if !got.StatusUpdatedAt.Equal(now) {
		t.Errorf("StatusUpdatedAt = %v, want %v", got.StatusUpdatedAt, now)
	}
}

func TestDecode_BadFields(t *testing.T) {
	rec := recordstore.NewRecord(TypeCommand, "x")
	rec.Fields["state"] = 42

	var cmd Command
	err := Decode(rec, &cmd)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Decode() error = %v, want ErrDecode", err)
	}
	if !strings.Contains(err.Error(), "Command/x") {
		t.Errorf("error %q should name the record", err)
	}
}

func TestIdentifiers(t *testing.T) {
	if got := NormalizeHostID("  mac-1 "); got != "MAC-1" {
		t.Errorf("NormalizeHostID() = %q, want MAC-1", got)
	}
	if got := ModelRecordID("mac-1", "llama3:8b"); got != "MAC-1/llama3:8b" {
		t.Errorf("ModelRecordID() = %q", got)
	}
	if got := EndpointRecordID("mac-1", "ollama"); got != "MAC-1/ollama" {
		t.Errorf("EndpointRecordID() = %q", got)
	}

	a := CommandIDForKey("MAC-1", "K")
	if a != CommandIDForKey("mac-1", "K") {
		t.Error("CommandIDForKey should ignore host case")
	}
	if a == CommandIDForKey("MAC-1", "other") || a == CommandIDForKey("MAC-2", "K") {
		t.Error("CommandIDForKey should differ per host and key")
	}
	if GenerateID() == GenerateID() {
		t.Error("GenerateID should be random")
	}
}
