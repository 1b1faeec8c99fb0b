package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
	"github.com/nerrad567/peerlink-core/internal/syncutil"
)

// DefaultPollInterval is the fallback timer period.
const DefaultPollInterval = 15 * time.Second

// Poll triggers, used as metric labels and in logs.
const (
	TriggerStartup = "startup"
	TriggerTimer   = "timer"
	TriggerPush    = "push"
	TriggerManual  = "manual"
)

// Provider generates the reply text for an envelope.
type Provider interface {
	GenerateReply(ctx context.Context, env model.Envelope) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, env model.Envelope) (string, error)

// GenerateReply calls f.
func (f ProviderFunc) GenerateReply(ctx context.Context, env model.Envelope) (string, error) {
	return f(ctx, env)
}

// Telemetry receives one event per processed envelope.
type Telemetry interface {
	RecordRelayProcessing(conversationID, outcome string, duration time.Duration)
}

// Logger is the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds relay settings.
type Config struct {
	// SubscriptionID names the push subscription for pending envelopes.
	SubscriptionID string

	// PollInterval is the fallback timer period. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// MaxWorkers bounds concurrent processing. Zero means the default pool size.
	MaxWorkers int
}

// Relay processes pending envelopes from a record store.
//
// Thread Safety: all methods are safe for concurrent use.
type Relay struct {
	store     recordstore.Store
	provider  Provider
	telemetry Telemetry
	logger    Logger
	now       func() time.Time

	subscriptionID string
	pollInterval   time.Duration

	gate     *syncutil.Gate
	inflight *syncutil.InFlight
	permits  *syncutil.PermitPool

	mu        sync.Mutex
	running   bool
	stopTimer context.CancelFunc
	timerDone chan struct{}

	tasks sync.WaitGroup
}

// New creates a relay.
//
// Parameters:
//   - store: Record store holding the envelopes
//   - provider: Reply generator
//   - cfg: Relay settings
//
// Returns:
//   - *Relay: Ready to Start, or to Poll manually
func New(store recordstore.Store, provider Provider, cfg Config) *Relay {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	subID := cfg.SubscriptionID
	if subID == "" {
		subID = "relay"
	}
	return &Relay{
		store:          store,
		provider:       provider,
		logger:         noopLogger{},
		now:            time.Now,
		subscriptionID: subID,
		pollInterval:   interval,
		gate:           syncutil.NewGate(),
		inflight:       syncutil.NewInFlight(),
		permits:        syncutil.NewPermitPool(cfg.MaxWorkers),
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetTelemetry sets the processing event sink.
func (r *Relay) SetTelemetry(t Telemetry) {
	r.telemetry = t
}

// SubscriptionID returns the push subscription identifier.
func (r *Relay) SubscriptionID() string {
	return r.subscriptionID
}

// Post writes env as the current state of its conversation, replacing
// whatever is stored. An empty status defaults to pending.
func (r *Relay) Post(ctx context.Context, env model.Envelope) (*model.Envelope, error) {
	if r.store == nil {
		return nil, ErrNotConfigured
	}
	if env.ConversationID == "" {
		return nil, ErrInvalidEnvelope
	}
	if env.Status == "" {
		env.Status = model.StatusPending
	}
	if !env.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidEnvelope, env.Status)
	}
	if env.StatusUpdatedAt.IsZero() {
		env.StatusUpdatedAt = r.now().UTC()
	}
	if env.Messages == nil {
		env.Messages = []model.RelayMessage{}
	}

	rec, err := recordstore.Update(ctx, r.store, model.TypeEnvelope, env.ConversationID, r.newEnvelopeRecord(env.ConversationID),
		func(rec *recordstore.Record) error {
			return model.Encode(rec, env)
		})
	if err != nil {
		return nil, fmt.Errorf("posting envelope: %w", err)
	}
	return decodeEnvelope(rec)
}

// Fetch returns the envelope for a conversation, or nil when none exists.
func (r *Relay) Fetch(ctx context.Context, conversationID string) (*model.Envelope, error) {
	if r.store == nil {
		return nil, ErrNotConfigured
	}
	rec, err := r.store.Fetch(ctx, model.TypeEnvelope, conversationID)
	if errors.Is(err, recordstore.ErrNotFound) || recordstore.IsSchemaUnknown(err, model.TypeEnvelope) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching envelope: %w", err)
	}
	return decodeEnvelope(rec)
}

// AppendMessage adds a message to a conversation and re-arms it for a
// response, creating the envelope when needed. Concurrent appends are all kept.
func (r *Relay) AppendMessage(ctx context.Context, conversationID, role, text string) (*model.Envelope, error) {
	if r.store == nil {
		return nil, ErrNotConfigured
	}
	if conversationID == "" {
		return nil, ErrInvalidEnvelope
	}
	if role == "" {
		role = model.RoleUser
	}

	msg := model.NewMessage(conversationID, role, text, r.now().UTC())
	rec, err := recordstore.Update(ctx, r.store, model.TypeEnvelope, conversationID, r.newEnvelopeRecord(conversationID),
		func(rec *recordstore.Record) error {
			var env model.Envelope
			if err := model.Decode(rec, &env); err != nil {
				return err
			}
			env.ConversationID = conversationID
			if !env.HasMessage(msg.ID) {
				env.Messages = append(env.Messages, msg)
			}
			env.NeedsResponse = true
			env.SetStatus(model.StatusPending, r.now().UTC())
			return model.Encode(rec, env)
		})
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	return decodeEnvelope(rec)
}

func (r *Relay) newEnvelopeRecord(conversationID string) func() *recordstore.Record {
	return func() *recordstore.Record {
		return recordstore.NewRecord(model.TypeEnvelope, conversationID)
	}
}

func decodeEnvelope(rec *recordstore.Record) (*model.Envelope, error) {
	var env model.Envelope
	if err := model.Decode(rec, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
