package recordstore

import (
	"context"
	"time"
)

// Store is the record store contract shared by every peer.
type Store interface {
	// Fetch returns the record or ErrNotFound.
	Fetch(ctx context.Context, recordType, id string) (*Record, error)

	// Save writes the batch atomically and returns the saved records with
	// their new change tags. Under IfUnchanged any stale record rejects the
	// whole batch with a *ConflictError.
	Save(ctx context.Context, records []*Record, policy SavePolicy) ([]*Record, error)

	// Query returns matching records, or a *SchemaUnknownError when
	// recordType was never provisioned.
	Query(ctx context.Context, recordType string, q Query) ([]*Record, error)

	// Subscribe registers a change subscription. A duplicate ID returns
	// ErrSubscriptionExists.
	Subscribe(ctx context.Context, sub Subscription) error
}

// Notifier delivers change signals to subscribers. Implementations must not
// block for long; failures are logged and never fail the save.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, change Change) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Logger is the logging interface used by stores.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a store.
type Option func(*options)

type options struct {
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier sets the notifier signalled after each committed save.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the store's logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// signal notifies every subscription matching a saved record.
func (o *options) signal(ctx context.Context, subs []Subscription, saved []*Record) {
	if o.notifier == nil {
		return
	}
	for _, rec := range saved {
		for _, sub := range subs {
			if sub.Type != rec.Type || !Matches(rec, sub.Where) {
				continue
			}
			change := Change{SubscriptionID: sub.ID, Type: rec.Type, ID: rec.ID, ChangeTag: rec.ChangeTag}
			if err := o.notifier.Notify(ctx, change); err != nil {
				o.logger.Warn("change notification failed",
					"subscription", sub.ID, "record", rec.Key().String(), "error", err)
			}
		}
	}
}

// checkBatch validates record identities and rejects duplicates.
func checkBatch(records []*Record) error {
	seen := make(map[Key]struct{}, len(records))
	for _, rec := range records {
		if rec == nil || rec.Type == "" || rec.ID == "" {
			return ErrInvalidRecord
		}
		if !fieldNamePattern.MatchString(rec.Type) {
			return ErrInvalidRecord
		}
		if _, dup := seen[rec.Key()]; dup {
			return ErrInvalidRecord
		}
		seen[rec.Key()] = struct{}{}
	}
	return nil
}
