package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// Logger is the logging interface used by the catalog package.
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

// HostStateTelemetry receives every published host state.
type HostStateTelemetry interface {
	RecordHostState(state model.HostState)
}

// request is one operation queued for the publisher goroutine.
type request struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	reply chan error
}

// Publisher writes this host's catalog, host state and command updates.
//
// Operations are executed one at a time on the publisher's own goroutine.
// SetLogger and SetTelemetry must be called before the first operation.
//
// Thread Safety: all methods are safe for concurrent use.
type Publisher struct {
	store     recordstore.Store
	hostID    string
	logger    Logger
	telemetry HostStateTelemetry
	now       func() time.Time

	requests  chan request
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Owned by the publisher goroutine.
	catalogVersion int64
	stateVersion   int64
	knownLoaded    bool
	knownModels    map[string]*recordstore.Record
	knownEndpoints map[string]*recordstore.Record
}

// NewPublisher creates a publisher for hostID and starts its goroutine.
//
// Parameters:
//   - store: Shared record store
//   - hostID: This host's identifier; normalised to upper case
//
// Returns:
//   - *Publisher: Running publisher; call Close when done
//   - error: recordstore.ErrNotConfigured or model.ErrInvalidHostID
func NewPublisher(store recordstore.Store, hostID string) (*Publisher, error) {
	if store == nil {
		return nil, recordstore.ErrNotConfigured
	}
	host := model.NormalizeHostID(hostID)
	if host == "" {
		return nil, model.ErrInvalidHostID
	}

	p := &Publisher{
		store:          store,
		hostID:         host,
		logger:         noopLogger{},
		now:            time.Now,
		requests:       make(chan request),
		done:           make(chan struct{}),
		exited:         make(chan struct{}),
		knownModels:    make(map[string]*recordstore.Record),
		knownEndpoints: make(map[string]*recordstore.Record),
	}
	go p.loop()
	return p, nil
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetTelemetry sets the host state telemetry sink.
func (p *Publisher) SetTelemetry(t HostStateTelemetry) {
	p.telemetry = t
}

// HostID returns the normalised host identifier.
func (p *Publisher) HostID() string {
	return p.hostID
}

// Close stops the publisher goroutine. Operations already accepted finish
// first; later calls return ErrPublisherClosed.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	<-p.exited
}

func (p *Publisher) loop() {
	defer close(p.exited)
	for {
		select {
		case <-p.done:
			return
		case req := <-p.requests:
			req.reply <- req.fn(req.ctx)
		}
	}
}

// call runs fn on the publisher goroutine and waits for its result.
func (p *Publisher) call(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case p.requests <- req:
	case <-p.done:
		return ErrPublisherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// subscribe registers a store subscription, treating an existing one as success.
func (p *Publisher) subscribe(ctx context.Context, sub recordstore.Subscription) error {
	return p.call(ctx, func(ctx context.Context) error {
		err := p.store.Subscribe(ctx, sub)
		if err != nil && !isSubscriptionExists(err) {
			return fmt.Errorf("subscribing %s: %w", sub.ID, err)
		}
		return nil
	})
}

func (p *Publisher) newRecord(recordType, id string) func() *recordstore.Record {
	return func() *recordstore.Record {
		return recordstore.NewRecord(recordType, id)
	}
}
