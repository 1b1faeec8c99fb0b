package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
	"github.com/nerrad567/peerlink-core/internal/syncutil"
)

// Worker defaults.
const (
	DefaultCommandPollInterval = 15 * time.Second
	DefaultLeaseDuration       = 60 * time.Second
	DefaultBatchSize           = 10
)

// ErrWorkerRunning is returned when Start is called twice.
var ErrWorkerRunning = errors.New("catalog: worker already running")

// CommandTelemetry receives one event per executed command.
type CommandTelemetry interface {
	RecordCommandExecution(cmd model.Command, duration time.Duration)
}

// WorkerConfig holds command worker settings.
type WorkerConfig struct {
	// Owner identifies this worker in command leases.
	Owner          string
	SubscriptionID string
	PollInterval   time.Duration
	LeaseDuration  time.Duration
	BatchSize      int
	MaxWorkers     int
}

// Worker claims this host's queued commands and runs them through an
// Executor. It polls on push notifications and on a fallback ticker.
//
// Thread Safety: all methods are safe for concurrent use.
type Worker struct {
	publisher *Publisher
	executor  Executor
	cfg       WorkerConfig
	logger    Logger
	telemetry CommandTelemetry
	now       func() time.Time

	gate     *syncutil.Gate
	inflight *syncutil.InFlight
	permits  *syncutil.PermitPool

	mu        sync.Mutex
	running   bool
	stopTimer context.CancelFunc
	timerDone chan struct{}

	tasks sync.WaitGroup
}

// NewWorker creates a command worker that claims through publisher.
func NewWorker(publisher *Publisher, executor Executor, cfg WorkerConfig) *Worker {
	if cfg.Owner == "" {
		cfg.Owner = publisher.HostID()
	}
	if cfg.SubscriptionID == "" {
		cfg.SubscriptionID = "commands-" + publisher.HostID()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultCommandPollInterval
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Worker{
		publisher: publisher,
		executor:  executor,
		cfg:       cfg,
		logger:    noopLogger{},
		now:       time.Now,
		gate:      syncutil.NewGate(),
		inflight:  syncutil.NewInFlight(),
		permits:   syncutil.NewPermitPool(cfg.MaxWorkers),
	}
}

// SetLogger sets the logger for the worker.
func (w *Worker) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetTelemetry sets the command telemetry sink.
func (w *Worker) SetTelemetry(t CommandTelemetry) {
	w.telemetry = t
}

// SubscriptionID returns the push subscription identifier.
func (w *Worker) SubscriptionID() string {
	return w.cfg.SubscriptionID
}

// Start subscribes to queued commands, runs one poll and launches the
// fallback ticker.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWorkerRunning
	}
	w.running = true
	timerCtx, cancel := context.WithCancel(ctx)
	w.stopTimer = cancel
	w.timerDone = make(chan struct{})
	done := w.timerDone
	w.mu.Unlock()

	sub := recordstore.Subscription{
		ID:    w.cfg.SubscriptionID,
		Type:  model.TypeCommand,
		Where: w.publisher.queuedQuery(0).Where,
	}
	if err := w.publisher.subscribe(ctx, sub); err != nil {
		w.logger.Warn("command subscription failed, relying on timer", "error", err)
	}
	if err := w.poll(ctx); err != nil {
		w.logger.Warn("startup command poll failed", "error", err)
	}

	go w.timerLoop(timerCtx, done)

	w.logger.Info("command worker started", "owner", w.cfg.Owner, "interval", w.cfg.PollInterval)
	return nil
}

// Stop cancels the fallback ticker. Running commands finish; use Wait to
// block on them.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.stopTimer
	done := w.timerDone
	w.stopTimer = nil
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("command worker stopped")
}

// Wait blocks until every spawned command has finished.
func (w *Worker) Wait() {
	w.tasks.Wait()
}

// HandleNotification reacts to a push notification with one poll.
func (w *Worker) HandleNotification(ctx context.Context, _ []byte) error {
	return w.poll(ctx)
}

// Poll looks for queued commands once.
func (w *Worker) Poll(ctx context.Context) error {
	return w.poll(ctx)
}

func (w *Worker) timerLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("command poll failed", "error", err)
			}
		}
	}
}

func (w *Worker) poll(ctx context.Context) error {
	return w.gate.Do(ctx, func(ctx context.Context) error {
		cmds, err := w.publisher.FetchQueuedCommands(ctx, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		expired, err := w.publisher.FetchExpiredCommands(ctx, w.cfg.BatchSize)
		if err != nil {
			w.logger.Warn("expired command scan failed", "error", err)
		}
		for _, cmd := range append(cmds, expired...) {
			if !w.inflight.TryClaim(cmd.ID) {
				continue
			}
			if cmd.State == model.CommandRunning {
				w.logger.Warn("reclaiming command with expired lease", "command", cmd.ID, "previous_owner", cmd.LeaseOwner)
			}
			w.spawn(ctx, cmd.ID)
		}
		return nil
	})
}

func (w *Worker) spawn(ctx context.Context, commandID string) {
	taskCtx := context.WithoutCancel(ctx)
	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		defer w.inflight.Release(commandID)

		if err := w.permits.Acquire(taskCtx); err != nil {
			return
		}
		defer w.permits.Release()

		if err := w.run(taskCtx, commandID); err != nil {
			w.logger.Error("command failed", "command", commandID, "error", err)
		}
	}()
}

// run claims, executes and completes one command.
func (w *Worker) run(ctx context.Context, commandID string) error {
	cmd, err := w.publisher.Claim(ctx, commandID, w.cfg.Owner, w.cfg.LeaseDuration)
	if err != nil {
		return err
	}
	if cmd == nil {
		w.logger.Debug("command claimed elsewhere", "command", commandID)
		return nil
	}

	start := w.now()
	execCtx, cancel := context.WithTimeout(ctx, w.cfg.LeaseDuration)
	res, execErr := w.executor.Execute(execCtx, *cmd)
	cancel()

	req := CompleteRequest{CommandID: commandID, Owner: w.cfg.Owner}
	switch {
	case execErr != nil:
		req.State = model.CommandFailed
		req.ErrorMessage = execErr.Error()
	case res.StatusCode < http.StatusBadRequest:
		req.State = model.CommandSucceeded
		req.StatusCode = res.StatusCode
		req.Result = res.Body
	default:
		req.State = model.CommandFailed
		req.StatusCode = res.StatusCode
		req.Result = res.Body
	}

	done, err := w.publisher.Complete(ctx, req)
	elapsed := w.now().Sub(start)
	metrics.RecordCommand(string(req.State), req.StatusCode, elapsed)
	if err != nil {
		return fmt.Errorf("completing: %w", err)
	}
	if w.telemetry != nil {
		w.telemetry.RecordCommandExecution(*done, elapsed)
	}
	w.logger.Info("command executed", "command", commandID, "verb", cmd.Verb, "path", cmd.Path,
		"state", done.State, "status", done.StatusCode, "duration", elapsed)
	return nil
}
