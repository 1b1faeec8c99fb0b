package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// pendingQuery selects envelopes waiting for a reply.
func pendingQuery() recordstore.Query {
	return recordstore.Query{Where: []recordstore.Condition{recordstore.Eq("needsResponse", true)}}
}

// Start registers the push subscription, runs the startup poll and launches
// the fallback timer. The timer stops when ctx is cancelled or Stop is called.
//
// Subscription and startup poll failures are logged; the timer retries.
func (r *Relay) Start(ctx context.Context) error {
	if r.store == nil || r.provider == nil {
		return ErrNotConfigured
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	timerCtx, cancel := context.WithCancel(ctx)
	r.stopTimer = cancel
	r.timerDone = make(chan struct{})
	done := r.timerDone
	r.mu.Unlock()

	sub := recordstore.Subscription{
		ID:    r.subscriptionID,
		Type:  model.TypeEnvelope,
		Where: pendingQuery().Where,
	}
	if err := r.store.Subscribe(ctx, sub); err != nil && !errors.Is(err, recordstore.ErrSubscriptionExists) {
		r.logger.Warn("relay subscription failed, relying on timer", "subscription", r.subscriptionID, "error", err)
	}

	if err := r.poll(ctx, TriggerStartup); err != nil {
		r.logger.Warn("startup poll failed", "error", err)
	}

	go r.timerLoop(timerCtx, done)

	r.logger.Info("relay started", "subscription", r.subscriptionID, "interval", r.pollInterval, "workers", r.permits.Size())
	return nil
}

// Stop cancels the fallback timer. Tasks already processing run to
// completion; use Wait to block on them.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.stopTimer
	done := r.timerDone
	r.stopTimer = nil
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("relay stopped")
}

// Wait blocks until every spawned processing task has finished.
func (r *Relay) Wait() {
	r.tasks.Wait()
}

// HandleNotification reacts to a push notification. The payload is opaque;
// any notification starts a poll.
func (r *Relay) HandleNotification(ctx context.Context, payload []byte) error {
	r.logger.Debug("relay notification", "bytes", len(payload))
	return r.poll(ctx, TriggerPush)
}

// Poll scans for pending envelopes once.
func (r *Relay) Poll(ctx context.Context) error {
	return r.poll(ctx, TriggerManual)
}

func (r *Relay) timerLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.poll(ctx, TriggerTimer); err != nil && ctx.Err() == nil {
				r.logger.Warn("timer poll failed", "error", err)
			}
		}
	}
}

// poll queries pending envelopes under the gate and spawns a task for each
// one not already in flight. It returns once tasks are spawned.
func (r *Relay) poll(ctx context.Context, trigger string) error {
	if r.store == nil || r.provider == nil {
		return ErrNotConfigured
	}

	return r.gate.Do(ctx, func(ctx context.Context) error {
		metrics.RecordPoll(trigger)

		recs, err := recordstore.QueryOrEmpty(ctx, r.store, model.TypeEnvelope, pendingQuery())
		if err != nil {
			return fmt.Errorf("querying pending envelopes: %w", err)
		}

		spawned := 0
		for _, rec := range recs {
			if !r.inflight.TryClaim(rec.ID) {
				continue
			}
			r.spawn(ctx, rec.ID)
			spawned++
		}
		if spawned > 0 {
			r.logger.Debug("relay poll", "trigger", trigger, "pending", len(recs), "spawned", spawned)
		}
		return nil
	})
}

// spawn runs one processing task detached from the trigger's cancellation.
func (r *Relay) spawn(ctx context.Context, conversationID string) {
	taskCtx := context.WithoutCancel(ctx)
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		defer r.inflight.Release(conversationID)

		if err := r.permits.Acquire(taskCtx); err != nil {
			r.logger.Error("acquiring relay permit", "conversation", conversationID, "error", err)
			return
		}
		defer r.permits.Release()

		r.process(taskCtx, conversationID)
	}()
}
