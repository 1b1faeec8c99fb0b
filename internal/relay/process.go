package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// Processing outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRearmed   = "rearmed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// process walks one envelope through its lifecycle. Any failure marks the
// envelope failed.
func (r *Relay) process(ctx context.Context, conversationID string) {
	start := r.now()

	outcome, err := r.respond(ctx, conversationID)
	if err != nil {
		outcome = OutcomeFailed
		r.logger.Warn("relay processing failed", "conversation", conversationID, "error", err)
		r.markFailed(ctx, conversationID, err)
	}

	elapsed := r.now().Sub(start)
	metrics.RecordEnvelopeProcessed(outcome, elapsed)
	if r.telemetry != nil && outcome != OutcomeSkipped {
		r.telemetry.RecordRelayProcessing(conversationID, outcome, elapsed)
	}
	if outcome != OutcomeSkipped {
		r.logger.Info("envelope processed", "conversation", conversationID, "outcome", outcome, "duration", elapsed)
	}
}

func (r *Relay) respond(ctx context.Context, conversationID string) (string, error) {
	_, err := r.transition(ctx, conversationID, func(env *model.Envelope) error {
		if !env.NeedsResponse {
			return recordstore.ErrNoChange
		}
		env.SetStatus(model.StatusAcknowledged, r.now().UTC())
		return nil
	})
	if errors.Is(err, recordstore.ErrNoChange) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("acknowledging: %w", err)
	}

	snapshot, err := r.transition(ctx, conversationID, func(env *model.Envelope) error {
		env.SetStatus(model.StatusProcessing, r.now().UTC())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("starting processing: %w", err)
	}

	reply, err := r.provider.GenerateReply(ctx, *snapshot)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}
	response := model.NewMessage(conversationID, model.RoleAssistant, reply, r.now().UTC())

	final, err := r.transition(ctx, conversationID, func(env *model.Envelope) error {
		mergeReply(env, snapshot.Messages, response, r.now().UTC())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("saving reply: %w", err)
	}
	if final.Status == model.StatusPending {
		return OutcomeRearmed, nil
	}
	return OutcomeCompleted, nil
}

// markFailed records cause on the envelope and clears needsResponse so the
// poll loop does not retry it. Envelopes that already finished are left alone.
func (r *Relay) markFailed(ctx context.Context, conversationID string, cause error) {
	_, err := r.transition(ctx, conversationID, func(env *model.Envelope) error {
		if !env.Status.CanTransition(model.StatusFailed) {
			return recordstore.ErrNoChange
		}
		env.NeedsResponse = false
		env.SetStatus(model.StatusFailed, r.now().UTC())
		env.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil && !errors.Is(err, recordstore.ErrNoChange) {
		r.logger.Error("marking envelope failed", "conversation", conversationID, "error", err)
	}
}

// transition applies mutate to the stored envelope with an optimistic update
// and returns the saved state.
func (r *Relay) transition(ctx context.Context, conversationID string, mutate func(env *model.Envelope) error) (*model.Envelope, error) {
	rec, err := recordstore.Update(ctx, r.store, model.TypeEnvelope, conversationID, nil, func(rec *recordstore.Record) error {
		var env model.Envelope
		if err := model.Decode(rec, &env); err != nil {
			return err
		}
		if err := mutate(&env); err != nil {
			return err
		}
		return model.Encode(rec, env)
	})
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(rec)
}
