package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// CompleteRequest finishes a command.
type CompleteRequest struct {
	CommandID string
	// Owner must match the lease owner while the lease is live.
	Owner      string
	State      model.CommandState
	StatusCode int
	Result     []byte
	// ErrorMessage, when set, replaces Result with {"error": ErrorMessage}.
	ErrorMessage string
}

// queuedQuery selects this host's queued commands.
func (p *Publisher) queuedQuery(limit int) recordstore.Query {
	return recordstore.Query{
		Where: []recordstore.Condition{
			recordstore.Eq("hostId", p.hostID),
			recordstore.Eq("state", string(model.CommandQueued)),
		},
		Limit: limit,
	}
}

// runningQuery selects this host's running commands.
func (p *Publisher) runningQuery() recordstore.Query {
	return recordstore.Query{
		Where: []recordstore.Condition{
			recordstore.Eq("hostId", p.hostID),
			recordstore.Eq("state", string(model.CommandRunning)),
		},
	}
}

// ownCommand rejects commands addressed to another host.
func (p *Publisher) ownCommand(cmd model.Command) error {
	if model.NormalizeHostID(cmd.HostID) != p.hostID {
		return fmt.Errorf("%w: %s addressed to %s", ErrForeignCommand, cmd.ID, cmd.HostID)
	}
	return nil
}

// FetchQueuedCommands returns up to limit queued commands for this host,
// oldest first. A limit of zero or less means no limit.
func (p *Publisher) FetchQueuedCommands(ctx context.Context, limit int) ([]model.Command, error) {
	var cmds []model.Command
	err := p.call(ctx, func(ctx context.Context) error {
		recs, err := recordstore.QueryOrEmpty(ctx, p.store, model.TypeCommand, p.queuedQuery(limit))
		if err != nil {
			return fmt.Errorf("querying queued commands: %w", err)
		}
		cmds = make([]model.Command, 0, len(recs))
		for _, rec := range recs {
			var cmd model.Command
			if err := model.Decode(rec, &cmd); err != nil {
				return err
			}
			cmds = append(cmds, cmd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cmds, nil
}

// FetchExpiredCommands returns this host's running commands whose lease has
// lapsed, typically because the worker holding them died. They can be
// claimed again.
func (p *Publisher) FetchExpiredCommands(ctx context.Context, limit int) ([]model.Command, error) {
	var cmds []model.Command
	err := p.call(ctx, func(ctx context.Context) error {
		recs, err := recordstore.QueryOrEmpty(ctx, p.store, model.TypeCommand, p.runningQuery())
		if err != nil {
			return fmt.Errorf("querying running commands: %w", err)
		}
		now := p.now()
		cmds = nil
		for _, rec := range recs {
			var cmd model.Command
			if err := model.Decode(rec, &cmd); err != nil {
				return err
			}
			if cmd.LeaseActive(now) {
				continue
			}
			cmds = append(cmds, cmd)
			if limit > 0 && len(cmds) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cmds, nil
}

// Claim leases a command of this host to owner for lease. A queued command
// can be claimed, and so can a running one whose lease has expired.
//
// Returns:
//   - *model.Command: The running command, or nil when it is not claimable
//     (another claimer won, or the command finished)
//   - error: ErrForeignCommand for another host's command; store errors,
//     including recordstore.ErrNotFound
func (p *Publisher) Claim(ctx context.Context, commandID, owner string, lease time.Duration) (*model.Command, error) {
	var claimed *model.Command
	err := p.call(ctx, func(ctx context.Context) error {
		c, err := p.claim(ctx, commandID, owner, lease)
		claimed = c
		return err
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		metrics.RecordClaim("lost")
		return nil, nil
	}
	metrics.RecordClaim("won")
	return claimed, nil
}

func (p *Publisher) claim(ctx context.Context, commandID, owner string, lease time.Duration) (*model.Command, error) {
	var cmd model.Command
	_, err := recordstore.Update(ctx, p.store, model.TypeCommand, commandID, nil, func(rec *recordstore.Record) error {
		cmd = model.Command{}
		if err := model.Decode(rec, &cmd); err != nil {
			return err
		}
		if err := p.ownCommand(cmd); err != nil {
			return err
		}
		now := p.now().UTC()
		expired := cmd.State == model.CommandRunning && !cmd.LeaseActive(now)
		if cmd.State != model.CommandQueued && !expired {
			return recordstore.ErrNoChange
		}
		until := now.Add(lease)
		cmd.State = model.CommandRunning
		cmd.LeaseOwner = owner
		cmd.LeaseUntil = &until
		cmd.UpdatedAt = now
		return model.Encode(rec, cmd)
	})
	if errors.Is(err, recordstore.ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming command %s: %w", commandID, err)
	}
	return &cmd, nil
}

// Complete moves a command to a terminal state and clears its lease.
//
// Returns:
//   - *model.Command: The finished command
//   - error: ErrInvalidTransition for non-terminal targets or finished
//     commands; ErrLeaseHeld when another owner holds a live lease;
//     ErrForeignCommand for another host's command
func (p *Publisher) Complete(ctx context.Context, req CompleteRequest) (*model.Command, error) {
	if !req.State.IsTerminal() {
		return nil, fmt.Errorf("%w: target state %q is not terminal", ErrInvalidTransition, req.State)
	}

	var result []byte
	if req.ErrorMessage != "" {
		payload, err := json.Marshal(map[string]string{"error": req.ErrorMessage})
		if err != nil {
			return nil, err
		}
		result = payload
	} else {
		result = req.Result
	}

	var done model.Command
	err := p.call(ctx, func(ctx context.Context) error {
		_, err := recordstore.Update(ctx, p.store, model.TypeCommand, req.CommandID, nil, func(rec *recordstore.Record) error {
			var cmd model.Command
			if err := model.Decode(rec, &cmd); err != nil {
				return err
			}
			if err := p.ownCommand(cmd); err != nil {
				return err
			}
			now := p.now().UTC()
			if !cmd.State.CanTransition(req.State) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cmd.State, req.State)
			}
			if cmd.LeaseActive(now) && cmd.LeaseOwner != req.Owner {
				return fmt.Errorf("%w: %s", ErrLeaseHeld, cmd.LeaseOwner)
			}
			cmd.State = req.State
			cmd.StatusCode = req.StatusCode
			cmd.Result = result
			cmd.ErrorMessage = req.ErrorMessage
			cmd.ClearLease()
			cmd.UpdatedAt = now
			done = cmd
			return model.Encode(rec, cmd)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("completing command %s: %w", req.CommandID, err)
	}
	return &done, nil
}
