package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// DefaultWaitInterval is how often WaitForCommand re-reads a command.
const DefaultWaitInterval = 500 * time.Millisecond

// CommandRequest describes a command to queue for a remote host.
type CommandRequest struct {
	HostID string
	Verb   string
	Path   string
	Body   []byte
	// IdempotencyKey makes repeated requests with the same key on the same
	// host return the first command instead of queueing another.
	IdempotencyKey string
}

// Client reads other hosts' catalogs and queues commands for them.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	store        recordstore.Store
	waitInterval time.Duration
	now          func() time.Time
}

// NewClient creates a catalog client. A waitInterval of zero means
// DefaultWaitInterval.
func NewClient(store recordstore.Store, waitInterval time.Duration) *Client {
	if waitInterval <= 0 {
		waitInterval = DefaultWaitInterval
	}
	return &Client{store: store, waitInterval: waitInterval, now: time.Now}
}

// FetchCatalog returns the exposed models and endpoints of hostID together
// with its device and host state records. Missing records are nil, and
// record types nobody has published yet read as empty.
func (c *Client) FetchCatalog(ctx context.Context, hostID string) (*model.Snapshot, error) {
	if c.store == nil {
		return nil, recordstore.ErrNotConfigured
	}
	host := model.NormalizeHostID(hostID)
	if host == "" {
		return nil, model.ErrInvalidHostID
	}

	snap := &model.Snapshot{Models: []model.Model{}, Endpoints: []model.Endpoint{}}
	exposed := recordstore.Query{Where: []recordstore.Condition{
		recordstore.Eq("hostId", host),
		recordstore.Eq("exposed", true),
	}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var dev model.Device
		ok, err := c.fetchOptional(gctx, model.TypeDevice, host, &dev)
		if ok {
			snap.Device = &dev
		}
		return err
	})
	g.Go(func() error {
		var state model.HostState
		ok, err := c.fetchOptional(gctx, model.TypeHostState, host, &state)
		if ok {
			snap.HostState = &state
		}
		return err
	})
	g.Go(func() error {
		recs, err := recordstore.QueryOrEmpty(gctx, c.store, model.TypeModel, exposed)
		if err != nil {
			return fmt.Errorf("querying models: %w", err)
		}
		for _, rec := range recs {
			var m model.Model
			if err := model.Decode(rec, &m); err != nil {
				return err
			}
			snap.Models = append(snap.Models, m)
		}
		return nil
	})
	g.Go(func() error {
		recs, err := recordstore.QueryOrEmpty(gctx, c.store, model.TypeEndpoint, exposed)
		if err != nil {
			return fmt.Errorf("querying endpoints: %w", err)
		}
		for _, rec := range recs {
			var e model.Endpoint
			if err := model.Decode(rec, &e); err != nil {
				return err
			}
			snap.Endpoints = append(snap.Endpoints, e)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// fetchOptional decodes a record into v. It reports false without an error
// when the record does not exist.
func (c *Client) fetchOptional(ctx context.Context, recordType, id string, v any) (bool, error) {
	rec, err := c.store.Fetch(ctx, recordType, id)
	if errors.Is(err, recordstore.ErrNotFound) || recordstore.IsSchemaUnknown(err, recordType) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetching %s %s: %w", recordType, id, err)
	}
	if err := model.Decode(rec, v); err != nil {
		return false, err
	}
	return true, nil
}

// CreateCommand queues a command for a remote host. With an idempotency
// key, an existing command for the same host and key is returned unchanged.
func (c *Client) CreateCommand(ctx context.Context, req CommandRequest) (*model.Command, error) {
	if c.store == nil {
		return nil, recordstore.ErrNotConfigured
	}
	host := model.NormalizeHostID(req.HostID)
	if host == "" {
		return nil, model.ErrInvalidHostID
	}
	verb, err := model.ValidateCommand(req.Verb, req.Path)
	if err != nil {
		return nil, err
	}

	id := model.GenerateID()
	if req.IdempotencyKey != "" {
		id = model.CommandIDForKey(host, req.IdempotencyKey)
	}

	rec, err := recordstore.Update(ctx, c.store, model.TypeCommand, id,
		func() *recordstore.Record { return recordstore.NewRecord(model.TypeCommand, id) },
		func(rec *recordstore.Record) error {
			if rec.ChangeTag != 0 {
				return recordstore.ErrNoChange
			}
			now := c.now().UTC()
			return model.Encode(rec, model.Command{
				ID:             id,
				HostID:         host,
				Verb:           verb,
				Path:           req.Path,
				Body:           req.Body,
				State:          model.CommandQueued,
				IdempotencyKey: req.IdempotencyKey,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		})
	if err != nil && !errors.Is(err, recordstore.ErrNoChange) {
		return nil, fmt.Errorf("creating command: %w", err)
	}
	return decodeCommand(rec)
}

// GetCommand reads a command. A missing command yields an error wrapping
// recordstore.ErrNotFound.
func (c *Client) GetCommand(ctx context.Context, commandID string) (*model.Command, error) {
	if c.store == nil {
		return nil, recordstore.ErrNotConfigured
	}
	rec, err := c.store.Fetch(ctx, model.TypeCommand, commandID)
	if err != nil {
		return nil, fmt.Errorf("fetching command %s: %w", commandID, err)
	}
	return decodeCommand(rec)
}

// WaitForCommand re-reads a command every wait interval until it reaches
// succeeded or failed, or timeout elapses.
//
// Returns:
//   - *model.Command: The terminal command
//   - error: ErrTimeout, ctx.Err(), or a fetch error
func (c *Client) WaitForCommand(ctx context.Context, commandID string, timeout time.Duration) (*model.Command, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()

	for {
		cmd, err := c.GetCommand(ctx, commandID)
		if err != nil {
			return nil, err
		}
		if cmd.State.IsTerminal() {
			return cmd, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s still %s after %s", ErrTimeout, commandID, cmd.State, timeout)
		case <-ticker.C:
		}
	}
}

func decodeCommand(rec *recordstore.Record) (*model.Command, error) {
	var cmd model.Command
	if err := model.Decode(rec, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
