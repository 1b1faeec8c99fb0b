package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// CatalogUpdate is a full description of what this host currently offers.
// HostID and Version on the drafts are filled in by the publisher.
type CatalogUpdate struct {
	DeviceName    string
	Capabilities  map[string]string
	Status        model.DeviceStatus
	ActiveModelID string
	Models        []model.Model
	Endpoints     []model.Endpoint
}

// HostStateUpdate is a new live state for this host.
type HostStateUpdate struct {
	Status          model.DeviceStatus
	ActiveModelID   string
	TokensPerSecond *float64
	Context         *model.ContextMetrics
	ChangedBy       string
}

// UpdateCatalog publishes the device record, every drafted model and
// endpoint, and soft-retires previously published ones missing from the
// drafts, all in one batch stamped with the next catalog version.
//
// Returns:
//   - int64: The new catalog version
//   - error: ErrInvalidDraft, recordstore.ErrConflictExceeded, or a store error
func (p *Publisher) UpdateCatalog(ctx context.Context, u CatalogUpdate) (int64, error) {
	if err := validateDrafts(u); err != nil {
		return 0, err
	}

	var version int64
	err := p.call(ctx, func(ctx context.Context) error {
		v, err := p.updateCatalog(ctx, u)
		version = v
		return err
	})
	metrics.RecordPublish("catalog", err == nil)
	if err != nil {
		return 0, err
	}
	p.logger.Info("catalog published", "host", p.hostID, "version", version,
		"models", len(u.Models), "endpoints", len(u.Endpoints))
	return version, nil
}

func (p *Publisher) updateCatalog(ctx context.Context, u CatalogUpdate) (int64, error) {
	if err := p.loadKnown(ctx); err != nil {
		return 0, fmt.Errorf("loading published catalog: %w", err)
	}

	var version int64
	saved, err := recordstore.UpdateBatch(ctx, p.store, func(_ context.Context, b *recordstore.Batch) error {
		devRec, err := b.Fetch(model.TypeDevice, p.hostID, p.newRecord(model.TypeDevice, p.hostID))
		if err != nil {
			return err
		}
		var current model.Device
		if err := model.Decode(devRec, &current); err != nil {
			return err
		}

		version = max(p.catalogVersion, current.CatalogVersion) + 1
		now := p.now().UTC()

		dev := model.Device{
			HostID:         p.hostID,
			Name:           u.DeviceName,
			LastSeen:       now,
			Capabilities:   u.Capabilities,
			CatalogVersion: version,
			ActiveModelID:  u.ActiveModelID,
			Status:         u.Status,
		}
		if dev.Status == "" {
			dev.Status = model.DeviceIdle
		}
		if err := model.Encode(devRec, dev); err != nil {
			return err
		}
		b.Stage(devRec)

		presentModels := make(map[string]bool, len(u.Models))
		for _, m := range u.Models {
			id := model.ModelRecordID(p.hostID, m.ID)
			presentModels[id] = true

			rec, err := b.Fetch(model.TypeModel, id, p.newRecord(model.TypeModel, id))
			if err != nil {
				return err
			}
			m.HostID = p.hostID
			m.Version = version
			if m.Health == "" {
				m.Health = model.ModelAvailable
			}
			if m.LastChecked.IsZero() {
				m.LastChecked = now
			}
			if err := model.Encode(rec, m); err != nil {
				return err
			}
			b.Stage(rec)
		}

		presentEndpoints := make(map[string]bool, len(u.Endpoints))
		for _, e := range u.Endpoints {
			id := model.EndpointRecordID(p.hostID, e.ID)
			presentEndpoints[id] = true

			rec, err := b.Fetch(model.TypeEndpoint, id, p.newRecord(model.TypeEndpoint, id))
			if err != nil {
				return err
			}
			e.HostID = p.hostID
			e.Version = version
			if e.Health == "" {
				e.Health = model.EndpointUp
			}
			if err := model.Encode(rec, e); err != nil {
				return err
			}
			b.Stage(rec)
		}

		if err := p.stageRetired(b, model.TypeModel, p.knownModels, presentModels, version); err != nil {
			return err
		}
		return p.stageRetired(b, model.TypeEndpoint, p.knownEndpoints, presentEndpoints, version)
	})
	if err != nil {
		return 0, err
	}

	p.catalogVersion = version
	for _, rec := range saved {
		switch rec.Type {
		case model.TypeModel:
			p.knownModels[rec.ID] = rec
		case model.TypeEndpoint:
			p.knownEndpoints[rec.ID] = rec
		}
	}
	return version, nil
}

// stageRetired stages exposed=false copies of known records missing from
// present. The stored record is used when it exists; the cached copy
// recreates it otherwise.
func (p *Publisher) stageRetired(b *recordstore.Batch, recordType string, known map[string]*recordstore.Record, present map[string]bool, version int64) error {
	ids := make([]string, 0, len(known))
	for id := range known {
		if !present[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec, err := b.Fetch(recordType, id, known[id].Clone)
		if err != nil {
			return err
		}
		if err := retire(rec, version); err != nil {
			return err
		}
		b.Stage(rec)
	}
	return nil
}

func retire(rec *recordstore.Record, version int64) error {
	switch rec.Type {
	case model.TypeModel:
		var m model.Model
		if err := model.Decode(rec, &m); err != nil {
			return err
		}
		m.Exposed = false
		m.Version = version
		return model.Encode(rec, m)
	case model.TypeEndpoint:
		var e model.Endpoint
		if err := model.Decode(rec, &e); err != nil {
			return err
		}
		e.Exposed = false
		e.Version = version
		return model.Encode(rec, e)
	default:
		return fmt.Errorf("retiring %s record: unsupported type", rec.Type)
	}
}

// loadKnown reads this host's published models and endpoints once per
// publisher lifetime.
func (p *Publisher) loadKnown(ctx context.Context) error {
	if p.knownLoaded {
		return nil
	}
	q := recordstore.Query{Where: []recordstore.Condition{recordstore.Eq("hostId", p.hostID)}}

	models, err := recordstore.QueryOrEmpty(ctx, p.store, model.TypeModel, q)
	if err != nil {
		return err
	}
	endpoints, err := recordstore.QueryOrEmpty(ctx, p.store, model.TypeEndpoint, q)
	if err != nil {
		return err
	}

	for _, rec := range models {
		p.knownModels[rec.ID] = rec
	}
	for _, rec := range endpoints {
		p.knownEndpoints[rec.ID] = rec
	}
	p.knownLoaded = true
	p.logger.Debug("loaded published catalog", "host", p.hostID, "models", len(models), "endpoints", len(endpoints))
	return nil
}

func validateDrafts(u CatalogUpdate) error {
	seen := make(map[string]bool, len(u.Models))
	for _, m := range u.Models {
		if m.ID == "" {
			return fmt.Errorf("%w: model without id", ErrInvalidDraft)
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: model %q listed twice", ErrInvalidDraft, m.ID)
		}
		seen[m.ID] = true
	}
	seen = make(map[string]bool, len(u.Endpoints))
	for _, e := range u.Endpoints {
		if e.ID == "" {
			return fmt.Errorf("%w: endpoint without id", ErrInvalidDraft)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: endpoint %q listed twice", ErrInvalidDraft, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// UpdateHostState publishes a new host state stamped with the next state version.
func (p *Publisher) UpdateHostState(ctx context.Context, u HostStateUpdate) (*model.HostState, error) {
	var state *model.HostState
	err := p.call(ctx, func(ctx context.Context) error {
		s, err := p.updateHostState(ctx, u)
		state = s
		return err
	})
	metrics.RecordPublish("host_state", err == nil)
	if err != nil {
		return nil, err
	}
	if p.telemetry != nil {
		p.telemetry.RecordHostState(*state)
	}
	return state, nil
}

func (p *Publisher) updateHostState(ctx context.Context, u HostStateUpdate) (*model.HostState, error) {
	var next model.HostState
	_, err := recordstore.Update(ctx, p.store, model.TypeHostState, p.hostID, p.newRecord(model.TypeHostState, p.hostID),
		func(rec *recordstore.Record) error {
			var current model.HostState
			if err := model.Decode(rec, &current); err != nil {
				return err
			}
			next = model.HostState{
				HostID:          p.hostID,
				ActiveModelID:   u.ActiveModelID,
				Status:          u.Status,
				TokensPerSecond: u.TokensPerSecond,
				Context:         u.Context,
				StateVersion:    max(p.stateVersion, current.StateVersion) + 1,
				ChangedBy:       u.ChangedBy,
				UpdatedAt:       p.now().UTC(),
			}
			if next.Status == "" {
				next.Status = model.DeviceIdle
			}
			return model.Encode(rec, next)
		})
	if err != nil {
		return nil, err
	}
	p.stateVersion = next.StateVersion
	return &next, nil
}

func isSubscriptionExists(err error) bool {
	return errors.Is(err, recordstore.ErrSubscriptionExists)
}
