package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
)

// MaxUpdateAttempts bounds the fetch-mutate-save cycle.
const MaxUpdateAttempts = 3

// Batch stages records for one UpdateBatch attempt.
type Batch struct {
	ctx    context.Context
	store  Store
	staged []*Record
	index  map[Key]int
}

// Fetch returns a mutable copy of the stored record. When the record does
// not exist and fallback is non-nil, the fallback is returned instead; a
// fallback must carry a zero ChangeTag.
func (b *Batch) Fetch(recordType, id string, fallback func() *Record) (*Record, error) {
	rec, err := b.store.Fetch(b.ctx, recordType, id)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, ErrNotFound) && fallback != nil {
		fb := fallback()
		if fb == nil {
			return nil, err
		}
		if fb.Fields == nil {
			fb.Fields = Fields{}
		}
		fb.ChangeTag = 0
		return fb, nil
	}
	return nil, err
}

// Stage queues rec for saving. Staging the same identity twice replaces the
// earlier entry.
func (b *Batch) Stage(rec *Record) {
	if i, ok := b.index[rec.Key()]; ok {
		b.staged[i] = rec
		return
	}
	b.index[rec.Key()] = len(b.staged)
	b.staged = append(b.staged, rec)
}

// Staged returns the number of staged records.
func (b *Batch) Staged() int {
	return len(b.staged)
}

// UpdateBatch runs build to fetch and stage records, then saves them in one
// IfUnchanged batch. A conflict reruns build against fresh state, up to
// MaxUpdateAttempts attempts. build returning ErrNoChange, or staging
// nothing, ends the update without a save and returns ErrNoChange.
func UpdateBatch(ctx context.Context, store Store, build func(ctx context.Context, b *Batch) error) ([]*Record, error) {
	if store == nil {
		return nil, ErrNotConfigured
	}

	var lastErr error
	lastType := ""
	for attempt := 1; attempt <= MaxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := &Batch{ctx: ctx, store: store, index: make(map[Key]int)}
		if err := build(ctx, b); err != nil {
			return nil, err
		}
		if len(b.staged) == 0 {
			return nil, ErrNoChange
		}

		saved, err := store.Save(ctx, b.staged, IfUnchanged)
		if err == nil {
			return saved, nil
		}

		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		metrics.RecordConflict(conflict.Type)
		lastErr = err
		lastType = conflict.Type
	}

	metrics.RecordConflictExceeded(lastType)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConflictExceeded, MaxUpdateAttempts, lastErr)
}

// Update is UpdateBatch for a single record. mutate edits the fetched (or
// fallback) record in place. When mutate returns ErrNoChange the current
// record is returned together with ErrNoChange.
func Update(ctx context.Context, store Store, recordType, id string, fallback func() *Record, mutate func(rec *Record) error) (*Record, error) {
	var current *Record
	saved, err := UpdateBatch(ctx, store, func(_ context.Context, b *Batch) error {
		rec, err := b.Fetch(recordType, id, fallback)
		if err != nil {
			return err
		}
		current = rec.Clone()
		if err := mutate(rec); err != nil {
			return err
		}
		b.Stage(rec)
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return current, err
	}
	if err != nil {
		return nil, err
	}
	return saved[0], nil
}
