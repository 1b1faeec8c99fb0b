package recordstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It mirrors SQLiteStore semantics and
// adds fault injection for exercising retry and failure paths.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*memoryRecord
	types   map[string]struct{}
	subs    map[string]Subscription
	seq     int64
	opts    options

	conflicts  int
	nextErr    error
	saveCalls  int
	queryCalls int
	beforeSave func(records []*Record)
}

type memoryRecord struct {
	rec *Record
	seq int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		records: make(map[Key]*memoryRecord),
		types:   make(map[string]struct{}),
		subs:    make(map[string]Subscription),
		opts:    o,
	}
}

// InjectConflicts makes the next n IfUnchanged saves fail as if another
// writer had saved the first record of the batch in between. The stored tag
// of that record is bumped so the caller's tag is really stale.
func (s *MemoryStore) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// InjectError makes the next Fetch, Save, Query or Subscribe call fail with err.
func (s *MemoryStore) InjectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

// BeforeSave registers a hook run inside Save before the change-tag check.
// The hook may call other store methods; those run without the store lock.
func (s *MemoryStore) BeforeSave(fn func(records []*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSave = fn
}

// SaveCalls returns the number of Save calls so far.
func (s *MemoryStore) SaveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

// QueryCalls returns the number of Query calls so far.
func (s *MemoryStore) QueryCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCalls
}

func (s *MemoryStore) takeErr() error {
	err := s.nextErr
	s.nextErr = nil
	return err
}

// Fetch returns a copy of the record or ErrNotFound.
func (s *MemoryStore) Fetch(_ context.Context, recordType, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	mr, ok := s.records[Key{Type: recordType, ID: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, recordType, id)
	}
	return mr.rec.Clone(), nil
}

// Save writes the batch atomically.
func (s *MemoryStore) Save(ctx context.Context, records []*Record, policy SavePolicy) ([]*Record, error) {
	if err := checkBatch(records); err != nil {
		return nil, err
	}

	s.mu.Lock()
	hook := s.beforeSave
	s.mu.Unlock()
	if hook != nil {
		hook(records)
	}

	s.mu.Lock()
	s.saveCalls++
	if err := s.takeErr(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(records) == 0 {
		s.mu.Unlock()
		return nil, nil
	}

	if policy == IfUnchanged && s.conflicts > 0 {
		s.conflicts--
		first := records[0]
		current := int64(0)
		if mr, ok := s.records[first.Key()]; ok {
			mr.rec.ChangeTag++
			current = mr.rec.ChangeTag
		} else {
			current = first.ChangeTag + 1
		}
		s.mu.Unlock()
		return nil, &ConflictError{Type: first.Type, ID: first.ID, Expected: first.ChangeTag, Current: current}
	}

	if policy == IfUnchanged {
		for _, rec := range records {
			var current int64
			if mr, ok := s.records[rec.Key()]; ok {
				current = mr.rec.ChangeTag
			}
			if current != rec.ChangeTag {
				s.mu.Unlock()
				return nil, &ConflictError{Type: rec.Type, ID: rec.ID, Expected: rec.ChangeTag, Current: current}
			}
		}
	}

	now := s.opts.now()
	saved := make([]*Record, 0, len(records))
	for _, rec := range records {
		out := rec.Clone()
		out.ModifiedAt = now
		if mr, ok := s.records[rec.Key()]; ok {
			out.ChangeTag = mr.rec.ChangeTag + 1
			out.CreatedAt = mr.rec.CreatedAt
			mr.rec = out.Clone()
		} else {
			s.seq++
			out.ChangeTag = 1
			out.CreatedAt = now
			s.records[rec.Key()] = &memoryRecord{rec: out.Clone(), seq: s.seq}
		}
		s.types[rec.Type] = struct{}{}
		saved = append(saved, out)
	}

	subs := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	s.mu.Unlock()

	s.opts.signal(ctx, subs, saved)
	return saved, nil
}

// Query returns matching records oldest first.
func (s *MemoryStore) Query(_ context.Context, recordType string, q Query) ([]*Record, error) {
	if err := validateConditions(q.Where); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	if _, ok := s.types[recordType]; !ok {
		return nil, &SchemaUnknownError{Type: recordType}
	}

	var matched []*memoryRecord
	for key, mr := range s.records {
		if key.Type == recordType && Matches(mr.rec, q.Where) {
			matched = append(matched, mr)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.Before(b.rec.CreatedAt)
		}
		return a.seq < b.seq
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]*Record, 0, len(matched))
	for _, mr := range matched {
		out = append(out, mr.rec.Clone())
	}
	return out, nil
}

// Subscribe registers a subscription.
func (s *MemoryStore) Subscribe(_ context.Context, sub Subscription) error {
	if sub.ID == "" || sub.Type == "" {
		return ErrInvalidRecord
	}
	if err := validateConditions(sub.Where); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return err
	}
	if _, ok := s.subs[sub.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionExists, sub.ID)
	}
	s.subs[sub.ID] = sub
	return nil
}
