package recordstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/database"
	_ "github.com/nerrad567/peerlink-core/migrations"
)

// recordingNotifier collects change signals.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) Notify(_ context.Context, c Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return nil
}

func (n *recordingNotifier) all() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes...)
}

func openSQLiteStore(t *testing.T, opts ...Option) Store {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store, err := NewSQLiteStore(db, opts...)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	return store
}

// storeFactories runs contract tests against every implementation.
var storeFactories = map[string]func(t *testing.T, opts ...Option) Store{
	"sqlite": openSQLiteStore,
	"memory": func(_ *testing.T, opts ...Option) Store { return NewMemoryStore(opts...) },
}

func envelope(id string, fields Fields) *Record {
	rec := NewRecord("Envelope", id)
	for k, v := range fields {
		rec.Fields[k] = v
	}
	return rec
}

// ============================================================================
// Fetch / Save
// ============================================================================

func TestStore_FetchNotFound(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			_, err := store.Fetch(context.Background(), "Envelope", "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Fetch() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_SaveAndFetch(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			saved, err := store.Save(ctx, []*Record{envelope("c1", Fields{"status": "pending", "count": 2})}, IfUnchanged)
			if err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if saved[0].ChangeTag != 1 {
				t.Errorf("ChangeTag = %d, want 1", saved[0].ChangeTag)
			}

			got, err := store.Fetch(ctx, "Envelope", "c1")
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got.Fields["status"] != "pending" {
				t.Errorf("status = %v, want pending", got.Fields["status"])
			}
			if got.Fields["count"] != float64(2) {
				t.Errorf("count = %v (%T), want 2", got.Fields["count"], got.Fields["count"])
			}
			if got.CreatedAt.IsZero() || got.ModifiedAt.IsZero() {
				t.Error("timestamps should be set")
			}

			got.Fields["status"] = "completed"
			again, err := store.Save(ctx, []*Record{got}, IfUnchanged)
			if err != nil {
				t.Fatalf("second Save() error = %v", err)
			}
			if again[0].ChangeTag != 2 {
				t.Errorf("ChangeTag = %d, want 2", again[0].ChangeTag)
			}
			if !again[0].CreatedAt.Equal(got.CreatedAt) {
				t.Error("CreatedAt should survive updates")
			}
		})
	}
}

func TestStore_SaveConflicts(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if _, err := store.Save(ctx, []*Record{envelope("c1", nil)}, IfUnchanged); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			// A second create of the same identity is stale.
			_, err := store.Save(ctx, []*Record{envelope("c1", nil)}, IfUnchanged)
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Save() error = %v, want *ConflictError", err)
			}
			if conflict.Expected != 0 || conflict.Current != 1 {
				t.Errorf("conflict = %+v, want expected 0 current 1", conflict)
			}
			if !errors.Is(err, ErrConflict) {
				t.Error("errors.Is(err, ErrConflict) = false")
			}

			// Overwrite ignores change tags.
			saved, err := store.Save(ctx, []*Record{envelope("c1", Fields{"x": true})}, Overwrite)
			if err != nil {
				t.Fatalf("Overwrite Save() error = %v", err)
			}
			if saved[0].ChangeTag != 2 {
				t.Errorf("ChangeTag = %d, want 2", saved[0].ChangeTag)
			}
		})
	}
}

func TestStore_SaveBatchIsAtomic(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if _, err := store.Save(ctx, []*Record{envelope("existing", nil)}, IfUnchanged); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			batch := []*Record{envelope("fresh", nil), envelope("existing", nil)}
			if _, err := store.Save(ctx, batch, IfUnchanged); !errors.Is(err, ErrConflict) {
				t.Fatalf("Save() error = %v, want ErrConflict", err)
			}
			if _, err := store.Fetch(ctx, "Envelope", "fresh"); !errors.Is(err, ErrNotFound) {
				t.Errorf("fresh record should not exist after rejected batch, err = %v", err)
			}
		})
	}
}

func TestStore_SaveRejectsInvalidBatch(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			tests := map[string][]*Record{
				"duplicate identity": {envelope("a", nil), envelope("a", nil)},
				"missing id":         {NewRecord("Envelope", "")},
				"bad type":           {NewRecord("bad type", "a")},
			}
			for label, batch := range tests {
				if _, err := store.Save(ctx, batch, IfUnchanged); !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("%s: Save() error = %v, want ErrInvalidRecord", label, err)
				}
			}
		})
	}
}

// ============================================================================
// Query
// ============================================================================

func TestStore_QueryUnprovisionedType(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			_, err := store.Query(ctx, "Model", Query{})
			var schemaErr *SchemaUnknownError
			if !errors.As(err, &schemaErr) || schemaErr.Type != "Model" {
				t.Fatalf("Query() error = %v, want *SchemaUnknownError for Model", err)
			}

			recs, err := QueryOrEmpty(ctx, store, "Model", Query{})
			if err != nil {
				t.Fatalf("QueryOrEmpty() error = %v", err)
			}
			if len(recs) != 0 {
				t.Errorf("QueryOrEmpty() = %d records, want 0", len(recs))
			}
		})
	}
}

func TestStore_QueryConditions(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			for _, rec := range []*Record{
				envelope("c1", Fields{"needsResponse": true, "status": "pending"}),
				envelope("c2", Fields{"needsResponse": false, "status": "completed"}),
				envelope("c3", Fields{"needsResponse": true, "status": "failed"}),
				envelope("c4", Fields{"needsResponse": true, "status": "pending"}),
			} {
				if _, err := store.Save(ctx, []*Record{rec}, IfUnchanged); err != nil {
					t.Fatalf("Save(%s) error = %v", rec.ID, err)
				}
			}

			recs, err := store.Query(ctx, "Envelope", Query{Where: []Condition{Eq("needsResponse", true)}})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if ids := recordIDs(recs); !equalStrings(ids, []string{"c1", "c3", "c4"}) {
				t.Errorf("Query(needsResponse) = %v, want [c1 c3 c4]", ids)
			}

			recs, err = store.Query(ctx, "Envelope", Query{
				Where: []Condition{Eq("needsResponse", true), Eq("status", "pending")},
				Limit: 1,
			})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if ids := recordIDs(recs); !equalStrings(ids, []string{"c1"}) {
				t.Errorf("Query(pending, limit 1) = %v, want [c1]", ids)
			}

			if _, err := store.Query(ctx, "Envelope", Query{Where: []Condition{Eq("bad field'", 1)}}); !errors.Is(err, ErrInvalidField) {
				t.Errorf("Query(bad field) error = %v, want ErrInvalidField", err)
			}
		})
	}
}

// ============================================================================
// Subscriptions
// ============================================================================

func TestStore_SubscribeAndNotify(t *testing.T) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			store := open(t, WithNotifier(notifier))
			ctx := context.Background()

			sub := Subscription{ID: "relay-MAC-1", Type: "Envelope", Where: []Condition{Eq("needsResponse", true)}}
			if err := store.Subscribe(ctx, sub); err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			if err := store.Subscribe(ctx, sub); !errors.Is(err, ErrSubscriptionExists) {
				t.Errorf("duplicate Subscribe() error = %v, want ErrSubscriptionExists", err)
			}

			if _, err := store.Save(ctx, []*Record{envelope("quiet", Fields{"needsResponse": false})}, IfUnchanged); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if _, err := store.Save(ctx, []*Record{envelope("loud", Fields{"needsResponse": true})}, IfUnchanged); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			changes := notifier.all()
			if len(changes) != 1 {
				t.Fatalf("notifications = %d, want 1 (%+v)", len(changes), changes)
			}
			if changes[0].SubscriptionID != "relay-MAC-1" || changes[0].ID != "loud" {
				t.Errorf("change = %+v", changes[0])
			}
		})
	}
}

func TestNewSQLiteStore_NotConfigured(t *testing.T) {
	if _, err := NewSQLiteStore(nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NewSQLiteStore(nil) error = %v, want ErrNotConfigured", err)
	}
}

func recordIDs(recs []*Record) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
