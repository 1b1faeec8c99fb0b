// Package recordstore is the adapter to the shared, eventually-consistent
// record store that peers synchronise through.
//
// # Architecture
//
// Records are schemaless JSON documents addressed by (type, id). Every save
// assigns a new change tag; IfUnchanged saves are rejected with a
// *ConflictError when the stored tag moved since the caller fetched. Types
// are provisioned by their first save, and querying a type that was never
// provisioned fails with a *SchemaUnknownError, which callers treat as "no
// results" via IsSchemaUnknown.
//
// Two implementations are provided:
//   - SQLiteStore: a SQLite database that several peers can share
//   - MemoryStore: an in-process store with conflict and error injection for tests
//
// # Mutation
//
// Update and UpdateBatch are the only way records are written by peerlink
// components. They fetch the current state (or use a fallback record for
// create-on-first-write), apply a mutation, and save with IfUnchanged,
// retrying the whole cycle on conflict up to MaxUpdateAttempts times.
//
// # Usage
//
//	store, err := recordstore.NewSQLiteStore(db, recordstore.WithNotifier(notifier))
//	rec, err := recordstore.Update(ctx, store, "Envelope", id,
//	    func() *recordstore.Record { return recordstore.NewRecord("Envelope", id) },
//	    func(r *recordstore.Record) error {
//	        r.Fields["status"] = "pending"
//	        return nil
//	    })
package recordstore
