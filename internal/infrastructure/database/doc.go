// Package database provides the SQLite connection behind the peerlink
// record store.
//
// This package manages:
//   - Database connection with WAL mode so several peers can share one file
//   - Embedded schema migrations
//   - Busy/locked retry helpers for contended writers
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or have
// DEFAULT values, and every .up.sql has a matching .down.sql.
package database
