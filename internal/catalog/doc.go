// Package catalog publishes this host's models, endpoints and live state to
// the shared record store, reads other hosts' catalogs, and moves commands
// through the queued -> running -> succeeded|failed lifecycle.
//
// Publisher owns a cache of the models and endpoints this host has
// published. All its operations run one at a time on a dedicated goroutine,
// so the cache needs no lock. Records themselves are only ever written
// through recordstore.Update, which resolves cross-host races.
//
// Models and endpoints are never deleted: when a publish omits one that was
// published before, its record is kept with exposed=false and the new
// catalog version.
//
// Client is the reader side: FetchCatalog, CreateCommand and WaitForCommand.
// Worker runs queued commands for this host through an Executor.
package catalog
