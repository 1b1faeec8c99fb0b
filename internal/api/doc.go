// Package api implements the host HTTP API for peerlink.
//
// This package provides:
//   - Conversation endpoints backed by the relay (post, fetch, append)
//   - Catalog publishing for this host and catalog reads for remote hosts
//   - The command queue: create, wait, claim and complete
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support and an optional Prometheus /metrics endpoint
//
// # Architecture
//
// Every handler is a thin translation between JSON and the relay and catalog
// packages; all state lives in the shared record store. The same router is
// handed to the command worker, so a command queued by a remote peer is
// executed against this API exactly as a local request would be.
//
// # Errors
//
// Failures are returned as {"error": {"code": "...", "message": "..."}} with
// a status derived from the underlying sentinel error.
package api
