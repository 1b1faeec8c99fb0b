// Package relay answers conversation envelopes on behalf of a responder host.
//
// A requester writes an Envelope record with needsResponse set. The relay
// finds such envelopes on push notifications, its startup pass and a
// fallback timer, and walks each one through
// pending -> acknowledged -> processing -> completed (or failed),
// saving every step with an optimistic-concurrency update so writes from the
// requester are never lost.
//
// Concurrency:
//   - At most one poll runs at a time per relay
//   - A conversation is processed by at most one task at a time
//   - Tasks share a bounded permit pool (1..8)
//
// Messages the requester appends while a reply is being generated are merged
// into the final envelope after the reply; the envelope is re-armed when the
// requester asked for another response.
package relay
