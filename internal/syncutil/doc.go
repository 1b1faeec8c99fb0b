// Package syncutil holds the concurrency primitives shared by the relay and
// the command worker.
//
//   - PermitPool bounds concurrent background work
//   - InFlight prevents two triggers from processing the same key at once
//   - Gate serialises poll scans so only one runs at a time
package syncutil
