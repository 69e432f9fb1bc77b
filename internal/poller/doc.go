// Package poller implements the status poller.
//
// The poller:
//   - Queries every ready session on a fixed interval (default 30s)
//   - Sends record/stream/stats requests tagged with fresh request ids
//   - Merges per-connection results into one aggregate StatusSnapshot
//   - Hands the snapshot to a handler; unanswered requests are superseded
//     by the next tick, never blocking it
package poller
