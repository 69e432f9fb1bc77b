// Package history implements the optional status history writer.
//
// The writer:
//   - Records connection state transitions and poll snapshots
//   - Batches rows and flushes on size or interval
//   - Uses append-only inserts with ON CONFLICT DO NOTHING
//
// Connection configuration itself is never persisted, only observed state.
package history
