// Package model defines shared data types used across obslink.
//
// Conventions:
//   - Connection names are unique, caller-chosen identifiers
//   - States follow the session state machine (Disconnected -> ... -> Authenticated)
//   - Timestamps are time.Time in memory; the history writer stores µs since epoch
package model
