// Package connection implements the OBS connection manager.
//
// The manager:
//   - Holds named connection configurations in a registry (unique names)
//   - Spawns one session per enabled connection
//   - Drives the v4/v5 handshake to a ready or error state
//   - Reconnects failed sessions per policy (single-flight per name)
//   - Emits state changes as events for UI/store layers
//
// Each session owns exactly one socket and mutates its own state from a
// single event loop; the reconnection supervisor holds the only cross-session
// lock.
package connection
