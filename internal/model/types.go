package model

import "time"

// -----------------------------------------------------------------------------
// Protocol Versions
// -----------------------------------------------------------------------------

// Protocol identifies the OBS WebSocket protocol generation spoken by a peer.
type Protocol string

const (
	// ProtocolV4 is the legacy obs-websocket 4.x protocol (flat JSON, port 4444).
	ProtocolV4 Protocol = "v4"

	// ProtocolV5 is the obs-websocket 5.x protocol (opcode envelopes, port 4455).
	ProtocolV5 Protocol = "v5"
)

// Valid reports whether p is a known protocol version.
func (p Protocol) Valid() bool {
	return p == ProtocolV4 || p == ProtocolV5
}

// DefaultPort returns the conventional listen port for the protocol version.
func (p Protocol) DefaultPort() int {
	if p == ProtocolV4 {
		return 4444
	}
	return 4455
}

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState is the lifecycle state of a managed connection.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateAuthenticating ConnectionState = "authenticating"
	StateConnected      ConnectionState = "connected"
	StateAuthenticated  ConnectionState = "authenticated"
	StateError          ConnectionState = "error"
)

// Ready reports whether the state is eligible for status polling.
// Only Connected and Authenticated sessions accept requests.
func (s ConnectionState) Ready() bool {
	return s == StateConnected || s == StateAuthenticated
}

// Terminal reports whether the state requires no disconnect before removal.
func (s ConnectionState) Terminal() bool {
	return s == StateDisconnected || s == StateError
}

// StateChange is emitted whenever a connection transitions state.
// ErrorDetail is a human-readable message, set only for StateError.
type StateChange struct {
	Name        string
	State       ConnectionState
	ErrorDetail string
	At          time.Time
}

// -----------------------------------------------------------------------------
// Connection Info
// -----------------------------------------------------------------------------

// Info is the externally visible view of a connection: its configuration
// (password redacted to a presence flag) plus current state.
type Info struct {
	Name          string
	Host          string
	Port          int
	Protocol      Protocol
	HasPassword   bool
	Enabled       bool
	AutoReconnect bool
	State         ConnectionState
	ErrorDetail   string
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// ConnectionStatus is the last polled status of a single ready connection.
type ConnectionStatus struct {
	Name               string
	Recording          bool
	Streaming          bool
	ReplayBufferActive bool
	CPUUsage           float64 // Percent, as reported by the peer
	PolledAt           time.Time
}

// StatusSnapshot is the aggregate status across all ready connections.
// It is a projection rebuilt from the most recent poll cycle, not a source
// of truth.
type StatusSnapshot struct {
	TakenAt        time.Time
	IsRecording    bool
	IsStreaming    bool
	CPUUsage       float64 // Highest CPU usage across connections
	ActiveRecorder string  // Name of the connection currently recording, "" if none
	Connections    []ConnectionStatus
}

// Merge folds a per-connection status into the snapshot. The first recording
// connection becomes the active recorder.
func (s *StatusSnapshot) Merge(cs ConnectionStatus) {
	s.Connections = append(s.Connections, cs)
	if cs.Recording {
		s.IsRecording = true
		if s.ActiveRecorder == "" {
			s.ActiveRecorder = cs.Name
		}
	}
	if cs.Streaming {
		s.IsStreaming = true
	}
	if cs.CPUUsage > s.CPUUsage {
		s.CPUUsage = cs.CPUUsage
	}
}
