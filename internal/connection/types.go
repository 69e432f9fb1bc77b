package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/reStrike-d-o-o/obslink/internal/model"
	"github.com/reStrike-d-o-o/obslink/internal/protocol"
)

// Config errors, rejected synchronously and never retried.
var (
	ErrDuplicateName          = errors.New("connection name already exists")
	ErrNotFound               = errors.New("connection not found")
	ErrInvalidPort            = errors.New("port must be between 1 and 65535")
	ErrUnknownProtocolVersion = errors.New("unknown protocol version")
	ErrNameRequired           = errors.New("connection name is required")
)

// Transport errors.
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrNotReady      = errors.New("session not ready")
)

// Error details surfaced through state change events.
const (
	detailConnectionTimeout = "Connection timeout"
	detailUnknownProtocol   = "Unknown protocol version"
)

// Config describes one managed OBS connection.
type Config struct {
	Name     string // Unique, immutable once created
	Host     string
	Port     int
	Password string // Optional; never logged in full
	Protocol model.Protocol
	Enabled  bool // Auto-connect when registered

	// Reconnect policy for this connection. Zero values inherit the
	// manager defaults.
	AutoReconnect  *bool
	ReconnectDelay time.Duration
	MaxAttempts    int
}

// URL returns the WebSocket endpoint for this connection.
func (c Config) URL() string {
	return fmt.Sprintf("ws://%s:%d", c.Host, c.Port)
}

// Validate checks fields that are rejected synchronously on add/update.
func (c Config) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Port)
	}
	if !c.Protocol.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownProtocolVersion, c.Protocol)
	}
	return nil
}

// Info converts the config to its externally visible form. The password is
// reduced to a presence flag.
func (c Config) Info(state model.ConnectionState, errDetail string) model.Info {
	auto := false
	if c.AutoReconnect != nil {
		auto = *c.AutoReconnect
	}
	return model.Info{
		Name:          c.Name,
		Host:          c.Host,
		Port:          c.Port,
		Protocol:      c.Protocol,
		HasPassword:   c.Password != "",
		Enabled:       c.Enabled,
		AutoReconnect: auto,
		State:         state,
		ErrorDetail:   errDetail,
	}
}

// Patch is a partial update to a connection config. The name is immutable;
// nil fields are left unchanged. Changes to an active session take effect on
// the next reconnect.
type Patch struct {
	Host           *string
	Port           *int
	Password       *string
	Protocol       *model.Protocol
	Enabled        *bool
	AutoReconnect  *bool
	ReconnectDelay *time.Duration
	MaxAttempts    *int
}

// apply returns a copy of cfg with the patch applied.
func (p Patch) apply(cfg Config) Config {
	if p.Host != nil {
		cfg.Host = *p.Host
	}
	if p.Port != nil {
		cfg.Port = *p.Port
	}
	if p.Password != nil {
		cfg.Password = *p.Password
	}
	if p.Protocol != nil {
		cfg.Protocol = *p.Protocol
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.AutoReconnect != nil {
		auto := *p.AutoReconnect
		cfg.AutoReconnect = &auto
	}
	if p.ReconnectDelay != nil {
		cfg.ReconnectDelay = *p.ReconnectDelay
	}
	if p.MaxAttempts != nil {
		cfg.MaxAttempts = *p.MaxAttempts
	}
	return cfg
}

// ReconnectPolicy is the effective reconnection behavior for one connection.
type ReconnectPolicy struct {
	AutoReconnect      bool
	Delay              time.Duration
	MaxAttempts        int
	RetryOnAuthFailure bool
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	HandshakeTimeout time.Duration // Window for the full handshake (default 10s)
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping interval
	BufferSize       int           // Per-client inbound message buffer
	EventBufferSize  int           // Outbound state change event buffer

	// Default reconnect policy; per-connection config overrides.
	Reconnect ReconnectPolicy
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		BufferSize:       256,
		EventBufferSize:  1024,
		Reconnect: ReconnectPolicy{
			AutoReconnect:      true,
			Delay:              5 * time.Second,
			MaxAttempts:        5,
			RetryOnAuthFailure: true,
		},
	}
}

// Reply is the response to a session request: exactly one of V5 or V4 is
// set, matching the session's protocol version.
type Reply struct {
	V5 *protocol.RequestResponse
	V4 *protocol.V4Response
}
