package config

import "time"

// Config is the root configuration for an obslink instance.
type Config struct {
	Instance    InstanceConfig     `yaml:"instance"`
	Connections []ConnectionConfig `yaml:"connections"`
	Reconnect   ReconnectConfig    `yaml:"reconnect"`
	Poller      PollerConfig       `yaml:"poller"`
	History     HistoryConfig      `yaml:"history"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// InstanceConfig identifies this obslink instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ConnectionConfig seeds one managed OBS connection at startup. Connections
// can also be added at runtime through the manager.
type ConnectionConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Protocol string `yaml:"protocol"` // "v4" or "v5"
	Enabled  bool   `yaml:"enabled"`

	// Per-connection overrides of the global reconnect policy. Nil/zero
	// means inherit.
	AutoReconnect  *bool         `yaml:"auto_reconnect"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// ReconnectConfig holds the global reconnection policy.
type ReconnectConfig struct {
	AutoReconnect      bool          `yaml:"auto_reconnect"`
	Delay              time.Duration `yaml:"delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RetryOnAuthFailure *bool         `yaml:"retry_on_auth_failure"`
}

// PollerConfig holds status poller settings.
type PollerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// HistoryConfig holds the optional status history store.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DB            DBConfig      `yaml:"db"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
