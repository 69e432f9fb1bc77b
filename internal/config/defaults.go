package config

import (
	"time"

	"github.com/reStrike-d-o-o/obslink/internal/model"
)

// Default values for optional configuration fields.
const (
	DefaultReconnectDelay       = 5 * time.Second
	DefaultReconnectMaxAttempts = 5
	DefaultPollInterval         = 30 * time.Second
	DefaultPollRequestTimeout   = 10 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultHistoryBatchSize     = 100
	DefaultHistoryFlushInterval = 1 * time.Second
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *Config) applyDefaults() {
	// Reconnect defaults
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectMaxAttempts
	}

	// Connection defaults
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.Protocol == "" {
			conn.Protocol = string(model.ProtocolV5)
		}
		if conn.Port == 0 {
			conn.Port = model.Protocol(conn.Protocol).DefaultPort()
		}
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.RequestTimeout == 0 {
		c.Poller.RequestTimeout = DefaultPollRequestTimeout
	}

	// History defaults
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultHistoryBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultHistoryFlushInterval
	}
	applyDBDefaults(&c.History.DB)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
