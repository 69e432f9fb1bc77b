package config

import (
	"errors"
	"fmt"

	"github.com/reStrike-d-o-o/obslink/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	seen := make(map[string]struct{}, len(c.Connections))
	for i, conn := range c.Connections {
		prefix := fmt.Sprintf("connections[%d]", i)

		if conn.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if _, dup := seen[conn.Name]; dup {
			return fmt.Errorf("%s.name %q is not unique", prefix, conn.Name)
		}
		seen[conn.Name] = struct{}{}

		if conn.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if conn.Port < 1 || conn.Port > 65535 {
			return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, conn.Port)
		}
		if !model.Protocol(conn.Protocol).Valid() {
			return fmt.Errorf("%s.protocol must be %q or %q, got %q",
				prefix, model.ProtocolV4, model.ProtocolV5, conn.Protocol)
		}
		if conn.MaxAttempts < 0 {
			return fmt.Errorf("%s.max_attempts must be >= 0", prefix)
		}
	}

	if c.Reconnect.Delay <= 0 {
		return errors.New("reconnect.delay must be > 0")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if c.Poller.RequestTimeout <= 0 {
		return errors.New("poller.request_timeout must be > 0")
	}
	if c.Poller.RequestTimeout > c.Poller.Interval {
		return errors.New("poller.request_timeout must not exceed poller.interval")
	}

	if c.History.Enabled {
		if err := c.History.DB.validate("history.db"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
