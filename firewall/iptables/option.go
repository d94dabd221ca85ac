package iptables

import (
	"fmt"
	"log/slog"
	"time"
)

// Option is a function that allows configuring the IPTables executor.
type Option func(*IPTables) error

// WithLogger sets the logger used by the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(ipt *IPTables) error {
		ipt.logger = logger.With("component", "iptables")
		return nil
	}
}

// WithTimeout sets the per-command execution timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(ipt *IPTables) error {
		if timeout <= 0 {
			return fmt.Errorf("command timeout must be positive")
		}
		ipt.timeout = timeout
		return nil
	}
}

// DefaultOptions returns the default executor options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.Default()),
		WithTimeout(30 * time.Second),
	}
}
