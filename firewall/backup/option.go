package backup

import (
	"fmt"
	"log/slog"
	"time"
)

// Option is a function that allows configuring the Manager.
type Option func(*Manager) error

// WithLogger sets the logger used by the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger.With("component", "backup")
		return nil
	}
}

// WithRetry sets the number of restore attempts and the fixed backoff
// between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(m *Manager) error {
		if attempts < 1 {
			return fmt.Errorf("restore attempts must be positive")
		}
		m.attempts = attempts
		m.backoff = backoff
		return nil
	}
}

// WithSleep sets the function used to wait between restore attempts.
// Used in tests to avoid real delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Manager) error {
		m.sleep = sleep
		return nil
	}
}

// DefaultOptions returns the default Manager options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.Default()),
		WithRetry(3, time.Second),
		WithSleep(time.Sleep),
	}
}
