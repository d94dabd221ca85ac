package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Option is a function that allows configuring the Prober.
type Option func(*Prober) error

// WithTimeout sets the per-probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) error {
		if timeout <= 0 {
			return fmt.Errorf("probe timeout must be positive")
		}
		p.timeout = timeout
		return nil
	}
}

// WithConcurrency sets the maximum number of probes in flight.
func WithConcurrency(n int) Option {
	return func(p *Prober) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be positive")
		}
		p.concurrency = n
		return nil
	}
}

// WithDialer sets the function used to establish connections. Used in tests
// to simulate network conditions.
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(p *Prober) error {
		p.dial = dial
		return nil
	}
}

// DefaultOptions returns the default Prober options.
func DefaultOptions() []Option {
	d := &net.Dialer{}
	return []Option{
		WithTimeout(5 * time.Second),
		WithConcurrency(16),
		WithDialer(d.DialContext),
	}
}
