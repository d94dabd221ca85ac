package guard

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"go.hackfix.me/fwguard/firewall/types"
)

// Option is a function that allows configuring the Guard.
type Option func(*Guard) error

// WithChain sets the name of the managed chain.
func WithChain(chain string) Option {
	return func(g *Guard) error {
		if chain == "" {
			return fmt.Errorf("a chain name is required")
		}
		g.chain = chain
		return nil
	}
}

// WithExpectedPolicy sets the default policy both chains must have for the
// run to proceed.
func WithExpectedPolicy(policy types.Action) Option {
	return func(g *Guard) error {
		if policy != types.ActionAccept && policy != types.ActionDrop {
			return fmt.Errorf("expected policy must be %s or %s", types.ActionAccept, types.ActionDrop)
		}
		g.expectedPolicy = policy
		return nil
	}
}

// WithTimeout sets the confirmation window after which the change is
// rolled back.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Guard) error {
		if timeout <= 0 {
			return fmt.Errorf("confirmation timeout must be positive")
		}
		g.timeout = timeout
		return nil
	}
}

// WithTick sets the poll interval of the confirmation wait loop.
func WithTick(tick time.Duration) Option {
	return func(g *Guard) error {
		if tick <= 0 {
			return fmt.Errorf("tick interval must be positive")
		}
		g.tick = tick
		return nil
	}
}

// WithRetry sets the number of attempts and the fixed backoff for retried
// rollback operations.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(g *Guard) error {
		if attempts < 1 {
			return fmt.Errorf("retry attempts must be positive")
		}
		g.retryAttempts = attempts
		g.retryBackoff = backoff
		return nil
	}
}

// WithSignals sets the process signals treated as confirmation.
func WithSignals(signals ...os.Signal) Option {
	return func(g *Guard) error {
		g.signals = signals
		return nil
	}
}

// WithConfirmChannel replaces the signal handler with an explicit channel.
// Used in tests to trigger confirmation without delivering real signals.
func WithConfirmChannel(ch <-chan struct{}) Option {
	return func(g *Guard) error {
		g.confirmCh = ch
		return nil
	}
}

// WithLogger sets the logger used by the Guard.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) error {
		g.logger = logger.With("component", "guard")
		return nil
	}
}

// WithOutput sets the writer for operator-facing progress output, such as
// the remaining-time indicator.
func WithOutput(w io.Writer) Option {
	return func(g *Guard) error {
		g.out = w
		return nil
	}
}

// WithTimeNow sets the function used to retrieve the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(g *Guard) error {
		g.timeNow = timeNow
		return nil
	}
}

// WithSleep sets the function used to wait between retry attempts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(g *Guard) error {
		g.sleep = sleep
		return nil
	}
}

// DefaultOptions returns the default Guard options.
func DefaultOptions() []Option {
	return []Option{
		WithChain("INPUT"),
		WithExpectedPolicy(types.ActionAccept),
		WithTimeout(5 * time.Minute),
		WithTick(time.Second),
		WithRetry(3, time.Second),
		WithSignals(os.Interrupt, syscall.SIGTERM),
		WithLogger(slog.Default()),
		WithOutput(io.Discard),
		WithTimeNow(time.Now),
		WithSleep(time.Sleep),
	}
}
