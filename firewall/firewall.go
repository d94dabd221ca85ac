// Package firewall wires concrete executor implementations to the generic
// firewall types.
package firewall

import (
	"fmt"
	"log/slog"

	"go.hackfix.me/fwguard/firewall/iptables"
	"go.hackfix.me/fwguard/firewall/mock"
	"go.hackfix.me/fwguard/firewall/types"
)

// Setup creates a firewall executor of the given type managing the given
// chain.
//
//nolint:ireturn // Intentional, this is a generic function.
func Setup(et types.ExecutorType, chain string, logger *slog.Logger) (types.Executor, error) {
	switch et {
	case types.ExecutorMock:
		return mock.New(), nil
	case types.ExecutorIPTables:
		exec, err := iptables.New(chain, iptables.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed creating iptables executor: %w", err)
		}
		return exec, nil
	}
	return nil, fmt.Errorf("unsupported firewall executor type '%s'", et)
}
