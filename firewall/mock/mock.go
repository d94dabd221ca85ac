// Package mock provides an in-memory firewall executor for tests. It keeps
// per-family chain state, renders it back as chain-listing text so the
// inspect package parses mock state exactly like live output, and supports
// scripted failure injection per operation.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.hackfix.me/fwguard/firewall/inspect"
	"go.hackfix.me/fwguard/firewall/types"
)

// failure is a scripted error for one operation. A failure triggers after
// `after` successful calls, and fails `times` calls before clearing itself;
// times < 0 means it fails forever.
type failure struct {
	err   error
	after int
	times int
}

// Mock is an in-memory implementation of types.Executor.
type Mock struct {
	mu       sync.Mutex
	chain    string
	chains   map[types.Family]*types.Chain
	failures map[string]*failure

	// Persisted reports whether PersistRules was called successfully.
	Persisted bool
	// Calls records every executed operation in order, including refused
	// ones, as "op family" strings.
	Calls []string
}

var _ types.Executor = (*Mock)(nil)

// New returns a Mock managing the INPUT chain, with empty ACCEPT-policy
// chains for both address families.
func New() *Mock {
	m := &Mock{
		chain:    "INPUT",
		chains:   make(map[types.Family]*types.Chain),
		failures: make(map[string]*failure),
	}
	for _, fam := range types.Families() {
		m.chains[fam] = &types.Chain{Policy: types.ActionAccept}
	}
	return m
}

// SetPolicy overrides the chain policy for a family.
func (m *Mock) SetPolicy(fam types.Family, policy types.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[fam].Policy = policy
}

// AddRule appends an arbitrary rule to a family's chain, bypassing call
// recording and failure injection. Used to set up preexisting state.
func (m *Mock) AddRule(fam types.Family, proto types.Protocol, port uint16, action types.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.chains[fam]
	c.Rules = append(c.Rules, types.Rule{
		Ordinal:  len(c.Rules) + 1,
		Protocol: proto,
		Port:     port,
		Action:   action,
	})
}

// Chain returns a copy of the current chain state for a family.
func (m *Mock) Chain(fam types.Family) types.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.chains[fam]
	c.Rules = append([]types.Rule(nil), m.chains[fam].Rules...)
	return c
}

// FailOp makes every call of op fail with err. The op can optionally be
// scoped to one family as "op/family".
func (m *Mock) FailOp(op string, err error) {
	m.FailOpAfter(op, 0, err)
}

// FailOpAfter makes op fail with err forever, after `after` successful calls.
func (m *Mock) FailOpAfter(op string, after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &failure{err: err, after: after, times: -1}
}

// FailOpTimes makes the first `times` calls of op fail with err, after which
// the operation succeeds again.
func (m *Mock) FailOpTimes(op string, times int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &failure{err: err, times: times}
}

// fail records the call and returns the scripted error for it, if any.
// The caller must hold m.mu.
func (m *Mock) fail(op string, fam types.Family) error {
	m.Calls = append(m.Calls, strings.TrimSpace(fmt.Sprintf("%s %s", op, fam)))

	for _, key := range []string{fmt.Sprintf("%s/%s", op, fam), op} {
		f, ok := m.failures[key]
		if !ok {
			continue
		}
		if f.after > 0 {
			f.after--
			return nil
		}
		if f.times < 0 {
			return f.err
		}
		f.times--
		if f.times == 0 {
			delete(m.failures, key)
		}
		return f.err
	}

	return nil
}

// Ready implements types.Executor.
func (m *Mock) Ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("ready", "")
}

// DumpRules implements types.Executor. The payload is the rendered
// chain-listing text, which RestoreRules parses back.
func (m *Mock) DumpRules(_ context.Context, fam types.Family) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("dump", fam); err != nil {
		return "", err
	}
	return inspect.Render(m.chains[fam], m.chain), nil
}

// RestoreRules implements types.Executor.
func (m *Mock) RestoreRules(_ context.Context, fam types.Family, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("restore", fam); err != nil {
		return err
	}
	c, err := inspect.Parse(payload, m.chain)
	if err != nil {
		return fmt.Errorf("invalid restore payload: %w", err)
	}
	m.chains[fam] = c
	return nil
}

// AppendBlockRule implements types.Executor.
func (m *Mock) AppendBlockRule(_ context.Context, fam types.Family, proto types.Protocol, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("append", fam); err != nil {
		return err
	}
	c := m.chains[fam]
	c.Rules = append(c.Rules, types.Rule{
		Ordinal:  len(c.Rules) + 1,
		Protocol: proto,
		Port:     port,
		Action:   types.ActionDrop,
	})
	return nil
}

// DeleteBlockRule implements types.Executor.
func (m *Mock) DeleteBlockRule(_ context.Context, fam types.Family, proto types.Protocol, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete", fam); err != nil {
		return err
	}
	c := m.chains[fam]
	for i, r := range c.Rules {
		if r.Protocol == proto && r.Port == port && r.Action == types.ActionDrop {
			c.Rules = append(c.Rules[:i], c.Rules[i+1:]...)
			for j := range c.Rules {
				c.Rules[j].Ordinal = j + 1
			}
			return nil
		}
	}
	return fmt.Errorf("no matching rule for %s/%d in %s chain", proto, port, fam)
}

// FlushChain implements types.Executor.
func (m *Mock) FlushChain(_ context.Context, fam types.Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("flush", fam); err != nil {
		return err
	}
	m.chains[fam].Rules = nil
	return nil
}

// ListChain implements types.Executor.
func (m *Mock) ListChain(_ context.Context, fam types.Family) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list", fam); err != nil {
		return "", err
	}
	return inspect.Render(m.chains[fam], m.chain), nil
}

// PersistRules implements types.Executor.
func (m *Mock) PersistRules(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("persist", ""); err != nil {
		return err
	}
	m.Persisted = true
	return nil
}
