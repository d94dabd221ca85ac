package types

import (
	"context"
	"fmt"
)

// Family is an IP address family with its own independent chain and rule set.
type Family string

// All supported address families.
const (
	FamilyIPv4 Family = "ipv4"
	FamilyIPv6 Family = "ipv6"
)

// Families returns all address families in a fixed order.
func Families() []Family {
	return []Family{FamilyIPv4, FamilyIPv6}
}

// Protocol is a transport protocol a rule can match on.
type Protocol string

// All supported protocols.
const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ProtocolFromString returns a valid Protocol for the given string, or an
// error if the value is invalid.
func ProtocolFromString(val string) (Protocol, error) {
	switch Protocol(val) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	}
	return "", fmt.Errorf("unsupported protocol '%s'", val)
}

// Action is the verdict a rule or chain policy applies to matching traffic.
type Action string

// All recognized actions. ActionOther covers any terminal action the model
// doesn't track explicitly (LOG, RETURN, custom chain jumps, etc.).
const (
	ActionAccept Action = "ACCEPT"
	ActionDrop   Action = "DROP"
	ActionReject Action = "REJECT"
	ActionOther  Action = "OTHER"
)

// Blocks reports whether the action denies matching traffic.
func (a Action) Blocks() bool {
	return a == ActionDrop || a == ActionReject
}

// Rule is a single parsed chain rule. Ordinal is its 1-indexed position in
// the chain, which is also its evaluation order.
type Rule struct {
	Ordinal  int
	Protocol Protocol
	Port     uint16
	Action   Action
}

// Chain is the parsed state of a single chain for one address family: its
// default policy and the rules in evaluation order. Chains are re-derived
// from the live system on every inspection and never persisted.
type Chain struct {
	Policy Action
	Rules  []Rule
}

// ChangeAction is the kind of change a ChangeItem requests.
type ChangeAction string

// ChangeBlock requests that matching traffic be dropped.
const ChangeBlock ChangeAction = "block"

// ChangeItem is one requested firewall change. Items are supplied as an
// ordered sequence at orchestration start and never mutated. Identity is
// the (protocol, port) pair.
type ChangeItem struct {
	Protocol    Protocol
	Port        uint16
	Action      ChangeAction
	Description string
}

func (ci ChangeItem) String() string {
	return fmt.Sprintf("%s/%d", ci.Protocol, ci.Port)
}

// Executor runs firewall commands on the host. All methods are synchronous
// and potentially slow; implementations are expected to bound each call with
// the passed context.
type Executor interface {
	// Ready verifies the process has the privilege and tools needed to
	// manage the firewall. It returns an error describing the first missing
	// requirement.
	Ready() error

	// DumpRules returns the full serialized ruleset for the family, in a
	// format RestoreRules accepts.
	DumpRules(ctx context.Context, fam Family) (string, error)

	// RestoreRules replays a previously dumped ruleset for the family.
	RestoreRules(ctx context.Context, fam Family, payload string) error

	// AppendBlockRule appends a rule dropping traffic to the port.
	AppendBlockRule(ctx context.Context, fam Family, proto Protocol, port uint16) error

	// DeleteBlockRule deletes a rule previously created by AppendBlockRule.
	DeleteBlockRule(ctx context.Context, fam Family, proto Protocol, port uint16) error

	// FlushChain removes all rules from the managed chain, leaving the policy.
	FlushChain(ctx context.Context, fam Family) error

	// ListChain returns the chain-listing text for the managed chain, in the
	// format consumed by the inspect package.
	ListChain(ctx context.Context, fam Family) (string, error)

	// PersistRules saves the active ruleset so it survives a reboot.
	PersistRules(ctx context.Context) error
}

// ExecutorType are the supported firewall executor implementations.
type ExecutorType string

// All supported executor implementations.
const (
	ExecutorMock     ExecutorType = "mock"
	ExecutorIPTables ExecutorType = "iptables"
)

// ExecutorTypeFromString returns a valid ExecutorType for the given string,
// or an error if the value is invalid.
func ExecutorTypeFromString(val string) (ExecutorType, error) {
	switch ExecutorType(val) {
	case ExecutorMock:
		return ExecutorMock, nil
	case ExecutorIPTables:
		return ExecutorIPTables, nil
	}
	return "", fmt.Errorf("unsupported firewall executor type '%s'", val)
}
