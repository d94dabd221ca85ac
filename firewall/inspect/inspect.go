// Package inspect parses chain-listing text into a structured chain model
// and evaluates whether traffic to a given port is effectively blocked.
//
// The parser is deliberately strict: any deviation from the expected format
// is reported as a FormatError instead of being silently ignored, so that
// schema drift in the underlying tool output is detected before any
// decision is made based on it.
package inspect

import (
	"fmt"
	"strconv"
	"strings"

	"go.hackfix.me/fwguard/firewall/types"
)

// FormatError indicates that chain-listing text deviated from the expected
// format. It is always fatal to the operation that requested the parse.
type FormatError struct {
	Line   string
	Reason string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("unexpected chain listing format: %s", e.Reason)
	}
	return fmt.Sprintf("unexpected chain listing format: %s: %q", e.Reason, e.Line)
}

// lineKind tags the recognized shapes of a chain-listing line.
type lineKind int

const (
	linePolicy lineKind = iota
	lineRule
	lineUnrecognized
)

// scannedLine is the result of tokenizing a single chain-listing line,
// before any chain-level validation.
type scannedLine struct {
	kind  lineKind
	chain string
	// policy lines
	policy string
	// rule lines
	proto    string
	port     string
	hasProto bool
	hasPort  bool
	action   string
	hasJump  bool
	raw      string
}

// scanLine tokenizes one non-blank line into a tagged variant. It performs
// no validation beyond recognizing the line shape; the caller decides what
// is an error for the chain under inspection.
func scanLine(raw string) scannedLine {
	tokens := strings.Fields(raw)
	sl := scannedLine{kind: lineUnrecognized, raw: raw}
	if len(tokens) < 2 {
		return sl
	}

	switch tokens[0] {
	case "-P":
		if len(tokens) != 3 {
			return sl
		}
		sl.kind = linePolicy
		sl.chain = tokens[1]
		sl.policy = tokens[2]
	case "-A":
		sl.kind = lineRule
		sl.chain = tokens[1]
		for i := 2; i < len(tokens)-1; i++ {
			switch tokens[i] {
			case "-p":
				sl.proto = tokens[i+1]
				sl.hasProto = true
			case "--dport":
				sl.port = tokens[i+1]
				sl.hasPort = true
			case "-j":
				sl.action = tokens[i+1]
				sl.hasJump = true
			}
		}
	}

	return sl
}

func parseAction(val string) types.Action {
	switch types.Action(val) {
	case types.ActionAccept:
		return types.ActionAccept
	case types.ActionDrop:
		return types.ActionDrop
	case types.ActionReject:
		return types.ActionReject
	}
	return types.ActionOther
}

// Parse turns the chain-listing text for the named chain into a Chain.
// It fails with a FormatError if the text is empty, doesn't open with a
// valid policy declaration for the chain, or contains any line that is
// neither a policy nor a rule declaration. Rules for other chains are
// skipped. Rules without both a protocol and a destination-port qualifier
// are skipped as well, since they are out of scope for blocking decisions.
func Parse(text string, chain string) (*types.Chain, error) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, &FormatError{Reason: "empty chain listing"}
	}

	first := scanLine(lines[0])
	if first.kind != linePolicy || first.chain != chain {
		return nil, &FormatError{
			Line:   lines[0],
			Reason: fmt.Sprintf("expected a policy declaration for chain %s", chain),
		}
	}
	policy := parseAction(first.policy)
	if policy != types.ActionAccept && policy != types.ActionDrop {
		return nil, &FormatError{
			Line:   lines[0],
			Reason: fmt.Sprintf("unrecognized chain policy '%s'", first.policy),
		}
	}

	c := &types.Chain{Policy: policy}
	for _, raw := range lines[1:] {
		sl := scanLine(raw)
		switch sl.kind {
		case linePolicy:
			if sl.chain == chain {
				return nil, &FormatError{Line: raw, Reason: "duplicate policy declaration"}
			}
			return nil, &FormatError{
				Line:   raw,
				Reason: fmt.Sprintf("policy declaration for foreign chain %s", sl.chain),
			}
		case lineRule:
			if sl.chain != chain {
				// Not the chain under inspection.
				continue
			}
			if !sl.hasJump {
				return nil, &FormatError{Line: raw, Reason: "rule lacks a terminal action"}
			}
			if !sl.hasProto || !sl.hasPort {
				// No (protocol, port) match target, irrelevant to blocking
				// decisions on specific ports.
				continue
			}
			proto, err := types.ProtocolFromString(sl.proto)
			if err != nil {
				// Rules matching protocols the model doesn't track (icmp,
				// esp, etc.) can't affect TCP/UDP port queries.
				continue
			}
			port, err := strconv.ParseUint(sl.port, 10, 16)
			if err != nil {
				return nil, &FormatError{
					Line:   raw,
					Reason: fmt.Sprintf("invalid destination port '%s'", sl.port),
				}
			}
			c.Rules = append(c.Rules, types.Rule{
				Ordinal:  len(c.Rules) + 1,
				Protocol: proto,
				Port:     uint16(port),
				Action:   parseAction(sl.action),
			})
		default:
			return nil, &FormatError{Line: raw, Reason: "line is neither a policy nor a rule declaration"}
		}
	}

	return c, nil
}

// IsBlocked reports whether traffic to the given protocol and port is
// blocked by the chain, along with a human-readable reason. Rules are
// evaluated in ordinal order and the first match wins, mirroring packet
// filter semantics; if no rule matches, the chain's default policy decides.
func IsBlocked(c *types.Chain, proto types.Protocol, port uint16) (bool, string) {
	for _, r := range c.Rules {
		if r.Protocol != proto || r.Port != port {
			continue
		}
		switch r.Action {
		case types.ActionDrop, types.ActionReject:
			return true, fmt.Sprintf("rule %d %ss %s/%d", r.Ordinal, strings.ToLower(string(r.Action)), proto, port)
		case types.ActionAccept:
			return false, fmt.Sprintf("rule %d accepts %s/%d", r.Ordinal, proto, port)
		default:
			return false, fmt.Sprintf("rule %d has unknown action for %s/%d", r.Ordinal, proto, port)
		}
	}

	if c.Policy == types.ActionDrop {
		return true, "default policy DROP"
	}
	return false, "default policy ACCEPT"
}

// IsEmpty reports whether the chain carries no rules, ignoring the policy.
func IsEmpty(c *types.Chain) bool {
	return len(c.Rules) == 0
}

// Render serializes a chain back into chain-listing text for the named
// chain. It is the inverse of Parse for the fields the model tracks.
func Render(c *types.Chain, chain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-P %s %s\n", chain, c.Policy)
	for _, r := range c.Rules {
		fmt.Fprintf(&b, "-A %s -p %s --dport %d -j %s\n", chain, r.Protocol, r.Port, r.Action)
	}
	return b.String()
}
