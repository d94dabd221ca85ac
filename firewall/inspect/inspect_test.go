package inspect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/fwguard/firewall/inspect"
	"go.hackfix.me/fwguard/firewall/types"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		expChain *types.Chain
		expErr   string
	}{
		{
			name:     "ok/policy_only",
			text:     "-P INPUT ACCEPT\n",
			expChain: &types.Chain{Policy: types.ActionAccept},
		},
		{
			name:     "ok/drop_policy",
			text:     "-P INPUT DROP\n",
			expChain: &types.Chain{Policy: types.ActionDrop},
		},
		{
			name: "ok/rules",
			text: `-P INPUT ACCEPT
-A INPUT -p tcp -m tcp --dport 902 -j DROP
-A INPUT -p udp --dport 902 -j REJECT
-A INPUT -p tcp --dport 22 -j ACCEPT
`,
			expChain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
					{Ordinal: 2, Protocol: types.ProtocolUDP, Port: 902, Action: types.ActionReject},
					{Ordinal: 3, Protocol: types.ProtocolTCP, Port: 22, Action: types.ActionAccept},
				},
			},
		},
		{
			name: "ok/unknown_action_tracked_as_other",
			text: `-P INPUT ACCEPT
-A INPUT -p tcp --dport 80 -j LOG
`,
			expChain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 80, Action: types.ActionOther},
				},
			},
		},
		{
			name: "ok/foreign_chain_rules_skipped",
			text: `-P INPUT ACCEPT
-A DOCKER -p tcp --dport 80 -j DROP
-A INPUT -p tcp --dport 902 -j DROP
`,
			expChain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
				},
			},
		},
		{
			name: "ok/rules_without_port_match_skipped",
			text: `-P INPUT ACCEPT
-A INPUT -i lo -j ACCEPT
-A INPUT -p tcp -j DROP
-A INPUT -p icmp -j ACCEPT
-A INPUT -p tcp --dport 902 -j DROP
`,
			expChain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
				},
			},
		},
		{
			name:   "err/empty_input",
			text:   "",
			expErr: "empty chain listing",
		},
		{
			name:   "err/blank_input",
			text:   "\n\n  \n",
			expErr: "empty chain listing",
		},
		{
			name:   "err/first_line_not_policy",
			text:   "-A INPUT -p tcp --dport 902 -j DROP\n",
			expErr: "expected a policy declaration for chain INPUT",
		},
		{
			name:   "err/policy_for_other_chain",
			text:   "-P FORWARD ACCEPT\n",
			expErr: "expected a policy declaration for chain INPUT",
		},
		{
			name:   "err/unrecognized_policy_value",
			text:   "-P INPUT RETURN\n",
			expErr: "unrecognized chain policy 'RETURN'",
		},
		{
			name: "err/rule_missing_terminal_action",
			text: `-P INPUT ACCEPT
-A INPUT -p tcp --dport 902
`,
			expErr: "rule lacks a terminal action",
		},
		{
			name: "err/unrecognized_line",
			text: `-P INPUT ACCEPT
# some comment
`,
			expErr: "neither a policy nor a rule declaration",
		},
		{
			name: "err/duplicate_policy",
			text: `-P INPUT ACCEPT
-P INPUT DROP
`,
			expErr: "duplicate policy declaration",
		},
		{
			name: "err/second_policy_foreign_chain",
			text: `-P INPUT ACCEPT
-P FORWARD DROP
`,
			expErr: "policy declaration for foreign chain FORWARD",
		},
		{
			name: "err/invalid_port",
			text: `-P INPUT ACCEPT
-A INPUT -p tcp --dport 99999 -j DROP
`,
			expErr: "invalid destination port '99999'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain, err := inspect.Parse(tt.text, "INPUT")

			if tt.expErr != "" {
				require.Error(t, err)
				var ferr *inspect.FormatError
				require.ErrorAs(t, err, &ferr)
				assert.Contains(t, err.Error(), tt.expErr)
				assert.Nil(t, chain)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expChain, chain)
		})
	}
}

// Rendering a parsed chain and parsing it again must be lossless for the
// fields the model tracks.
func TestParse_RenderRoundTrip(t *testing.T) {
	t.Parallel()

	chains := []*types.Chain{
		{Policy: types.ActionAccept},
		{Policy: types.ActionDrop},
		{
			Policy: types.ActionAccept,
			Rules: []types.Rule{
				{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
				{Ordinal: 2, Protocol: types.ProtocolUDP, Port: 902, Action: types.ActionReject},
				{Ordinal: 3, Protocol: types.ProtocolTCP, Port: 8222, Action: types.ActionAccept},
			},
		},
	}

	for _, chain := range chains {
		text := inspect.Render(chain, "INPUT")
		parsed, err := inspect.Parse(text, "INPUT")
		require.NoError(t, err)
		assert.Equal(t, chain, parsed)
	}
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		chain      *types.Chain
		proto      types.Protocol
		port       uint16
		expBlocked bool
		expReason  string
	}{
		{
			name: "ok/first_matching_drop_wins",
			chain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
					{Ordinal: 2, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionAccept},
				},
			},
			proto:      types.ProtocolTCP,
			port:       902,
			expBlocked: true,
			expReason:  "rule 1 drops tcp/902",
		},
		{
			name: "ok/first_matching_accept_wins_over_later_drop",
			chain: &types.Chain{
				Policy: types.ActionDrop,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionAccept},
					{Ordinal: 2, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
				},
			},
			proto:      types.ProtocolTCP,
			port:       902,
			expBlocked: false,
			expReason:  "rule 1 accepts tcp/902",
		},
		{
			name: "ok/reject_blocks",
			chain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolUDP, Port: 902, Action: types.ActionReject},
				},
			},
			proto:      types.ProtocolUDP,
			port:       902,
			expBlocked: true,
			expReason:  "rule 1 rejects udp/902",
		},
		{
			name: "ok/unknown_action_does_not_block",
			chain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 80, Action: types.ActionOther},
				},
			},
			proto:      types.ProtocolTCP,
			port:       80,
			expBlocked: false,
			expReason:  "rule 1 has unknown action for tcp/80",
		},
		{
			name: "ok/protocol_mismatch_falls_through",
			chain: &types.Chain{
				Policy: types.ActionAccept,
				Rules: []types.Rule{
					{Ordinal: 1, Protocol: types.ProtocolUDP, Port: 902, Action: types.ActionDrop},
				},
			},
			proto:      types.ProtocolTCP,
			port:       902,
			expBlocked: false,
			expReason:  "default policy ACCEPT",
		},
		{
			name:       "ok/no_match_drop_policy",
			chain:      &types.Chain{Policy: types.ActionDrop},
			proto:      types.ProtocolTCP,
			port:       22,
			expBlocked: true,
			expReason:  "default policy DROP",
		},
		{
			name:       "ok/no_match_accept_policy",
			chain:      &types.Chain{Policy: types.ActionAccept},
			proto:      types.ProtocolTCP,
			port:       22,
			expBlocked: false,
			expReason:  "default policy ACCEPT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			blocked, reason := inspect.IsBlocked(tt.chain, tt.proto, tt.port)
			assert.Equal(t, tt.expBlocked, blocked)
			assert.Equal(t, tt.expReason, reason)
		})
	}
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, inspect.IsEmpty(&types.Chain{Policy: types.ActionAccept}))
	assert.False(t, inspect.IsEmpty(&types.Chain{
		Policy: types.ActionAccept,
		Rules: []types.Rule{
			{Ordinal: 1, Protocol: types.ProtocolTCP, Port: 902, Action: types.ActionDrop},
		},
	}))
}
