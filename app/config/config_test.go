package config_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/fwguard/app/config"
	"go.hackfix.me/fwguard/firewall/types"
)

func TestConfig_Load(t *testing.T) {
	t.Parallel()

	t.Run("ok/missing_file_is_empty_config", func(t *testing.T) {
		t.Parallel()

		c := config.NewConfig(memoryfs.New(), "/config/config.json")
		require.NoError(t, c.Load())

		assert.False(t, c.Firewall.Type.Valid)
		assert.False(t, c.Guard.ConfirmWindow.Valid)
		assert.Empty(t, c.Rules)
	})

	t.Run("ok/full_config", func(t *testing.T) {
		t.Parallel()

		fs := memoryfs.New()
		data := `{
  "firewall": {"type": "mock", "chain": "FWGUARD", "policy": "DROP"},
  "guard": {"confirm_window": "2m30s", "snapshot_dir": "/var/lib/fwguard"},
  "rules": [
    {"protocol": "tcp", "port": 8222, "description": "management"}
  ]
}`
		require.NoError(t, fs.MkdirAll("/config", 0o755))
		require.NoError(t, vfs.WriteFile(fs, "/config/config.json", []byte(data), 0o644))

		c := config.NewConfig(fs, "/config/config.json")
		require.NoError(t, c.Load())

		assert.Equal(t, types.ExecutorMock, c.Firewall.Type.V)
		assert.Equal(t, "FWGUARD", c.Firewall.Chain.V)
		assert.Equal(t, types.ActionDrop, c.Firewall.Policy.V)
		assert.Equal(t, 150*time.Second, c.Guard.ConfirmWindow.V)
		assert.Equal(t, "/var/lib/fwguard", c.Guard.SnapshotDir.V)
		require.Len(t, c.Rules, 1)
		assert.Equal(t, types.ProtocolTCP, c.Rules[0].Protocol)
		assert.Equal(t, uint16(8222), c.Rules[0].Port)
	})

	tests := []struct {
		name   string
		data   string
		expErr string
	}{
		{
			name:   "err/invalid_json",
			data:   `{`,
			expErr: "failed parsing configuration file",
		},
		{
			name:   "err/unknown_executor_type",
			data:   `{"firewall": {"type": "nftables"}}`,
			expErr: "unsupported firewall executor type",
		},
		{
			name:   "err/invalid_policy",
			data:   `{"firewall": {"policy": "RETURN"}}`,
			expErr: "invalid chain policy 'RETURN'",
		},
		{
			name:   "err/invalid_confirm_window",
			data:   `{"guard": {"confirm_window": "5 minutes"}}`,
			expErr: "failed parsing confirmation window",
		},
		{
			name:   "err/invalid_rule_protocol",
			data:   `{"rules": [{"protocol": "icmp", "port": 902}]}`,
			expErr: "invalid rule icmp/902",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := memoryfs.New()
			require.NoError(t, fs.MkdirAll("/config", 0o755))
			require.NoError(t, vfs.WriteFile(fs, "/config/config.json", []byte(tt.data), 0o644))

			c := config.NewConfig(fs, "/config/config.json")
			err := c.Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expErr)
		})
	}
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	c := config.NewConfig(fs, "/config/config.json")
	c.Firewall.Type = sql.Null[types.ExecutorType]{V: types.ExecutorIPTables, Valid: true}
	c.Firewall.Chain = sql.Null[string]{V: "INPUT", Valid: true}
	c.Guard.ConfirmWindow = sql.Null[time.Duration]{V: 90 * time.Second, Valid: true}
	c.Rules = []config.Rule{
		{Protocol: types.ProtocolUDP, Port: 902, Description: "VMware Authentication Daemon (UDP)"},
	}
	require.NoError(t, c.Save())

	loaded := config.NewConfig(fs, "/config/config.json")
	require.NoError(t, loaded.Load())

	assert.Equal(t, c.Firewall, loaded.Firewall)
	assert.Equal(t, c.Guard, loaded.Guard)
	assert.Equal(t, c.Rules, loaded.Rules)
}

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	t.Run("ok/empty_config_gets_defaults", func(t *testing.T) {
		t.Parallel()

		c := config.NewConfig(memoryfs.New(), "/config/config.json")
		require.NoError(t, c.Load())
		c.SetDefaults()

		assert.Equal(t, types.ExecutorIPTables, c.Firewall.Type.V)
		assert.Equal(t, "INPUT", c.Firewall.Chain.V)
		assert.Equal(t, types.ActionAccept, c.Firewall.Policy.V)
		assert.Equal(t, 5*time.Minute, c.Guard.ConfirmWindow.V)
		assert.False(t, c.Guard.SnapshotDir.Valid)

		require.Len(t, c.Rules, 5)
		assert.Equal(t, config.Rule{
			Protocol: types.ProtocolTCP, Port: 902,
			Description: "VMware Authentication Daemon",
		}, c.Rules[0])
		assert.Equal(t, uint16(8333), c.Rules[4].Port)
	})

	t.Run("ok/existing_values_preserved", func(t *testing.T) {
		t.Parallel()

		c := config.NewConfig(memoryfs.New(), "/config/config.json")
		c.Firewall.Chain = sql.Null[string]{V: "FWGUARD", Valid: true}
		c.Rules = []config.Rule{{Protocol: types.ProtocolTCP, Port: 22}}
		c.SetDefaults()

		assert.Equal(t, "FWGUARD", c.Firewall.Chain.V)
		require.Len(t, c.Rules, 1)
		assert.Equal(t, uint16(22), c.Rules[0].Port)
	})
}

func TestConfig_ChangeItems(t *testing.T) {
	t.Parallel()

	c := config.NewConfig(memoryfs.New(), "/config/config.json")
	c.SetDefaults()

	items := c.ChangeItems()

	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, types.ChangeBlock, item.Action)
		assert.Equal(t, c.Rules[i].Protocol, item.Protocol)
		assert.Equal(t, c.Rules[i].Port, item.Port)
		assert.Equal(t, c.Rules[i].Description, item.Description)
	}
}
