package iptables

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	ipt, err := New("INPUT", WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	assert.NotNil(t, ipt)

	ipt, err = New("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a chain name is required")
	assert.Nil(t, ipt)
}

func TestIPTables_Ready(t *testing.T) {
	t.Parallel()

	newReady := func(t *testing.T) *IPTables {
		t.Helper()
		ipt, err := New("INPUT", WithLogger(slog.New(slog.DiscardHandler)))
		require.NoError(t, err)
		ipt.geteuid = func() int { return 0 }
		ipt.lookPath = func(cmd string) (string, error) { return "/usr/sbin/" + cmd, nil }
		return ipt
	}

	t.Run("ok/root_with_all_commands", func(t *testing.T) {
		t.Parallel()
		ipt := newReady(t)

		require.NoError(t, ipt.Ready())
	})

	t.Run("err/not_root", func(t *testing.T) {
		t.Parallel()
		ipt := newReady(t)
		ipt.geteuid = func() int { return 1000 }

		err := ipt.Ready()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "root privileges are required")
		assert.Contains(t, err.Error(), "euid 1000")
	})

	t.Run("err/missing_command", func(t *testing.T) {
		t.Parallel()
		ipt := newReady(t)
		ipt.lookPath = func(cmd string) (string, error) {
			if cmd == "ip6tables-restore" {
				return "", fmt.Errorf("executable file not found in $PATH")
			}
			return "/usr/sbin/" + cmd, nil
		}

		err := ipt.Ready()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "required command 'ip6tables-restore' not found")
	})
}
