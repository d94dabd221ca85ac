package backup_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/fwguard/firewall/backup"
	"go.hackfix.me/fwguard/firewall/mock"
	"go.hackfix.me/fwguard/firewall/types"
)

func newTestManager(t *testing.T) (*backup.Manager, *mock.Mock, vfs.FileSystem) {
	t.Helper()

	fs := memoryfs.New()
	m := mock.New()
	mgr, err := backup.NewManager(fs, m, "/backups",
		backup.WithLogger(slog.New(slog.DiscardHandler)),
		backup.WithSleep(func(time.Duration) {}),
	)
	require.NoError(t, err)

	return mgr, m, fs
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fs     vfs.FileSystem
		exec   types.Executor
		dir    string
		expErr string
	}{
		{
			name: "ok/valid",
			fs:   memoryfs.New(),
			exec: mock.New(),
			dir:  "/backups",
		},
		{
			name:   "err/nil_fs",
			exec:   mock.New(),
			dir:    "/backups",
			expErr: "a filesystem is required",
		},
		{
			name:   "err/nil_executor",
			fs:     memoryfs.New(),
			dir:    "/backups",
			expErr: "a firewall executor is required",
		},
		{
			name:   "err/empty_dir",
			fs:     memoryfs.New(),
			exec:   mock.New(),
			expErr: "a snapshot directory is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mgr, err := backup.NewManager(tt.fs, tt.exec, tt.dir)

			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				assert.Nil(t, mgr)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, mgr)
			}
		})
	}
}

func TestManager_Create(t *testing.T) {
	t.Parallel()

	t.Run("ok/both_families_written", func(t *testing.T) {
		t.Parallel()
		mgr, _, fs := newTestManager(t)

		require.NoError(t, mgr.Create(t.Context()))

		for _, fam := range types.Families() {
			payload, err := vfs.ReadFile(fs, mgr.Path(fam))
			require.NoError(t, err)
			assert.Contains(t, string(payload), "-P INPUT ACCEPT")
		}
		assert.True(t, mgr.Exists())
	})

	t.Run("err/first_family_dump_fails", func(t *testing.T) {
		t.Parallel()
		mgr, m, _ := newTestManager(t)
		m.FailOp("dump/ipv4", errors.New("dump error"))

		err := mgr.Create(t.Context())

		require.Error(t, err)
		var berr *backup.Error
		require.ErrorAs(t, err, &berr)
		assert.Equal(t, types.FamilyIPv4, berr.Family)
		assert.False(t, mgr.Exists())
	})

	t.Run("err/second_family_dump_fails_keeps_first", func(t *testing.T) {
		t.Parallel()
		mgr, m, fs := newTestManager(t)
		m.FailOp("dump/ipv6", errors.New("dump error"))

		err := mgr.Create(t.Context())

		require.Error(t, err)
		// The IPv4 snapshot stays on disk; the caller aborts before any
		// mutation, so nothing depends on it being rolled back.
		_, err = fs.Stat(mgr.Path(types.FamilyIPv4))
		require.NoError(t, err)
		assert.True(t, mgr.Exists())
	})
}

func TestManager_Restore(t *testing.T) {
	t.Parallel()

	t.Run("ok/restores_snapshot_state", func(t *testing.T) {
		t.Parallel()
		mgr, m, _ := newTestManager(t)
		require.NoError(t, mgr.Create(t.Context()))

		// Mutate the live state after the snapshot was taken.
		m.AddRule(types.FamilyIPv4, types.ProtocolTCP, 902, types.ActionDrop)

		require.NoError(t, mgr.Restore(t.Context(), types.FamilyIPv4))
		assert.Empty(t, m.Chain(types.FamilyIPv4).Rules)
	})

	t.Run("ok/transient_failure_retried", func(t *testing.T) {
		t.Parallel()
		mgr, m, _ := newTestManager(t)
		require.NoError(t, mgr.Create(t.Context()))
		m.FailOpTimes("restore", 2, errors.New("resource busy"))

		require.NoError(t, mgr.Restore(t.Context(), types.FamilyIPv4))
	})

	t.Run("err/all_attempts_fail", func(t *testing.T) {
		t.Parallel()
		mgr, m, _ := newTestManager(t)
		require.NoError(t, mgr.Create(t.Context()))
		m.FailOp("restore", errors.New("resource busy"))

		err := mgr.Restore(t.Context(), types.FamilyIPv4)

		require.Error(t, err)
		var berr *backup.Error
		require.ErrorAs(t, err, &berr)
		assert.Equal(t, "restore", berr.Op)
	})

	t.Run("err/missing_snapshot_file", func(t *testing.T) {
		t.Parallel()
		mgr, _, _ := newTestManager(t)

		err := mgr.Restore(t.Context(), types.FamilyIPv4)

		require.Error(t, err)
		var berr *backup.Error
		require.ErrorAs(t, err, &berr)
	})
}

func TestManager_Exists(t *testing.T) {
	t.Parallel()

	mgr, _, fs := newTestManager(t)
	assert.False(t, mgr.Exists())

	// A single family's file is enough to count as a live snapshot.
	require.NoError(t, fs.MkdirAll("/backups", 0o700))
	require.NoError(t, vfs.WriteFile(fs, mgr.Path(types.FamilyIPv6), []byte("-P INPUT ACCEPT\n"), 0o600))
	assert.True(t, mgr.Exists())
}

func TestManager_Discard(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	require.NoError(t, mgr.Create(t.Context()))
	require.True(t, mgr.Exists())

	mgr.Discard()
	assert.False(t, mgr.Exists())

	// Discarding again is a no-op.
	mgr.Discard()
	assert.False(t, mgr.Exists())
}
