// Package backup snapshots and restores firewall chain state to durable
// storage. The presence of a snapshot pair on disk is part of the protocol:
// it marks an incomplete prior run, and starting a new run while one exists
// is refused by the orchestrator.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/fwguard/firewall/types"
)

// Snapshot file names per address family, kept stable so that operators can
// locate them for manual recovery.
var snapshotFiles = map[types.Family]string{
	types.FamilyIPv4: "iptables-before-block.rules",
	types.FamilyIPv6: "ip6tables-before-block.rules",
}

// Error indicates a failed snapshot operation for one address family.
type Error struct {
	Op     string
	Family types.Family
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("backup %s failed for %s: %v", e.Op, e.Family, e.Err)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *Error) Unwrap() error {
	return e.Err
}

// Manager creates, restores and discards snapshots of chain state.
type Manager struct {
	fs       vfs.FileSystem
	exec     types.Executor
	dir      string
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
	sleep    func(time.Duration)
}

// NewManager returns a new Manager storing snapshots in dir.
func NewManager(fs vfs.FileSystem, exec types.Executor, dir string, opts ...Option) (*Manager, error) {
	if fs == nil {
		return nil, fmt.Errorf("a filesystem is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("a firewall executor is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("a snapshot directory is required")
	}

	m := &Manager{fs: fs, exec: exec, dir: dir}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Path returns the snapshot file path for the given address family.
func (m *Manager) Path(fam types.Family) string {
	return filepath.Join(m.dir, snapshotFiles[fam])
}

// Paths returns the snapshot file paths for all address families.
func (m *Manager) Paths() []string {
	paths := make([]string, 0, len(snapshotFiles))
	for _, fam := range types.Families() {
		paths = append(paths, m.Path(fam))
	}
	return paths
}

// Exists reports whether a snapshot file is present for any address family.
// An unreadable file counts as present, since its state can't be ruled out.
func (m *Manager) Exists() bool {
	for _, fam := range types.Families() {
		if _, err := m.fs.Stat(m.Path(fam)); err == nil || !vfs.IsErrNotExist(err) {
			return true
		}
	}
	return false
}

// Create dumps the current ruleset of every address family and writes each
// payload to its snapshot file. A dump or write failure for either family
// fails the whole call, but does not remove a file already written for the
// other family; the caller treats any error here as fatal before mutation.
func (m *Manager) Create(ctx context.Context) error {
	if err := m.fs.MkdirAll(m.dir, 0o700); err != nil {
		return &Error{Op: "create", Err: err}
	}

	for _, fam := range types.Families() {
		payload, err := m.exec.DumpRules(ctx, fam)
		if err != nil {
			return &Error{Op: "create", Family: fam, Err: err}
		}
		if err := vfs.WriteFile(m.fs, m.Path(fam), []byte(payload), 0o600); err != nil {
			return &Error{Op: "create", Family: fam, Err: err}
		}
		m.logger.Info("snapshot written", "family", fam, "path", m.Path(fam))
	}

	return nil
}

// Restore replays the family's snapshot into the firewall. The restore
// command may transiently fail under load, so it is retried a bounded
// number of times with a fixed backoff. The last error is returned if all
// attempts fail.
func (m *Manager) Restore(ctx context.Context, fam types.Family) error {
	payload, err := vfs.ReadFile(m.fs, m.Path(fam))
	if err != nil {
		return &Error{Op: "restore", Family: fam, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if lastErr = m.exec.RestoreRules(ctx, fam, string(payload)); lastErr == nil {
			m.logger.Info("snapshot restored", "family", fam, "attempt", attempt)
			return nil
		}
		m.logger.Warn("snapshot restore failed",
			"family", fam,
			"attempt", fmt.Sprintf("%d/%d", attempt, m.attempts),
			"error", lastErr,
		)
		if attempt < m.attempts {
			m.sleep(m.backoff)
		}
	}

	return &Error{Op: "restore", Family: fam, Err: lastErr}
}

// Discard deletes all snapshot files. It is best-effort: it only runs after
// the caller has already confirmed a fully successful commit or rollback,
// so failures are logged and never escalated.
func (m *Manager) Discard() {
	for _, fam := range types.Families() {
		path := m.Path(fam)
		if err := m.fs.Remove(path); err != nil {
			if vfs.IsErrNotExist(err) {
				continue
			}
			m.logger.Warn("failed removing snapshot file", "path", path, "error", err)
			continue
		}
		m.logger.Info("snapshot removed", "path", path)
	}
}
