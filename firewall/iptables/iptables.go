// Package iptables implements the firewall executor on top of the iptables
// command suite. Each address family is managed through its own set of
// binaries (iptables/ip6tables and their save/restore counterparts), and
// rules are persisted across reboots with netfilter-persistent.
package iptables

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"go.hackfix.me/fwguard/firewall/types"
)

type familyCommands struct {
	table   string
	save    string
	restore string
}

var commands = map[types.Family]familyCommands{
	types.FamilyIPv4: {table: "iptables", save: "iptables-save", restore: "iptables-restore"},
	types.FamilyIPv6: {table: "ip6tables", save: "ip6tables-save", restore: "ip6tables-restore"},
}

const persistCommand = "netfilter-persistent"

// IPTables runs firewall commands by executing the iptables binaries.
type IPTables struct {
	chain   string
	timeout time.Duration
	logger  *slog.Logger
	// geteuid is overridable in tests.
	geteuid func() int
	// lookPath is overridable in tests.
	lookPath func(string) (string, error)
}

var _ types.Executor = (*IPTables)(nil)

// New returns a new IPTables executor managing the given chain.
func New(chain string, opts ...Option) (*IPTables, error) {
	if chain == "" {
		return nil, fmt.Errorf("a chain name is required")
	}

	ipt := &IPTables{
		chain:    chain,
		geteuid:  unix.Geteuid,
		lookPath: exec.LookPath,
	}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(ipt); err != nil {
			return nil, err
		}
	}

	return ipt, nil
}

// Ready verifies the process runs with root privileges and that every
// required command is available on the system.
func (ipt *IPTables) Ready() error {
	if euid := ipt.geteuid(); euid != 0 {
		return fmt.Errorf("root privileges are required to manage the firewall (euid %d)", euid)
	}

	required := make([]string, 0, len(commands)*3+1)
	for _, fam := range types.Families() {
		c := commands[fam]
		required = append(required, c.table, c.save, c.restore)
	}
	required = append(required, persistCommand)

	for _, cmd := range required {
		if _, err := ipt.lookPath(cmd); err != nil {
			return fmt.Errorf("required command '%s' not found: %w", cmd, err)
		}
	}

	return nil
}

// DumpRules implements types.Executor using iptables-save.
func (ipt *IPTables) DumpRules(ctx context.Context, fam types.Family) (string, error) {
	return ipt.run(ctx, nil, commands[fam].save)
}

// RestoreRules implements types.Executor using iptables-restore.
func (ipt *IPTables) RestoreRules(ctx context.Context, fam types.Family, payload string) error {
	_, err := ipt.run(ctx, strings.NewReader(payload), commands[fam].restore)
	return err
}

// AppendBlockRule implements types.Executor.
func (ipt *IPTables) AppendBlockRule(ctx context.Context, fam types.Family, proto types.Protocol, port uint16) error {
	_, err := ipt.run(ctx, nil, commands[fam].table,
		"-A", ipt.chain, "-p", string(proto), "--dport", strconv.Itoa(int(port)), "-j", "DROP")
	return err
}

// DeleteBlockRule implements types.Executor.
func (ipt *IPTables) DeleteBlockRule(ctx context.Context, fam types.Family, proto types.Protocol, port uint16) error {
	_, err := ipt.run(ctx, nil, commands[fam].table,
		"-D", ipt.chain, "-p", string(proto), "--dport", strconv.Itoa(int(port)), "-j", "DROP")
	return err
}

// FlushChain implements types.Executor.
func (ipt *IPTables) FlushChain(ctx context.Context, fam types.Family) error {
	_, err := ipt.run(ctx, nil, commands[fam].table, "-F", ipt.chain)
	return err
}

// ListChain implements types.Executor using the rule-specification listing
// format (-S), which the inspect package parses.
func (ipt *IPTables) ListChain(ctx context.Context, fam types.Family) (string, error) {
	return ipt.run(ctx, nil, commands[fam].table, "-S", ipt.chain)
}

// PersistRules implements types.Executor using netfilter-persistent.
func (ipt *IPTables) PersistRules(ctx context.Context) error {
	_, err := ipt.run(ctx, nil, persistCommand, "save")
	return err
}

// run executes a single command with a bounded timeout, returning its
// stdout. A non-zero exit status is returned as an error carrying the
// command line and captured stderr.
func (ipt *IPTables) run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ipt.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ipt.logger.Debug("executing command", "command", name, "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("command '%s %s' timed out: %w", name, strings.Join(args, " "), ctxErr)
		}
		return "", fmt.Errorf("command '%s %s' failed: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}
