// Package cli implements the command line interface of fwguard.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/fwguard/app/context"
	"go.hackfix.me/fwguard/firewall"
	"go.hackfix.me/fwguard/firewall/backup"
	"go.hackfix.me/fwguard/firewall/types"
)

// CLI is the command line interface of fwguard.
type CLI struct {
	Apply   Apply   `kong:"cmd,help='Apply the configured block rules with a confirm-or-rollback safety window.'"`
	Status  Status  `kong:"cmd,help='Show the current chain state and per-rule block status.'"`
	Verify  Verify  `kong:"cmd,help='Verify that every configured port is effectively blocked.'"`
	Restore Restore `kong:"cmd,help='Manually restore chain state from a retained snapshot.'"`
	Scan    Scan    `kong:"cmd,help='Probe configured ports on a remote target to verify the external effect.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since configuration is managed
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the fwguard configuration file.'"`
	DataDir    string           `kong:"default='${dataDir}',help='Path to the directory where fwguard state is stored.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(name, configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name(name),
		kong.UsageOnError(),
		kong.DefaultEnvars(strings.ToUpper(name)),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// setupFirewall creates the configured firewall executor and a backup
// manager storing snapshots in the configured directory.
func setupFirewall(appCtx *actx.Context) (types.Executor, *backup.Manager, error) {
	cfg := appCtx.Config

	exec, err := firewall.Setup(cfg.Firewall.Type.V, cfg.Firewall.Chain.V, appCtx.Logger)
	if err != nil {
		return nil, nil, err
	}

	snapshotDir := appCtx.DataDir
	if cfg.Guard.SnapshotDir.Valid {
		snapshotDir = cfg.Guard.SnapshotDir.V
	}

	backups, err := backup.NewManager(appCtx.FS, exec, snapshotDir, backup.WithLogger(appCtx.Logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating the backup manager: %w", err)
	}

	return exec, backups, nil
}
