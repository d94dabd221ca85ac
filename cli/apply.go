package cli

import (
	"fmt"
	"time"

	actx "go.hackfix.me/fwguard/app/context"
	aerrors "go.hackfix.me/fwguard/app/errors"
	"go.hackfix.me/fwguard/firewall/guard"
)

// Apply applies the configured block rules with a confirm-or-rollback
// safety window.
type Apply struct {
	Timeout time.Duration `short:"t" help:"Confirmation window before automatic rollback. Overrides the configured value."`
}

// Run the apply command.
func (c *Apply) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config

	exec, backups, err := setupFirewall(appCtx)
	if err != nil {
		return aerrors.NewWithCause(
			"failed setting up firewall", err, "firewall.type", cfg.Firewall.Type.V)
	}

	timeout := cfg.Guard.ConfirmWindow.V
	if c.Timeout > 0 {
		timeout = c.Timeout
	}

	g, err := guard.New(exec, backups, cfg.ChangeItems(),
		guard.WithChain(cfg.Firewall.Chain.V),
		guard.WithExpectedPolicy(cfg.Firewall.Policy.V),
		guard.WithTimeout(timeout),
		guard.WithLogger(appCtx.Logger),
		guard.WithOutput(appCtx.Stdout),
		guard.WithTimeNow(appCtx.TimeNow),
	)
	if err != nil {
		return aerrors.NewWithCause("failed creating the change guard", err)
	}

	report, err := g.Run(appCtx.Ctx)
	if err != nil {
		return aerrors.With(err, "phase", string(report.Phase), "outcome", string(report.Outcome))
	}

	switch report.Outcome {
	case guard.OutcomeCommitted:
		fmt.Fprintf(appCtx.Stdout, "Changes committed permanently.\n")
		if report.PersistWarning != nil {
			fmt.Fprintf(appCtx.Stdout,
				"Warning: rules are active but could not be saved for reboot: %v\n", report.PersistWarning)
		}
		return nil
	case guard.OutcomeRolledBack:
		return aerrors.NewWith(
			"no confirmation received, changes were rolled back",
			"timeout", timeout.String(),
		)
	case guard.OutcomeRollbackPartial:
		return aerrors.NewWith(
			"rollback incomplete, manual intervention may be needed",
			"snapshot_paths", report.SnapshotPaths,
		)
	}

	return aerrors.NewWith("unexpected run outcome", "outcome", string(report.Outcome))
}
