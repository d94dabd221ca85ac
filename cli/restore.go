package cli

import (
	"fmt"

	actx "go.hackfix.me/fwguard/app/context"
	aerrors "go.hackfix.me/fwguard/app/errors"
	"go.hackfix.me/fwguard/firewall/types"
)

// Restore manually replays a retained snapshot pair into the firewall.
// This is the recovery path after a partial rollback or an interrupted run.
type Restore struct {
	Keep bool `help:"Keep the snapshot files after a successful restore."`
}

// Run the restore command.
func (c *Restore) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config

	_, backups, err := setupFirewall(appCtx)
	if err != nil {
		return aerrors.NewWithCause(
			"failed setting up firewall", err, "firewall.type", cfg.Firewall.Type.V)
	}

	if !backups.Exists() {
		return aerrors.NewWith("no snapshot files to restore from",
			"paths", backups.Paths())
	}

	var failed []types.Family
	for _, fam := range types.Families() {
		if err := backups.Restore(appCtx.Ctx, fam); err != nil {
			aerrors.Log(aerrors.NewWithCause("failed restoring snapshot", err, "family", string(fam)))
			failed = append(failed, fam)
		}
	}

	if len(failed) > 0 {
		return aerrors.NewWith("snapshot restore incomplete, snapshot files retained",
			"failed_families", failed)
	}

	if !c.Keep {
		backups.Discard()
	}

	fmt.Fprintf(appCtx.Stdout, "Chain state restored from snapshots.\n")
	return nil
}
