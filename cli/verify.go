package cli

import (
	"fmt"
	"strconv"

	actx "go.hackfix.me/fwguard/app/context"
	aerrors "go.hackfix.me/fwguard/app/errors"
	"go.hackfix.me/fwguard/firewall/inspect"
	"go.hackfix.me/fwguard/firewall/types"
)

// Verify checks that every configured port is effectively blocked on both
// address families.
type Verify struct{}

// Run the verify command.
func (c *Verify) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config

	exec, _, err := setupFirewall(appCtx)
	if err != nil {
		return aerrors.NewWithCause(
			"failed setting up firewall", err, "firewall.type", cfg.Firewall.Type.V)
	}

	chain := cfg.Firewall.Chain.V
	var (
		rows       [][]string
		violations int
	)
	for _, fam := range types.Families() {
		text, err := exec.ListChain(appCtx.Ctx, fam)
		if err != nil {
			return aerrors.NewWithCause("failed listing chain", err, "family", string(fam))
		}
		parsed, err := inspect.Parse(text, chain)
		if err != nil {
			return aerrors.NewWithCause("failed parsing chain listing", err, "family", string(fam))
		}

		for _, item := range cfg.ChangeItems() {
			blocked, reason := inspect.IsBlocked(parsed, item.Protocol, item.Port)
			if !blocked {
				violations++
			}
			rows = append(rows, []string{
				item.String(), string(fam), strconv.FormatBool(blocked), reason,
			})
		}
	}

	if err := renderTable([]string{"Rule", "Family", "Blocked", "Reason"}, rows, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering verification results", err)
	}

	if violations > 0 {
		return aerrors.NewWith("some configured ports are not blocked", "violations", violations)
	}

	fmt.Fprintf(appCtx.Stdout, "\nAll configured ports are blocked.\n")
	return nil
}
