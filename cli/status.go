package cli

import (
	"fmt"
	"strconv"

	actx "go.hackfix.me/fwguard/app/context"
	aerrors "go.hackfix.me/fwguard/app/errors"
	"go.hackfix.me/fwguard/firewall/inspect"
	"go.hackfix.me/fwguard/firewall/types"
)

// Status shows the current chain state and the block status of every
// configured rule.
type Status struct{}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config

	exec, backups, err := setupFirewall(appCtx)
	if err != nil {
		return aerrors.NewWithCause(
			"failed setting up firewall", err, "firewall.type", cfg.Firewall.Type.V)
	}

	chain := cfg.Firewall.Chain.V
	chains := make(map[types.Family]*types.Chain, 2)
	for _, fam := range types.Families() {
		text, err := exec.ListChain(appCtx.Ctx, fam)
		if err != nil {
			return aerrors.NewWithCause("failed listing chain", err, "family", string(fam))
		}
		chains[fam], err = inspect.Parse(text, chain)
		if err != nil {
			return aerrors.NewWithCause("failed parsing chain listing", err, "family", string(fam))
		}
	}

	var ruleRows [][]string
	for _, fam := range types.Families() {
		c := chains[fam]
		fmt.Fprintf(appCtx.Stdout, "%s %s chain: policy %s, %d rules\n", fam, chain, c.Policy, len(c.Rules))
		for _, r := range c.Rules {
			ruleRows = append(ruleRows, []string{
				string(fam), strconv.Itoa(r.Ordinal), string(r.Protocol),
				strconv.Itoa(int(r.Port)), string(r.Action),
			})
		}
	}

	if len(ruleRows) > 0 {
		fmt.Fprintln(appCtx.Stdout)
		if err := renderTable([]string{"Family", "#", "Proto", "Port", "Action"}, ruleRows, appCtx.Stdout); err != nil {
			return aerrors.NewWithCause("failed rendering chain rules", err)
		}
	}

	var blockRows [][]string
	for _, item := range cfg.ChangeItems() {
		for _, fam := range types.Families() {
			blocked, reason := inspect.IsBlocked(chains[fam], item.Protocol, item.Port)
			blockRows = append(blockRows, []string{
				item.String(), string(fam), strconv.FormatBool(blocked), reason,
			})
		}
	}

	fmt.Fprintln(appCtx.Stdout)
	if err := renderTable([]string{"Rule", "Family", "Blocked", "Reason"}, blockRows, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering block status", err)
	}

	if backups.Exists() {
		fmt.Fprintf(appCtx.Stdout, "\nWarning: snapshot files from an incomplete run exist: %v\n", backups.Paths())
	}

	return nil
}
