package cli

import (
	"fmt"
	"time"

	actx "go.hackfix.me/fwguard/app/context"
	aerrors "go.hackfix.me/fwguard/app/errors"
	"go.hackfix.me/fwguard/probe"
)

// Scan probes the configured ports on one or more remote targets, verifying
// the external effect of the firewall change from outside the host.
type Scan struct {
	//nolint:lll // Long struct tags are unavoidable.
	Targets     []string      `arg:"" required:"" help:"One or more target addresses in plain, CIDR or range notation. \n Examples: 203.0.113.10, 198.51.100.0/28, 2001:db8::1"`
	Timeout     time.Duration `default:"5s" help:"Per-probe timeout."`
	Concurrency int           `default:"16" help:"Maximum number of probes in flight."`
	MaxTargets  int           `default:"256" help:"Refuse target sets expanding to more addresses than this."`
}

// Run the scan command.
func (c *Scan) Run(appCtx *actx.Context) error {
	targets, err := probe.ParseTargets(c.MaxTargets, c.Targets...)
	if err != nil {
		return aerrors.NewWithCause("failed parsing scan targets", err)
	}

	prober, err := probe.New(
		probe.WithTimeout(c.Timeout),
		probe.WithConcurrency(c.Concurrency),
	)
	if err != nil {
		return aerrors.NewWithCause("failed creating the prober", err)
	}

	items := appCtx.Config.ChangeItems()
	results := prober.ScanAll(appCtx.Ctx, targets, items)

	var (
		rows      [][]string
		reachable int
	)
	for _, r := range results {
		if !r.Status.Blocked() {
			reachable++
		}
		rows = append(rows, []string{
			r.Target.String(),
			fmt.Sprintf("%s/%d", r.Protocol, r.Port),
			string(r.Status),
			r.Detail,
		})
	}

	if err := renderTable([]string{"Target", "Port", "Status", "Detail"}, rows, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering scan results", err)
	}

	if reachable > 0 {
		return aerrors.NewWith("some configured ports are not blocked from this vantage point",
			"reachable", reachable)
	}

	fmt.Fprintf(appCtx.Stdout, "\nAll configured ports are blocked or unreachable.\n")
	return nil
}
