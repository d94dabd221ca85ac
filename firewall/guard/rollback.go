package guard

import (
	"context"
	"fmt"

	"go.hackfix.me/fwguard/firewall/types"
)

// RollbackReport describes the rollback attempts and their independent
// verification.
type RollbackReport struct {
	// Families records the per-family result.
	Families map[types.Family]FamilyRollback
	// Residual lists change items that were still found blocking in a chain
	// after all rollback attempts.
	Residual []ResidualItem
	// Complete is true iff every family rolled back successfully and the
	// verification found no residual rules.
	Complete bool
}

// FamilyRollback is the rollback result for a single address family.
type FamilyRollback struct {
	// Strategy is the name of the recovery strategy that reported success,
	// or empty if all of them were exhausted.
	Strategy string
	Success  bool
}

// ResidualItem is a change item whose rule survived the rollback.
type ResidualItem struct {
	Family types.Family
	Item   types.ChangeItem
}

// recoveryStrategy is one escalation step of the rollback. Strategies are
// tried in order until one reports success or the list is exhausted.
type recoveryStrategy struct {
	name string
	run  func(ctx context.Context, fam types.Family) error
}

func (g *Guard) strategies() []recoveryStrategy {
	return []recoveryStrategy{
		// Full restore of the pre-run state from the snapshot. The backup
		// manager retries the restore command internally.
		{name: "restore", run: g.backups.Restore},
		// Flush accepts a weaker guarantee: the chain ends up empty, not
		// necessarily identical to the pre-run state.
		{name: "flush", run: func(ctx context.Context, fam types.Family) error {
			return g.retry(fmt.Sprintf("flush %s chain", fam), func() error {
				return g.exec.FlushChain(ctx, fam)
			})
		}},
		{name: "delete", run: g.deleteRules},
	}
}

// rollback attempts to remove the applied changes from every address
// family independently, escalating through the recovery strategies, and
// then verifies the result through the inspector. The verification is an
// independent check: it is not trusted to agree with whichever strategy
// claimed success.
func (g *Guard) rollback(ctx context.Context) *RollbackReport {
	g.logger.Warn("rollback in progress, restoring previous state")

	report := &RollbackReport{Families: make(map[types.Family]FamilyRollback)}

	for _, fam := range types.Families() {
		result := FamilyRollback{}
		for _, strategy := range g.strategies() {
			err := strategy.run(ctx, fam)
			if err == nil {
				g.logger.Info("rollback strategy succeeded", "family", fam, "strategy", strategy.name)
				result = FamilyRollback{Strategy: strategy.name, Success: true}
				break
			}
			// Never re-thrown: the next escalation step still runs.
			g.logger.Warn("rollback strategy failed",
				"family", fam,
				"strategy", strategy.name,
				"error", err,
			)
		}
		report.Families[fam] = result
	}

	report.Residual = g.verifyRollback(ctx)

	report.Complete = len(report.Residual) == 0
	for _, fam := range types.Families() {
		if !report.Families[fam].Success {
			report.Complete = false
		}
	}

	return report
}

// deleteRules is the last escalation step: delete the applied rules one by
// one, in reverse application order, one attempt each. It succeeds only if
// every deletion succeeded.
func (g *Guard) deleteRules(ctx context.Context, fam types.Family) error {
	var failed int
	for i := len(g.items) - 1; i >= 0; i-- {
		item := g.items[i]
		if err := g.exec.DeleteBlockRule(ctx, fam, item.Protocol, item.Port); err != nil {
			g.logger.Warn("failed deleting rule", "family", fam, "rule", item.String(), "error", err)
			failed++
			continue
		}
		g.logger.Info("rule deleted", "family", fam, "rule", item.String())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules could not be deleted", failed, len(g.items))
	}
	return nil
}

// verifyRollback re-parses both chains and returns every change item that
// is still present as a blocking rule. Chains that can't be listed or
// parsed count all items as residual for that family, since their absence
// can't be confirmed.
func (g *Guard) verifyRollback(ctx context.Context) []ResidualItem {
	var residual []ResidualItem

	for _, fam := range types.Families() {
		chain, err := g.listChain(ctx, fam)
		if err != nil {
			g.logger.Error("failed verifying rollback", "family", fam, "error", err)
			for _, item := range g.items {
				residual = append(residual, ResidualItem{Family: fam, Item: item})
			}
			continue
		}

		for _, item := range g.items {
			for _, rule := range chain.Rules {
				if rule.Protocol == item.Protocol && rule.Port == item.Port && rule.Action.Blocks() {
					g.logger.Warn("rule still present after rollback", "family", fam, "rule", item.String())
					residual = append(residual, ResidualItem{Family: fam, Item: item})
					break
				}
			}
		}
	}

	if len(residual) == 0 {
		g.logger.Info("rollback verified, no applied rules remain")
	}

	return residual
}

// retry runs fn up to the configured number of attempts with a fixed
// backoff between them, returning the last error if all attempts fail.
// Retries are strictly sequential.
func (g *Guard) retry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= g.retryAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		g.logger.Warn("operation failed",
			"op", op,
			"attempt", fmt.Sprintf("%d/%d", attempt, g.retryAttempts),
			"error", lastErr,
		)
		if attempt < g.retryAttempts {
			g.sleep(g.retryBackoff)
		}
	}
	return lastErr
}
