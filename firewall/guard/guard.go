// Package guard orchestrates the application of reversible firewall changes
// with an automatic confirm-or-rollback safety window.
//
// A run moves through a fixed phase sequence: strict precondition
// verification, snapshot of the current state, rule application, and a
// bounded wait for an operator confirmation signal. Confirmation commits the
// change permanently; a timeout, an apply failure, or an unexpected panic in
// the wait loop triggers an escalating rollback. The guard refuses to start
// unless the host state is exactly as expected, so a refusal always means
// zero side effects.
package guard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"go.hackfix.me/fwguard/firewall/backup"
	"go.hackfix.me/fwguard/firewall/inspect"
	"go.hackfix.me/fwguard/firewall/types"
)

// Phase identifies a state of the orchestration state machine.
type Phase string

// All orchestration phases, in order of progression. The three final phases
// are terminal.
const (
	PhaseInit                 Phase = "INIT"
	PhaseVerified             Phase = "VERIFIED"
	PhaseBackedUp             Phase = "BACKED_UP"
	PhaseApplied              Phase = "APPLIED"
	PhaseAwaitingConfirmation Phase = "AWAITING_CONFIRMATION"
	PhaseCommitted            Phase = "COMMITTED"
	PhaseRolledBack           Phase = "ROLLED_BACK"
	PhaseRollbackPartial      Phase = "ROLLBACK_PARTIAL"
)

// Outcome is the final result of a run.
type Outcome string

// All run outcomes. OutcomeAborted means the run refused or failed before
// any change was applied, so nothing had to be rolled back.
const (
	OutcomeAborted         Outcome = "aborted"
	OutcomeCommitted       Outcome = "committed"
	OutcomeRolledBack      Outcome = "rolled_back"
	OutcomeRollbackPartial Outcome = "rollback_partial"
)

// PreconditionError indicates that a precondition check refused the run.
// No side effects have occurred when it is returned.
type PreconditionError struct {
	Check  string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("refused: precondition '%s' failed", e.Check)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to work.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// ApplyError indicates that a single change item failed to apply. The
// change set is partially applied at that point, and the guard transitions
// to the rollback path immediately.
type ApplyError struct {
	Item   types.ChangeItem
	Family types.Family
	Err    error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed applying %s for %s: %v", e.Item, e.Family, e.Err)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// State is the mutable orchestration state for a single run. The confirmed
// flag is the only field written from the asynchronous signal path; all
// other fields are owned by the main control flow.
type State struct {
	Phase          Phase
	BackupCreated  bool
	ChangesApplied bool

	confirmed atomic.Bool
}

// Confirmed reports whether the operator confirmation signal was received.
func (s *State) Confirmed() bool {
	return s.confirmed.Load()
}

// Report describes the result of a run in enough detail to drive manual
// recovery when automation is exhausted.
type Report struct {
	Outcome Outcome
	Phase   Phase
	// PersistWarning is set when the committed rules could not be saved
	// permanently. The change is still active, it just may not survive a
	// reboot.
	PersistWarning error
	// Rollback describes the rollback attempts, if any were made.
	Rollback *RollbackReport
	// SnapshotPaths lists retained snapshot files for manual recovery.
	// Empty unless the rollback was partial.
	SnapshotPaths []string
}

// Guard applies a set of block rules and either commits them on operator
// confirmation or rolls them back. A Guard instance performs a single run;
// concurrent runs on the same host are excluded by the snapshot-presence
// precondition, not by locking.
type Guard struct {
	exec    types.Executor
	backups *backup.Manager
	items   []types.ChangeItem

	chain          string
	expectedPolicy types.Action
	timeout        time.Duration
	tick           time.Duration
	retryAttempts  int
	retryBackoff   time.Duration
	signals        []os.Signal
	confirmCh      <-chan struct{}

	logger  *slog.Logger
	out     io.Writer
	timeNow func() time.Time
	sleep   func(time.Duration)

	state *State
}

// New returns a new Guard for the given change items.
func New(exec types.Executor, backups *backup.Manager, items []types.ChangeItem, opts ...Option) (*Guard, error) {
	if exec == nil {
		return nil, fmt.Errorf("a firewall executor is required")
	}
	if backups == nil {
		return nil, fmt.Errorf("a backup manager is required")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one change item is required")
	}

	g := &Guard{exec: exec, backups: backups, items: items}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// Run drives the full orchestration. It returns a non-nil error when the
// run was refused, the backup failed, or a change item failed to apply; a
// rollback triggered by a confirmation timeout is reported through the
// Report alone. The Report is non-nil in all cases.
func (g *Guard) Run(ctx context.Context) (*Report, error) {
	g.state = &State{Phase: PhaseInit}
	report := &Report{Outcome: OutcomeAborted, Phase: PhaseInit}

	if err := g.verifyPreconditions(ctx); err != nil {
		return report, err
	}
	g.transition(PhaseVerified)

	if err := g.backups.Create(ctx); err != nil {
		// No mutation has been performed yet, so aborting is safe.
		report.Phase = g.state.Phase
		return report, err
	}
	g.state.BackupCreated = true
	g.transition(PhaseBackedUp)

	if err := g.apply(ctx); err != nil {
		g.logger.Error("apply failed, rolling back", "error", err)
		g.finishRollback(ctx, report)
		return report, err
	}
	g.state.ChangesApplied = true
	g.transition(PhaseApplied)

	g.transition(PhaseAwaitingConfirmation)
	if g.awaitConfirmation(ctx) {
		g.commit(ctx, report)
		return report, nil
	}

	g.logger.Warn("no confirmation received, rolling back",
		"timeout", g.timeout,
	)
	g.finishRollback(ctx, report)
	return report, nil
}

func (g *Guard) transition(phase Phase) {
	g.logger.Info("phase transition", "from", g.state.Phase, "to", phase)
	g.state.Phase = phase
}

// verifyPreconditions runs every precondition check. Any failure, including
// an ambiguous observation, refuses the run before any command is issued
// against the chain.
func (g *Guard) verifyPreconditions(ctx context.Context) error {
	if err := g.exec.Ready(); err != nil {
		return &PreconditionError{Check: "environment", Err: err}
	}
	g.logger.Info("precondition ok", "check", "environment")

	// Checked before any chain command is issued: a snapshot pair on disk
	// is evidence of an incomplete prior run.
	if g.backups.Exists() {
		return &PreconditionError{
			Check:  "no stale snapshot",
			Detail: fmt.Sprintf("snapshot files exist from a previous run: %v", g.backups.Paths()),
		}
	}
	g.logger.Info("precondition ok", "check", "no stale snapshot")

	for _, fam := range types.Families() {
		chain, err := g.listChain(ctx, fam)
		if err != nil {
			return &PreconditionError{Check: "chain format", Detail: string(fam), Err: err}
		}
		g.logger.Info("precondition ok", "check", "chain format", "family", fam)

		if !inspect.IsEmpty(chain) {
			return &PreconditionError{
				Check:  "empty chain",
				Detail: fmt.Sprintf("%s %s chain already carries %d rules", fam, g.chain, len(chain.Rules)),
			}
		}
		g.logger.Info("precondition ok", "check", "empty chain", "family", fam)

		if chain.Policy != g.expectedPolicy {
			return &PreconditionError{
				Check:  "chain policy",
				Detail: fmt.Sprintf("%s %s policy is %s, expected %s", fam, g.chain, chain.Policy, g.expectedPolicy),
			}
		}
		g.logger.Info("precondition ok", "check", "chain policy", "family", fam)
	}

	return nil
}

// listChain lists and parses the managed chain for one address family.
func (g *Guard) listChain(ctx context.Context, fam types.Family) (*types.Chain, error) {
	text, err := g.exec.ListChain(ctx, fam)
	if err != nil {
		return nil, fmt.Errorf("failed listing %s chain: %w", fam, err)
	}
	chain, err := inspect.Parse(text, g.chain)
	if err != nil {
		return nil, fmt.Errorf("failed parsing %s chain listing: %w", fam, err)
	}
	return chain, nil
}

// apply appends every change item for every address family, in input order.
// It aborts on the first failure: a partially-applied block list is unsafe,
// so the caller rolls back rather than continuing.
func (g *Guard) apply(ctx context.Context) error {
	for _, item := range g.items {
		for _, fam := range types.Families() {
			if err := g.exec.AppendBlockRule(ctx, fam, item.Protocol, item.Port); err != nil {
				return &ApplyError{Item: item, Family: fam, Err: err}
			}
			g.logger.Info("rule applied",
				"family", fam,
				"rule", item.String(),
				"description", item.Description,
			)
		}
	}
	return nil
}

// awaitConfirmation arms the confirmation signal handler and waits for
// either the confirmation or the deadline, polling once per tick. The
// handler only records the confirmation; commit and rollback logic always
// run on the main control path. A panic inside the loop is treated exactly
// like a timeout.
func (g *Guard) awaitConfirmation(ctx context.Context) (confirmed bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("unexpected failure while awaiting confirmation, treating as timeout", "panic", r)
			confirmed = false
		}
	}()

	stop := g.armConfirm()
	defer stop()

	fmt.Fprintf(g.out, "\nRules applied temporarily. Test your connection NOW.\n")
	fmt.Fprintf(g.out, "Send SIGINT (Ctrl+C) or SIGTERM within %s to COMMIT; otherwise the change is rolled back.\n\n",
		g.timeout)

	deadline := g.timeNow().Add(g.timeout)
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if g.state.Confirmed() {
				fmt.Fprintf(g.out, "\nConfirmation received.\n")
				return true
			}
			remaining := deadline.Sub(g.timeNow())
			if remaining <= 0 {
				fmt.Fprintf(g.out, "\nNo confirmation within %s.\n", g.timeout)
				return false
			}
			secs := int(remaining.Round(time.Second).Seconds())
			if secs%30 == 0 || secs < 10 {
				fmt.Fprintf(g.out, "  time remaining: %02d:%02d  [Ctrl+C to commit]\n", secs/60, secs%60)
			}
		case <-ctx.Done():
			// Context cancellation has no confirm-without-effect meaning;
			// it is handled like an elapsed deadline.
			return false
		}
	}
}

// armConfirm installs the confirmation handler and returns a function that
// removes it. The handler performs exactly one side effect: setting the
// confirmed flag.
func (g *Guard) armConfirm() (stop func()) {
	done := make(chan struct{})

	if g.confirmCh != nil {
		go func() {
			select {
			case <-g.confirmCh:
				g.state.confirmed.Store(true)
			case <-done:
			}
		}()
		return func() { close(done) }
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, g.signals...)
	go func() {
		select {
		case <-sigCh:
			g.state.confirmed.Store(true)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// commit persists the applied rules permanently and discards the snapshot.
// A persistence failure is a warning, not an error: the rules are active,
// they just aren't guaranteed to survive a reboot.
func (g *Guard) commit(ctx context.Context, report *Report) {
	if err := g.exec.PersistRules(ctx); err != nil {
		g.logger.Warn("failed persisting rules permanently; they may not survive a reboot", "error", err)
		report.PersistWarning = err
	} else {
		g.logger.Info("rules persisted permanently")
	}

	g.backups.Discard()

	g.transition(PhaseCommitted)
	report.Outcome = OutcomeCommitted
	report.Phase = PhaseCommitted
}

// finishRollback runs the rollback strategy and records the result in the
// report and final phase.
func (g *Guard) finishRollback(ctx context.Context, report *Report) {
	rr := g.rollback(ctx)
	report.Rollback = rr

	if rr.Complete {
		g.backups.Discard()
		g.transition(PhaseRolledBack)
		report.Outcome = OutcomeRolledBack
		report.Phase = PhaseRolledBack
		return
	}

	report.SnapshotPaths = g.backups.Paths()
	g.logger.Error("rollback incomplete, manual intervention may be needed",
		"snapshot_paths", report.SnapshotPaths,
	)
	g.transition(PhaseRollbackPartial)
	report.Outcome = OutcomeRollbackPartial
	report.Phase = PhaseRollbackPartial
}
