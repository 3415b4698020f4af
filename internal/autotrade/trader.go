package autotrade

import (
	"context"
	"log/slog"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/executor"
	"github.com/junheony/arbitrage-full/internal/metrics"
	"github.com/junheony/arbitrage-full/internal/notify"
)

// OpportunitySource provides the latest detected opportunity snapshot.
type OpportunitySource interface {
	Latest() []domain.Opportunity
}

// Executor submits the orders for an opportunity on behalf of a user.
type Executor interface {
	Execute(ctx context.Context, userID string, opp domain.Opportunity, dryRun bool) (executor.Result, error)
}

// Trader polls the opportunity source for one user and executes every new
// opportunity its strategy accepts. Opportunity ids regenerate each engine
// tick, so the seen set keys on the id of the snapshot entry actually acted
// on, not on the underlying market condition.
type Trader struct {
	source   OpportunitySource
	exec     Executor
	userID   string
	strategy Strategy
	interval time.Duration
	dryRun   bool
	seen     *seenSet
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewTrader builds a trader for one user. seenTTL bounds how long executed
// opportunity ids are remembered.
func NewTrader(
	source OpportunitySource,
	exec Executor,
	userID string,
	strategy Strategy,
	interval time.Duration,
	seenTTL time.Duration,
	dryRun bool,
	logger *slog.Logger,
) *Trader {
	return &Trader{
		source:   source,
		exec:     exec,
		userID:   userID,
		strategy: strategy,
		interval: interval,
		dryRun:   dryRun,
		seen:     newSeenSet(seenTTL),
		logger: logger.With(
			slog.String("component", "autotrade"),
			slog.String("user_id", userID),
			slog.String("strategy", strategy.Name()),
		),
	}
}

// WithNotifier enables execution notifications. A nil notifier is allowed.
func (t *Trader) WithNotifier(n *notify.Notifier) *Trader {
	t.notifier = n
	return t
}

// UserID returns the user this trader trades for.
func (t *Trader) UserID() string { return t.userID }

// StrategyName returns the wire name of the active strategy.
func (t *Trader) StrategyName() string { return t.strategy.Name() }

// DryRun reports whether the trader only simulates executions.
func (t *Trader) DryRun() bool { return t.dryRun }

// Run polls until ctx is cancelled.
func (t *Trader) Run(ctx context.Context) {
	t.logger.Info("auto trader started",
		slog.Duration("check_interval", t.interval),
		slog.Bool("dry_run", t.dryRun))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("auto trader stopped")
			return
		case <-ticker.C:
			t.Cycle(ctx)
		}
	}
}

// Cycle evaluates the current snapshot once. Exported so the cycle can be
// driven directly in tests.
func (t *Trader) Cycle(ctx context.Context) {
	t.seen.Cleanup()

	for _, opp := range t.source.Latest() {
		if !t.strategy.ShouldExecute(opp) {
			continue
		}
		if !t.seen.MarkIfNew(opp.ID) {
			continue
		}
		t.executeOne(ctx, opp)
	}
}

func (t *Trader) executeOne(ctx context.Context, opp domain.Opportunity) {
	t.logger.Info("auto executing opportunity",
		slog.String("opportunity_id", opp.ID),
		slog.String("type", string(opp.Type)),
		slog.Bool("dry_run", t.dryRun),
		slog.String("description", opp.Description))

	res, err := t.exec.Execute(ctx, t.userID, opp, t.dryRun)
	metrics.AutoTradeExecutions.WithLabelValues(res.Status).Inc()
	if err != nil {
		t.logger.Warn("auto execution failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("status", res.Status),
			slog.String("error", err.Error()))
		return
	}
	t.logger.Info("auto execution result",
		slog.String("opportunity_id", opp.ID),
		slog.String("status", res.Status),
		slog.String("message", res.Message))
	if !t.dryRun {
		t.notifier.OpportunityExecuted(ctx, t.userID, opp, res.Status)
	}
}
