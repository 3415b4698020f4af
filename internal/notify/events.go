package notify

import (
	"context"
	"fmt"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// OpportunityExecuted reports a completed auto-trade or manual execution.
func (n *Notifier) OpportunityExecuted(ctx context.Context, userID string, opp domain.Opportunity, status string) {
	title := fmt.Sprintf("Executed %s on %s", opp.Type, opp.Symbol)
	message := fmt.Sprintf(
		"user: %s\nspread: %.1f bps\nexpected pnl: %.2f%%\nnotional: $%.0f\nstatus: %s",
		userID, opp.SpreadBps, opp.ExpectedPnLPct, opp.Notional, status,
	)
	_ = n.Notify(ctx, EventOpportunityExecuted, title, message)
}

// PositionClosed reports a finalized position close, successful or not.
func (n *Notifier) PositionClosed(ctx context.Context, pos domain.Position, status domain.PositionStatus) {
	title := fmt.Sprintf("Position %s: %s %s", status, pos.Type, pos.Symbol)
	message := fmt.Sprintf(
		"user: %s\nreason: %s\npnl: %.2f%% ($%.2f)\nnotional: $%.0f",
		pos.UserID, pos.ExitReason, pos.LivePnLPct, pos.LivePnLUSD, pos.EntryNotional,
	)
	_ = n.Notify(ctx, EventPositionClosed, title, message)
}

// SystemError reports a fault an operator should look at.
func (n *Notifier) SystemError(ctx context.Context, component string, err error) {
	_ = n.Notify(ctx, EventError, "Error in "+component, err.Error())
}
