package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// riskCheck validates the execution against the user's risk envelope and
// returns the notional scale factor in (0, 1]. Oversized notionals are
// scaled down; a capped user (too many open orders, daily loss breached)
// is refused outright rather than partially executed.
func (e *Executor) riskCheck(ctx context.Context, userID string, opp domain.Opportunity) (float64, domain.RiskLimit, error) {
	limit, err := e.risks.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, limit, domain.RiskCheckFailed("no risk limits configured for user %s", userID)
		}
		return 0, limit, fmt.Errorf("executor: load risk limits: %w", err)
	}

	scale := 1.0
	if limit.MaxPositionUSD > 0 && opp.Notional > limit.MaxPositionUSD {
		scale = limit.MaxPositionUSD / opp.Notional
	}

	active, err := e.orders.CountActive(ctx, userID)
	if err != nil {
		return 0, limit, fmt.Errorf("executor: count active orders: %w", err)
	}
	if active >= limit.MaxOpenOrders {
		return 0, limit, domain.RiskCheckFailed("too many open orders (%d, limit %d)", active, limit.MaxOpenOrders)
	}

	dayStart := startOfDayUTC(time.Now().UTC())
	loss, err := e.orders.DailyRealizedLoss(ctx, userID, dayStart)
	if err != nil {
		return 0, limit, fmt.Errorf("executor: daily realized loss: %w", err)
	}
	if limit.MaxDailyLossUSD > 0 && loss >= limit.MaxDailyLossUSD {
		return 0, limit, domain.RiskCheckFailed("daily loss limit reached ($%.2f of $%.2f)", loss, limit.MaxDailyLossUSD)
	}

	// Leverage only ever shrinks the allowed size: sub-1x margin caps the
	// effective notional, above-1x grants nothing extra.
	if hasPerpLeg(opp) {
		lev := limit.MaxLeverage
		if lev <= 0 || lev > 1 {
			lev = 1
		}
		allowed := limit.MaxPositionUSD * lev
		if allowed > 0 && opp.Notional*scale > allowed {
			scale = allowed / opp.Notional
		}
	}

	return scale, limit, nil
}

func hasPerpLeg(opp domain.Opportunity) bool {
	for _, leg := range opp.Legs {
		if leg.Kind == domain.VenueKindPerp {
			return true
		}
	}
	return false
}

func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
