package monitor

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/junheony/arbitrage-full/internal/connector"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// PositionMonitor marks live PnL on open positions and flags those whose
// exit trigger has fired. It only ever transitions open → closing; exit
// order submission belongs to the PositionCloser.
type PositionMonitor struct {
	positions domain.PositionStore
	perps     []connector.FundingSource

	interval     time.Duration
	convergedPct float64 // exit spread below this % of entry triggers close

	logger *slog.Logger
	nowFn  func() time.Time
}

// NewPositionMonitor builds a PositionMonitor over the perp market data
// sources. convergedPct is the spread-converged trigger threshold as a
// percentage of the entry price.
func NewPositionMonitor(
	positions domain.PositionStore,
	perps []connector.FundingSource,
	interval time.Duration,
	convergedPct float64,
	logger *slog.Logger,
) *PositionMonitor {
	return &PositionMonitor{
		positions:    positions,
		perps:        perps,
		interval:     interval,
		convergedPct: convergedPct,
		logger:       logger.With(slog.String("component", "position_monitor")),
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until the context is cancelled.
func (m *PositionMonitor) Run(ctx context.Context) error {
	m.logger.Info("position monitor started", slog.Duration("interval", m.interval))
	defer m.logger.Info("position monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Cycle(ctx); err != nil {
				m.logger.Error("position cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Cycle updates live PnL for every open position and marks triggered
// ones closing. Per-position errors are isolated.
func (m *PositionMonitor) Cycle(ctx context.Context) error {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	snaps := m.fetchSnapshots(ctx)
	for _, pos := range open {
		reason, ok := m.updateOne(ctx, pos, snaps)
		if !ok {
			continue
		}
		if reason != "" {
			if err := m.positions.MarkClosing(ctx, pos.ID, reason); err != nil {
				m.logger.Error("mark closing failed",
					slog.String("position_id", pos.ID), slog.Any("error", err))
				continue
			}
			m.logger.Info("position marked for closing",
				slog.String("position_id", pos.ID),
				slog.String("reason", string(reason)))
		}
	}
	return nil
}

// fetchSnapshots polls every perp source once for the cycle, keyed by
// (venue, base asset). A failing source reduces coverage only.
func (m *PositionMonitor) fetchSnapshots(ctx context.Context) map[string]domain.FundingSnapshot {
	snaps := make(map[string]domain.FundingSnapshot)
	for _, src := range m.perps {
		ss, err := src.FetchFundingSnapshots(ctx)
		if err != nil {
			m.logger.Warn("market data fetch failed",
				slog.String("venue", src.Name()), slog.Any("error", err))
			continue
		}
		for _, s := range ss {
			snaps[snapshotKey(s.Venue, s.BaseAsset)] = s
		}
	}
	return snaps
}

// updateOne computes and persists PnL for one position, returning a
// non-empty close reason when a trigger fired. ok is false when the
// position could not be evaluated this cycle.
func (m *PositionMonitor) updateOne(ctx context.Context, pos domain.Position, snaps map[string]domain.FundingSnapshot) (domain.CloseReason, bool) {
	var (
		pnlPct float64
		reason domain.CloseReason
		ok     bool
	)
	switch pos.Type {
	case domain.OpportunityFundingArb:
		pnlPct, reason, ok = m.fundingArbPnL(pos, snaps)
	case domain.OpportunityPerpSpread:
		pnlPct, reason, ok = m.perpSpreadPnL(pos, snaps)
	case domain.OpportunitySpotPerpBasis:
		// Dormant, like its detector.
		m.logger.Info("spot-perp basis PnL not implemented",
			slog.String("position_id", pos.ID))
		return "", false
	default:
		m.logger.Warn("unknown position type",
			slog.String("position_id", pos.ID), slog.String("type", string(pos.Type)))
		return "", false
	}
	if !ok {
		return "", false
	}

	pnlUSD := pnlPct / 100 * pos.EntryNotional
	if err := m.positions.UpdateLivePnL(ctx, pos.ID, pnlPct, pnlUSD); err != nil {
		m.logger.Error("live pnl update failed",
			slog.String("position_id", pos.ID), slog.Any("error", err))
		return "", false
	}
	return reason, true
}

// fundingArbPnL values a long/short funding pair: the spread improvement
// achievable on exit today versus entry, as a percentage of the average
// entry price, plus funding accrued linearly at the expected 8h rate.
func (m *PositionMonitor) fundingArbPnL(pos domain.Position, snaps map[string]domain.FundingSnapshot) (float64, domain.CloseReason, bool) {
	long, short, ok := longShortLegs(pos.EntryLegs)
	if !ok {
		m.logger.Warn("funding position missing long/short legs", slog.String("position_id", pos.ID))
		return 0, "", false
	}
	asset := legBaseAsset(long)
	longMkt, okL := snaps[snapshotKey(long.Venue, asset)]
	shortMkt, okS := snaps[snapshotKey(short.Venue, asset)]
	if !okL || !okS {
		m.logger.Warn("missing market data for position", slog.String("position_id", pos.ID))
		return 0, "", false
	}

	// Exit reverses entry: sell where we bought, buy where we sold.
	exitSpread := longMkt.Bid - shortMkt.Ask
	entrySpread := short.Price - long.Price
	avgEntry := (long.Price + short.Price) / 2
	if avgEntry <= 0 {
		return 0, "", false
	}
	spreadPnLPct := (exitSpread - entrySpread) / avgEntry * 100

	hoursOpen := m.nowFn().Sub(pos.OpenedAt).Hours()
	accrued := metadataFloat(pos.Metadata, "funding_diff_8h_pct") * hoursOpen / 8

	pnlPct := spreadPnLPct + accrued
	switch {
	case pnlPct >= pos.TargetProfit:
		return pnlPct, domain.CloseReasonTargetProfit, true
	case pnlPct <= -pos.StopLoss:
		return pnlPct, domain.CloseReasonStopLoss, true
	case math.Abs(exitSpread/avgEntry*100) < m.convergedPct:
		return pnlPct, domain.CloseReasonSpreadConverged, true
	}
	return pnlPct, "", true
}

// perpSpreadPnL values a two-venue price spread: convergence of the
// current absolute spread toward zero is the profit.
func (m *PositionMonitor) perpSpreadPnL(pos domain.Position, snaps map[string]domain.FundingSnapshot) (float64, domain.CloseReason, bool) {
	if len(pos.EntryLegs) < 2 {
		m.logger.Warn("spread position has insufficient legs", slog.String("position_id", pos.ID))
		return 0, "", false
	}
	leg1, leg2 := pos.EntryLegs[0], pos.EntryLegs[1]
	asset := legBaseAsset(leg1)
	mkt1, ok1 := snaps[snapshotKey(leg1.Venue, asset)]
	mkt2, ok2 := snaps[snapshotKey(leg2.Venue, asset)]
	if !ok1 || !ok2 {
		m.logger.Warn("missing market data for position", slog.String("position_id", pos.ID))
		return 0, "", false
	}

	entrySpread, _ := pos.EntrySpread()
	currentSpread := math.Abs(mkt1.Mid() - mkt2.Mid())
	avgEntry := pos.AvgEntryPrice()
	if avgEntry <= 0 {
		return 0, "", false
	}
	pnlPct := (entrySpread - currentSpread) / avgEntry * 100

	switch {
	case pnlPct >= pos.TargetProfit:
		return pnlPct, domain.CloseReasonTargetProfit, true
	case pnlPct <= -pos.StopLoss:
		return pnlPct, domain.CloseReasonStopLoss, true
	case currentSpread/avgEntry*100 < m.convergedPct:
		return pnlPct, domain.CloseReasonSpreadConverged, true
	}
	return pnlPct, "", true
}

func longShortLegs(legs []domain.Leg) (long, short domain.Leg, ok bool) {
	var haveLong, haveShort bool
	for _, leg := range legs {
		switch leg.Side {
		case domain.OrderSideBuy:
			if !haveLong {
				long, haveLong = leg, true
			}
		case domain.OrderSideSell:
			if !haveShort {
				short, haveShort = leg, true
			}
		}
	}
	return long, short, haveLong && haveShort
}

func snapshotKey(venue, baseAsset string) string {
	return venue + "|" + baseAsset
}

func legBaseAsset(leg domain.Leg) string {
	sym := leg.Symbol
	if i := strings.IndexByte(sym, '/'); i >= 0 {
		return sym[:i]
	}
	return sym
}

// metadataFloat tolerates both float64 (in-process) and json.Number-free
// decoded values for a metadata key, returning 0 when absent.
func metadataFloat(meta map[string]any, key string) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
