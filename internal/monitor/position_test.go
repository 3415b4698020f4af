package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/connector"
	"github.com/junheony/arbitrage-full/internal/domain"
)

func positionFixture(snaps []domain.FundingSnapshot) (*PositionMonitor, *memPositionStore) {
	positions := newMemPositionStore()
	source := &stubFundingSource{name: "perps", snaps: snaps}
	m := NewPositionMonitor(positions, []connector.FundingSource{source}, 10*time.Second, 0.05, testLogger())
	return m, positions
}

func fundingPosition(entryLong, entryShort float64) domain.Position {
	return domain.Position{
		ID:            "p1",
		UserID:        "u1",
		Type:          domain.OpportunityFundingArb,
		Symbol:        "BTC/USDT:USDT",
		Status:        domain.PositionStatusOpen,
		EntryNotional: 10000,
		TargetProfit:  10,
		StopLoss:      5,
		OpenedAt:      time.Now().UTC(),
		EntryLegs: []domain.Leg{
			{Venue: "binance_perp", Kind: domain.VenueKindPerp, Side: domain.OrderSideBuy, Symbol: "BTC/USDT:USDT", Price: entryLong, Quantity: 1},
			{Venue: "bybit_perp", Kind: domain.VenueKindPerp, Side: domain.OrderSideSell, Symbol: "BTC/USDT:USDT", Price: entryShort, Quantity: 1},
		},
	}
}

func perpSnap(venue string, bid, ask float64) domain.FundingSnapshot {
	return domain.FundingSnapshot{
		Venue:     venue,
		Symbol:    "BTC/USDT",
		BaseAsset: "BTC",
		Bid:       bid,
		Ask:       ask,
		MarkPrice: (bid + ask) / 2,
	}
}

func TestFundingArbPnLAndTargetProfitTrigger(t *testing.T) {
	snaps := []domain.FundingSnapshot{
		perpSnap("binance_perp", 100.5, 100.6),
		perpSnap("bybit_perp", 100.1, 100.2),
	}
	m, positions := positionFixture(snaps)

	pos := fundingPosition(100, 100.2)
	pos.TargetProfit = 0.05
	positions.add(pos)

	require.NoError(t, m.Cycle(context.Background()))

	// Exit spread 100.5-100.2=0.3 vs entry spread 0.2: improvement of 0.1
	// on an average entry of 100.1.
	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0999, got.LivePnLPct, 0.001)
	assert.Equal(t, domain.PositionStatusClosing, got.Status)
	assert.Equal(t, domain.CloseReasonTargetProfit, got.ExitReason)
}

func TestFundingArbAccruesFundingLinearly(t *testing.T) {
	snaps := []domain.FundingSnapshot{
		perpSnap("binance_perp", 100.0, 100.1),
		perpSnap("bybit_perp", 99.7, 99.8),
	}
	m, positions := positionFixture(snaps)

	pos := fundingPosition(100, 100.2)
	pos.Metadata = map[string]any{"funding_diff_8h_pct": 0.08}
	positions.add(pos)
	m.nowFn = func() time.Time { return pos.OpenedAt.Add(16 * time.Hour) }

	require.NoError(t, m.Cycle(context.Background()))

	// Spread leg: exit 100.0-99.8=0.2 equals entry 0.2, so spread PnL is
	// zero; funding accrues two full 8h periods at 0.08%.
	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.InDelta(t, 0.16, got.LivePnLPct, 0.001)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestFundingArbStopLossTrigger(t *testing.T) {
	snaps := []domain.FundingSnapshot{
		perpSnap("binance_perp", 95.0, 95.1),
		perpSnap("bybit_perp", 100.1, 100.2),
	}
	m, positions := positionFixture(snaps)
	positions.add(fundingPosition(100, 100.2))

	require.NoError(t, m.Cycle(context.Background()))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosing, got.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, got.ExitReason)
	assert.Negative(t, got.LivePnLPct)
}

func TestFundingArbSpreadConvergedTrigger(t *testing.T) {
	snaps := []domain.FundingSnapshot{
		perpSnap("binance_perp", 100.0, 100.1),
		perpSnap("bybit_perp", 99.86, 99.96),
	}
	m, positions := positionFixture(snaps)
	positions.add(fundingPosition(100, 100.2))

	require.NoError(t, m.Cycle(context.Background()))

	// Exit spread 100.0-99.96=0.04 is under 0.05% of the 100.1 entry.
	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosing, got.Status)
	assert.Equal(t, domain.CloseReasonSpreadConverged, got.ExitReason)
}

func TestPerpSpreadConvergencePnL(t *testing.T) {
	snaps := []domain.FundingSnapshot{
		perpSnap("binance_perp", 100.05, 100.15),
		perpSnap("bybit_perp", 100.35, 100.45),
	}
	m, positions := positionFixture(snaps)

	pos := fundingPosition(100, 100.3)
	pos.Type = domain.OpportunityPerpSpread
	positions.add(pos)

	require.NoError(t, m.Cycle(context.Background()))

	// Entry spread 0.3 narrowed to |100.1-100.4| = 0.3... stays open.
	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.InDelta(t, 0.0, got.LivePnLPct, 0.001)
}

func TestPerpSpreadConvergedTrigger(t *testing.T) {
	snaps := []domain.FundingSnapshot{
		perpSnap("binance_perp", 100.08, 100.12),
		perpSnap("bybit_perp", 100.10, 100.18),
	}
	m, positions := positionFixture(snaps)

	pos := fundingPosition(100, 100.3)
	pos.Type = domain.OpportunityPerpSpread
	positions.add(pos)

	require.NoError(t, m.Cycle(context.Background()))

	// Mids 100.10 and 100.14: spread 0.04 is under 0.05% of entry.
	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosing, got.Status)
	assert.Equal(t, domain.CloseReasonSpreadConverged, got.ExitReason)
	assert.Positive(t, got.LivePnLPct)
}

func TestSpotPerpBasisIsNoOp(t *testing.T) {
	m, positions := positionFixture(nil)

	pos := fundingPosition(100, 100.2)
	pos.Type = domain.OpportunitySpotPerpBasis
	positions.add(pos)

	require.NoError(t, m.Cycle(context.Background()))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Empty(t, positions.pnlCalls["p1"], "basis positions are not marked")
}

func TestMissingMarketDataSkipsPosition(t *testing.T) {
	m, positions := positionFixture([]domain.FundingSnapshot{
		perpSnap("binance_perp", 100.0, 100.1),
		// bybit_perp missing this cycle
	})
	positions.add(fundingPosition(100, 100.2))

	require.NoError(t, m.Cycle(context.Background()))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Empty(t, positions.pnlCalls["p1"])
}
