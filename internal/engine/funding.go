package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// detectFundingArb pairs perp venues with diverging funding rates on the
// same asset: long the venue paying less, short the venue paying more,
// collect the differential while the price legs hedge each other.
func (e *Engine) detectFundingArb(perpData []domain.FundingSnapshot) []domain.Opportunity {
	byAsset := groupLiquidPerps(perpData, e.cfg.Funding.MinOpenInterest)
	notional := e.cfg.Engine.BaseNotionalUSD

	var opps []domain.Opportunity
	for asset, perps := range byAsset {
		if len(perps) < 2 {
			continue
		}
		for i := 0; i < len(perps); i++ {
			for j := i + 1; j < len(perps); j++ {
				p1, p2 := perps[i], perps[j]
				diff8h := p1.FundingRate8h - p2.FundingRate8h
				if math.Abs(diff8h) < e.cfg.Funding.MinDifferential/100 {
					continue
				}

				totalSpreadBps := p1.SpreadBps() + p2.SpreadBps()
				if totalSpreadBps > e.cfg.Funding.MaxPairSpreadBps {
					continue
				}

				// Long the cheaper-funding leg, short the richer one.
				long, short := p1, p2
				if p1.FundingRate8h > p2.FundingRate8h {
					long, short = p2, p1
				}

				expectedPct := math.Abs(diff8h)*100 - totalSpreadBps/100
				if expectedPct <= e.cfg.Engine.MinProfitPct/100 {
					continue
				}
				if long.MarkPrice <= 0 {
					continue
				}
				quantity := round6(notional / long.MarkPrice)

				opps = append(opps, domain.Opportunity{
					ID:             uuid.NewString(),
					Type:           domain.OpportunityFundingArb,
					Symbol:         asset + "/USDT:USDT",
					SpreadBps:      round3(math.Abs(diff8h) * 10000),
					ExpectedPnLPct: round3(expectedPct),
					Notional:       round2(notional),
					Timestamp:      time.Now().UTC(),
					Description: fmt.Sprintf("Funding arb %s: long %s (%.4f%%/8h) short %s (%.4f%%/8h)",
						asset, long.Venue, long.FundingRate8h*100, short.Venue, short.FundingRate8h*100),
					Legs: []domain.Leg{
						{Venue: long.Venue, Kind: domain.VenueKindPerp, Side: domain.OrderSideBuy, Symbol: asset + "/USDT:USDT", Price: long.Ask, Quantity: quantity},
						{Venue: short.Venue, Kind: domain.VenueKindPerp, Side: domain.OrderSideSell, Symbol: asset + "/USDT:USDT", Price: short.Bid, Quantity: quantity},
					},
					Metadata: map[string]any{
						"funding_diff_8h_pct":  round4(math.Abs(diff8h) * 100),
						"funding_rate_apr":     round2(math.Abs(diff8h) * 100 * 3 * 365),
						"long_exchange":        long.Venue,
						"long_funding_8h_pct":  round4(long.FundingRate8h * 100),
						"long_oi_usd":          round2(long.OpenInterestUSD),
						"short_exchange":       short.Venue,
						"short_funding_8h_pct": round4(short.FundingRate8h * 100),
						"short_oi_usd":         round2(short.OpenInterestUSD),
						"total_spread_bps":     round2(totalSpreadBps),
					},
				})
			}
		}
	}
	return sortByExpectedPnL(opps, false)
}

// groupLiquidPerps buckets snapshots by base asset, keeping only venues
// with open interest above the floor.
func groupLiquidPerps(perpData []domain.FundingSnapshot, minOpenInterest float64) map[string][]domain.FundingSnapshot {
	byAsset := make(map[string][]domain.FundingSnapshot)
	for _, p := range perpData {
		if p.OpenInterestUSD < minOpenInterest {
			continue
		}
		byAsset[p.BaseAsset] = append(byAsset[p.BaseAsset], p)
	}
	return byAsset
}
