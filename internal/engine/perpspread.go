package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// detectPerpSpread looks for outright price gaps between perp venues on
// the same asset: buy the cheap book's ask, sell the rich book's bid.
// Unlike funding arb the edge is the price spread itself, so both
// orderings of each pair are checked.
func (e *Engine) detectPerpSpread(perpData []domain.FundingSnapshot) []domain.Opportunity {
	byAsset := groupLiquidPerps(perpData, e.cfg.PerpPerp.MinOpenInterest)
	notional := e.cfg.Engine.BaseNotionalUSD

	var opps []domain.Opportunity
	for asset, perps := range byAsset {
		if len(perps) < 2 {
			continue
		}
		for i := 0; i < len(perps); i++ {
			for j := 0; j < len(perps); j++ {
				if i == j {
					continue
				}
				p1, p2 := perps[i], perps[j]
				if p1.MarkPrice <= 0 {
					continue
				}
				spread := p2.Bid - p1.Ask
				spreadBps := spread / p1.MarkPrice * 10000
				if spreadBps <= 0 || spreadBps > e.cfg.PerpPerp.MaxSpreadBps {
					continue
				}

				expected := spreadBps/100 - e.cfg.PerpPerp.FlatFeePct/100
				if expected <= e.cfg.Engine.MinProfitPct/100 {
					continue
				}
				quantity := round6(notional / p1.MarkPrice)

				opps = append(opps, domain.Opportunity{
					ID:             uuid.NewString(),
					Type:           domain.OpportunityPerpSpread,
					Symbol:         asset + "/USDT:USDT",
					SpreadBps:      round3(spreadBps),
					ExpectedPnLPct: round3(expected * 100),
					Notional:       round2(notional),
					Timestamp:      time.Now().UTC(),
					Description: fmt.Sprintf("Perp spread %s: buy %s @ %s sell %s @ %s (%.1f bps)",
						asset, p1.Venue, formatPrice(p1.Ask), p2.Venue, formatPrice(p2.Bid), spreadBps),
					Legs: []domain.Leg{
						{Venue: p1.Venue, Kind: domain.VenueKindPerp, Side: domain.OrderSideBuy, Symbol: asset + "/USDT:USDT", Price: p1.Ask, Quantity: quantity},
						{Venue: p2.Venue, Kind: domain.VenueKindPerp, Side: domain.OrderSideSell, Symbol: asset + "/USDT:USDT", Price: p2.Bid, Quantity: quantity},
					},
					Metadata: map[string]any{
						"funding_diff_8h_pct":  round4((p2.FundingRate8h - p1.FundingRate8h) * 100),
						"perp1_exchange":       p1.Venue,
						"perp1_funding_8h_pct": round4(p1.FundingRate8h * 100),
						"perp1_oi_usd":         round2(p1.OpenInterestUSD),
						"perp2_exchange":       p2.Venue,
						"perp2_funding_8h_pct": round4(p2.FundingRate8h * 100),
						"perp2_oi_usd":         round2(p2.OpenInterestUSD),
					},
				})
			}
		}
	}
	return sortByExpectedPnL(opps, false)
}
