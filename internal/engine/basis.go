package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// detectSpotPerpBasis flags spot/perp basis gaps on the same venue pair:
// a perp marking rich to spot is sold against a spot buy (and the
// reverse when the basis inverts). Disabled by default; kept behind
// config for venues where both books are cheap to execute.
func (e *Engine) detectSpotPerpBasis(quotes []domain.Quote, perpData []domain.FundingSnapshot) []domain.Opportunity {
	perps := groupLiquidPerps(perpData, e.cfg.PerpPerp.MinOpenInterest)
	notional := e.cfg.Engine.BaseNotionalUSD

	var opps []domain.Opportunity
	for _, spot := range quotes {
		if spot.Kind != domain.VenueKindSpot {
			continue
		}
		if spot.QuoteAsset != "USDT" && spot.QuoteAsset != "USD" {
			continue
		}
		spotMid := spot.Mid()
		if spotMid <= 0 {
			continue
		}
		for _, perp := range perps[spot.BaseAsset] {
			if perp.MarkPrice <= 0 {
				continue
			}
			basis := perp.MarkPrice - spotMid
			basisBps := basis / spotMid * 10000
			if math.Abs(basisBps) < e.cfg.Basis.MinBasisBps {
				continue
			}

			// Executable direction: earn the basis at the touch.
			var spread float64
			var legs []domain.Leg
			quantity := round6(notional / spotMid)
			symbol := spot.BaseAsset + "/" + spot.QuoteAsset
			perpSymbol := perp.BaseAsset + "/USDT:USDT"
			if basis > 0 {
				spread = perp.Bid - spot.Ask
				legs = []domain.Leg{
					{Venue: spot.Venue, Kind: domain.VenueKindSpot, Side: domain.OrderSideBuy, Symbol: symbol, Price: spot.Ask, Quantity: quantity},
					{Venue: perp.Venue, Kind: domain.VenueKindPerp, Side: domain.OrderSideSell, Symbol: perpSymbol, Price: perp.Bid, Quantity: quantity},
				}
			} else {
				spread = spot.Bid - perp.Ask
				legs = []domain.Leg{
					{Venue: perp.Venue, Kind: domain.VenueKindPerp, Side: domain.OrderSideBuy, Symbol: perpSymbol, Price: perp.Ask, Quantity: quantity},
					{Venue: spot.Venue, Kind: domain.VenueKindSpot, Side: domain.OrderSideSell, Symbol: symbol, Price: spot.Bid, Quantity: quantity},
				}
			}
			spreadBps := spread / spotMid * 10000
			if spreadBps <= 0 {
				continue
			}

			expected := spreadBps/100/100 - e.estimateFeesPct(domain.VenueKindSpot, domain.VenueKindPerp)
			if expected <= 0 {
				continue
			}

			opps = append(opps, domain.Opportunity{
				ID:             uuid.NewString(),
				Type:           domain.OpportunitySpotPerpBasis,
				Symbol:         symbol,
				SpreadBps:      round3(spreadBps),
				ExpectedPnLPct: round3(expected * 100),
				Notional:       round2(notional),
				Timestamp:      time.Now().UTC(),
				Description: fmt.Sprintf("Basis %s: %.1f bps between %s spot and %s perp",
					spot.BaseAsset, basisBps, spot.Venue, perp.Venue),
				Legs: legs,
				Metadata: map[string]any{
					"basis_bps":           round2(basisBps),
					"spot_exchange":       spot.Venue,
					"perp_exchange":       perp.Venue,
					"perp_funding_8h_pct": round4(perp.FundingRate8h * 100),
					"perp_oi_usd":         round2(perp.OpenInterestUSD),
				},
			})
		}
	}
	return sortByExpectedPnL(opps, false)
}
