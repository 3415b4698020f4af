package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// detectKimchiPremium finds price dislocations between KRW-quoted local
// markets and USD/USDT-quoted international markets.
//
// The filter is deliberately relative: an opportunity is only emitted
// when its premium deviates from the tick's MEAN premium by more than
// the configured threshold. Broad FX drift moves every premium together
// and is not a dislocation.
func (e *Engine) detectKimchiPremium(quotes []domain.Quote, perpData []domain.FundingSnapshot) []domain.Opportunity {
	fxMid := meanFXRate(quotes)
	if fxMid <= 0 {
		return nil
	}

	// Funding lookup for international perp legs.
	fundingLookup := make(map[string]domain.FundingSnapshot, len(perpData))
	for _, perp := range perpData {
		fundingLookup[perp.Venue+"|"+perp.BaseAsset] = perp
	}

	// International side accepts spot and perp quotes (new listings often
	// trade perp-first); the local side must be spot.
	global := make(map[string][]domain.Quote)
	local := make(map[string][]domain.Quote)
	for _, q := range quotes {
		switch {
		case q.QuoteAsset == "USDT" || q.QuoteAsset == "USD":
			if q.Kind == domain.VenueKindSpot || q.Kind == domain.VenueKindPerp {
				global[q.BaseAsset] = append(global[q.BaseAsset], q)
			}
		case q.QuoteAsset == "KRW" && q.Kind == domain.VenueKindSpot:
			local[q.BaseAsset] = append(local[q.BaseAsset], q)
		}
	}

	// First pass: every (local, international) premium, for the mean.
	var premiums []float64
	for asset, krwList := range local {
		globals, ok := global[asset]
		if !ok {
			continue
		}
		krw := bestLocalQuote(krwList)
		for _, g := range globals {
			gm := g.Mid()
			if gm <= 0 {
				continue
			}
			premiums = append(premiums, (krw.Mid()/fxMid-gm)/gm*100)
		}
	}
	if len(premiums) == 0 {
		return nil
	}
	var sum float64
	for _, p := range premiums {
		sum += p
	}
	avgPremium := sum / float64(len(premiums))

	curve := AllocationCurve(e.cfg.Kimchi.Curve)
	notional := e.cfg.Engine.BaseNotionalUSD

	var opps []domain.Opportunity
	for asset, krwList := range local {
		globals, ok := global[asset]
		if !ok {
			continue
		}
		krw := bestLocalQuote(krwList)
		for _, g := range globals {
			gm := g.Mid()
			if gm <= 0 {
				continue
			}
			premium := (krw.Mid()/fxMid - gm) / gm // fraction
			premiumPct := premium * 100
			quantity := notional / gm
			if quantity <= 0 {
				continue
			}

			deviation := math.Abs(premiumPct - avgPremium)
			if deviation < e.cfg.Kimchi.DeviationThreshold {
				continue
			}

			allocation := curve.Evaluate(premiumPct)
			if allocation*100 < e.cfg.Kimchi.MinAllocationPct {
				continue
			}

			metadata := map[string]any{
				"premium_pct":           round3(premiumPct),
				"avg_premium_pct":       round3(avgPremium),
				"deviation_from_avg":    round3(deviation),
				"fx_rate":               round4(fxMid),
				"target_allocation_pct": round2(allocation * 100),
				"recommended_notional":  round2(allocation * e.cfg.Kimchi.EquityUSD),
				"recommended_action":    kimchiAction(premium),
			}
			if g.Kind == domain.VenueKindPerp {
				if perp, ok := fundingLookup[g.Venue+"|"+asset]; ok {
					metadata["funding_rate_8h_pct"] = round4(perp.FundingRate8h * 100)
					metadata["funding_rate_24h_pct"] = round4(perp.FundingRate8h * 3 * 100)
				}
			}

			opps = append(opps, domain.Opportunity{
				ID:             uuid.NewString(),
				Type:           domain.OpportunityKimchiPremium,
				Symbol:         fmt.Sprintf("%s/KRW(%s) vs %s/%s(%s)", asset, krw.Kind, asset, g.QuoteAsset, g.Kind),
				SpreadBps:      round3(premium * 10000),
				ExpectedPnLPct: round3(premiumPct),
				Notional:       round2(notional),
				Timestamp:      time.Now().UTC(),
				Description: fmt.Sprintf("Kimchi premium %.2f%% (avg %.2f%%) - %s(%s) vs %s(%s)",
					premiumPct, avgPremium, krw.Venue, krw.Kind, g.Venue, g.Kind),
				Legs:     kimchiLegs(asset, g, krw, quantity, premium),
				Metadata: metadata,
			})
		}
	}
	return sortByExpectedPnL(opps, true)
}

// meanFXRate averages the USD/KRW mids across all FX quotes in the tick.
func meanFXRate(quotes []domain.Quote) float64 {
	var sum float64
	var n int
	for _, q := range quotes {
		if q.BaseAsset == "USD" && q.QuoteAsset == "KRW" {
			if mid := q.Mid(); mid > 0 {
				sum += mid
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// bestLocalQuote picks the local quote with the lowest ask, the best
// execution venue for the buy direction.
func bestLocalQuote(quotes []domain.Quote) domain.Quote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.Ask < best.Ask {
			best = q
		}
	}
	return best
}

func kimchiAction(premium float64) string {
	if premium >= 0 {
		return "sell_krw"
	}
	return "buy_krw"
}

// kimchiLegs builds the leg pair. premium ≥ 0 means the local market is
// rich: sell local, buy international. premium < 0 is the reverse.
func kimchiLegs(asset string, global, krw domain.Quote, quantity, premium float64) []domain.Leg {
	globalSymbol := asset + "/" + global.QuoteAsset
	localSymbol := asset + "/KRW"
	qty := round6(quantity)
	if premium >= 0 {
		return []domain.Leg{
			{Venue: global.Venue, Kind: global.Kind, Side: domain.OrderSideBuy, Symbol: globalSymbol, Price: global.Ask, Quantity: qty},
			{Venue: krw.Venue, Kind: krw.Kind, Side: domain.OrderSideSell, Symbol: localSymbol, Price: krw.Bid, Quantity: qty},
		}
	}
	return []domain.Leg{
		{Venue: global.Venue, Kind: global.Kind, Side: domain.OrderSideSell, Symbol: globalSymbol, Price: global.Bid, Quantity: qty},
		{Venue: krw.Venue, Kind: krw.Kind, Side: domain.OrderSideBuy, Symbol: localSymbol, Price: krw.Ask, Quantity: qty},
	}
}
