package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// crossSpreadBps computes the executable spread in basis points when
// buying at ask on one venue and selling at bid on another. Non-positive
// spreads and non-positive prices yield 0.
func crossSpreadBps(ask, bid float64) float64 {
	if ask <= 0 || bid <= 0 {
		return 0
	}
	spread := bid - ask
	if spread <= 0 {
		return 0
	}
	return spread / ask * 10000
}

// estimateFeesPct returns the estimated round-trip fee fraction for a
// two-leg trade. Perp legs add taker plus funding overhead.
func (e *Engine) estimateFeesPct(leftKind, rightKind domain.VenueKind) float64 {
	feePct := e.cfg.Engine.FeeBps / 10000
	perpLeg := e.cfg.Engine.PerpLegFeeBps / 10000
	if leftKind == domain.VenueKindPerp {
		feePct += perpLeg
	}
	if rightKind == domain.VenueKindPerp {
		feePct += perpLeg
	}
	return feePct
}

// sortByExpectedPnL orders opportunities by descending expected PnL;
// when abs is set the magnitude is compared instead (kimchi premiums can
// be profitable in either direction).
func sortByExpectedPnL(opps []domain.Opportunity, abs bool) []domain.Opportunity {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i].ExpectedPnLPct, opps[j].ExpectedPnLPct
		if abs {
			a, b = math.Abs(a), math.Abs(b)
		}
		return a > b
	})
	return opps
}

// round3 and friends keep opportunity numbers presentable without
// dragging float noise into the wire format.
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// formatPrice renders a price with precision scaled to its magnitude.
func formatPrice(price float64) string {
	var s string
	switch {
	case price >= 1000:
		return fmt.Sprintf("%.2f", price)
	case price >= 1:
		s = fmt.Sprintf("%.5f", price)
	case price >= 0.01:
		s = fmt.Sprintf("%.6f", price)
	default:
		s = fmt.Sprintf("%.8f", price)
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
