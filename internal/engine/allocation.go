package engine

import "github.com/junheony/arbitrage-full/internal/config"

// AllocationCurve maps a kimchi premium percentage onto an allocation
// fraction via linear interpolation between configured knots. Premiums
// beyond either end are flat-extrapolated to the nearest knot's value,
// and every result is clamped to [0, 1].
type AllocationCurve []config.CurveKnot

// Evaluate returns the allocation fraction for premiumPct.
func (c AllocationCurve) Evaluate(premiumPct float64) float64 {
	if len(c) == 0 {
		return 0
	}
	if premiumPct <= c[0].PremiumPct {
		return clamp01(c[0].Allocation)
	}
	for i := 1; i < len(c); i++ {
		left, right := c[i-1], c[i]
		if premiumPct <= right.PremiumPct {
			span := right.PremiumPct - left.PremiumPct
			if span == 0 {
				return clamp01(right.Allocation)
			}
			weight := (premiumPct - left.PremiumPct) / span
			return clamp01(left.Allocation + weight*(right.Allocation-left.Allocation))
		}
	}
	return clamp01(c[len(c)-1].Allocation)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
