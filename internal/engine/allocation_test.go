package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/junheony/arbitrage-full/internal/config"
)

func defaultCurve() AllocationCurve {
	return AllocationCurve(config.Defaults().Kimchi.Curve)
}

func TestAllocationCurveKnots(t *testing.T) {
	curve := defaultCurve()
	assert.InDelta(t, 1.0, curve.Evaluate(-5), 1e-9)
	assert.InDelta(t, 0.7, curve.Evaluate(-2), 1e-9)
	assert.InDelta(t, 0.2, curve.Evaluate(0), 1e-9)
	assert.InDelta(t, 0.0, curve.Evaluate(3), 1e-9)
}

func TestAllocationCurveInterpolates(t *testing.T) {
	curve := defaultCurve()
	// -3 sits between the (-5, 1.0) and (-2, 0.7) knots.
	assert.InDelta(t, 0.8, curve.Evaluate(-3), 1e-9)
	// Midway between (-1, 0.5) and (0, 0.2).
	assert.InDelta(t, 0.35, curve.Evaluate(-0.5), 1e-9)
}

func TestAllocationCurveFlatExtrapolation(t *testing.T) {
	curve := defaultCurve()
	assert.InDelta(t, 1.0, curve.Evaluate(-10), 1e-9)
	assert.InDelta(t, 0.0, curve.Evaluate(5), 1e-9)
}

func TestAllocationCurveClampsAndEmpty(t *testing.T) {
	assert.Zero(t, AllocationCurve(nil).Evaluate(1))

	over := AllocationCurve{
		{PremiumPct: -1, Allocation: 1.5},
		{PremiumPct: 1, Allocation: -0.5},
	}
	assert.InDelta(t, 1.0, over.Evaluate(-2), 1e-9)
	assert.InDelta(t, 0.0, over.Evaluate(2), 1e-9)
	assert.InDelta(t, 0.5, over.Evaluate(0), 1e-9)
}
