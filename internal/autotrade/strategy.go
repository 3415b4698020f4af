// Package autotrade runs per-user policy loops over the engine's latest
// opportunity snapshot and hands qualifying opportunities to the executor.
package autotrade

import (
	"fmt"
	"strings"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// Strategy decides whether an opportunity qualifies for automated
// execution. Implementations must be safe for concurrent use.
type Strategy interface {
	Name() string
	ShouldExecute(opp domain.Opportunity) bool
}

// ThresholdStrategy executes any opportunity clearing its spread,
// expected-PnL and notional floors.
type ThresholdStrategy struct {
	StrategyName      string
	MinSpreadBps      float64
	MinExpectedPnLPct float64
	MinNotionalUSD    float64
}

func (s ThresholdStrategy) Name() string { return s.StrategyName }

func (s ThresholdStrategy) ShouldExecute(opp domain.Opportunity) bool {
	return opp.SpreadBps >= s.MinSpreadBps &&
		opp.ExpectedPnLPct >= s.MinExpectedPnLPct &&
		opp.Notional >= s.MinNotionalUSD
}

// Conservative returns a threshold strategy tuned for high-quality
// opportunities only.
func Conservative() Strategy {
	return ThresholdStrategy{
		StrategyName:      "conservative",
		MinSpreadBps:      50.0,
		MinExpectedPnLPct: 0.5,
		MinNotionalUSD:    100.0,
	}
}

// Aggressive returns a threshold strategy with lower floors that trades
// more often.
func Aggressive() Strategy {
	return ThresholdStrategy{
		StrategyName:      "aggressive",
		MinSpreadBps:      20.0,
		MinExpectedPnLPct: 0.2,
		MinNotionalUSD:    50.0,
	}
}

// FundingRateStrategy only trades funding-arbitrage opportunities whose
// annualized funding differential clears the floor.
type FundingRateStrategy struct {
	MinFundingRateAPR float64
	MinNotionalUSD    float64
}

func (s FundingRateStrategy) Name() string { return "funding_rate" }

func (s FundingRateStrategy) ShouldExecute(opp domain.Opportunity) bool {
	if opp.Type != domain.OpportunityFundingArb {
		return false
	}
	apr, _ := opp.Metadata["funding_rate_apr"].(float64)
	return apr >= s.MinFundingRateAPR && opp.Notional >= s.MinNotionalUSD
}

// FundingRate returns a funding-rate strategy with the default 10% APR
// floor.
func FundingRate() Strategy {
	return FundingRateStrategy{MinFundingRateAPR: 10.0, MinNotionalUSD: 100.0}
}

// StrategyByName resolves a strategy from its wire name.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "conservative":
		return Conservative(), nil
	case "aggressive":
		return Aggressive(), nil
	case "funding_rate":
		return FundingRate(), nil
	default:
		return nil, fmt.Errorf("autotrade: unknown strategy %q", name)
	}
}
