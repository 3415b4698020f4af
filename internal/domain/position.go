package domain

import "time"

// PositionStatus tracks the position lifecycle:
// open → closing → {closed | failed}.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusFailed  PositionStatus = "failed"
)

// CloseReason explains why a position left the open state.
type CloseReason string

const (
	CloseReasonTargetProfit    CloseReason = "target_profit"
	CloseReasonStopLoss        CloseReason = "stop_loss"
	CloseReasonSpreadConverged CloseReason = "spread_converged"
	CloseReasonManual          CloseReason = "manual"
)

// Position is a lifecycle-tracked multi-leg holding. EntryLegs are a
// snapshot taken at execution time and immutable afterwards; LivePnL* is
// written by the position monitor only; the Exit* fields are written once,
// at close.
type Position struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	OpportunityID string          `json:"opportunity_id"`
	Type          OpportunityType `json:"type"`
	Symbol        string          `json:"symbol"`
	Status        PositionStatus  `json:"status"`
	EntryLegs     []Leg           `json:"entry_legs"`
	EntryNotional float64         `json:"entry_notional"`
	TargetProfit  float64         `json:"target_profit"` // percent
	StopLoss      float64         `json:"stop_loss"`     // percent
	LivePnLPct    float64         `json:"live_pnl_pct"`
	LivePnLUSD    float64         `json:"live_pnl_usd"`
	ExitLegs      []Leg           `json:"exit_legs,omitempty"`
	ExitReason    CloseReason     `json:"exit_reason,omitempty"`
	RealizedPnL   float64         `json:"realized_pnl"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// EntrySpread returns the absolute price gap between the first two entry
// legs, and reports false when the position has fewer than two legs.
func (p Position) EntrySpread() (float64, bool) {
	if len(p.EntryLegs) < 2 {
		return 0, false
	}
	d := p.EntryLegs[0].Price - p.EntryLegs[1].Price
	if d < 0 {
		d = -d
	}
	return d, true
}

// AvgEntryPrice returns the mean price across entry legs, 0 when empty.
func (p Position) AvgEntryPrice() float64 {
	if len(p.EntryLegs) == 0 {
		return 0
	}
	var sum float64
	for _, leg := range p.EntryLegs {
		sum += leg.Price
	}
	return sum / float64(len(p.EntryLegs))
}
