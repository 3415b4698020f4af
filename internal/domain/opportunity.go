package domain

import "time"

// OpportunityType identifies the detection algorithm that produced an
// opportunity.
type OpportunityType string

const (
	OpportunityKimchiPremium OpportunityType = "kimchi_premium"
	OpportunityFundingArb    OpportunityType = "funding_arbitrage"
	OpportunityPerpSpread    OpportunityType = "perp_perp_spread"
	OpportunitySpotPerpBasis OpportunityType = "spot_perp_basis"
)

// NeedsPosition reports whether executing this opportunity type opens a
// lifecycle-tracked position.
func (t OpportunityType) NeedsPosition() bool {
	switch t {
	case OpportunityFundingArb, OpportunityPerpSpread, OpportunitySpotPerpBasis:
		return true
	}
	return false
}

// Leg is one side of a multi-venue opportunity.
type Leg struct {
	Venue    string    `json:"exchange"`
	Kind     VenueKind `json:"venue_type"`
	Side     OrderSide `json:"side"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
}

// Notional returns the leg's dollar size at its detection price.
func (l Leg) Notional() float64 {
	return l.Price * l.Quantity
}

// Reversed returns the leg with its side flipped, quantity unchanged.
func (l Leg) Reversed() Leg {
	out := l
	if l.Side == OrderSideBuy {
		out.Side = OrderSideSell
	} else {
		out.Side = OrderSideBuy
	}
	return out
}

// Opportunity is a detected cross-venue arbitrage signal. It lives only
// within the tick that produced it; callers copy what they keep. Legs are
// generated notionally balanced at detection time.
type Opportunity struct {
	ID             string          `json:"id"`
	Type           OpportunityType `json:"type"`
	Symbol         string          `json:"symbol"`
	SpreadBps      float64         `json:"spread_bps"`
	ExpectedPnLPct float64         `json:"expected_pnl_pct"`
	Notional       float64         `json:"notional"`
	Timestamp      time.Time       `json:"timestamp"`
	Description    string          `json:"description"`
	Legs           []Leg           `json:"legs"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Venues returns the distinct venues referenced by the legs, in leg order.
func (o Opportunity) Venues() []string {
	seen := make(map[string]struct{}, len(o.Legs))
	var out []string
	for _, leg := range o.Legs {
		if _, ok := seen[leg.Venue]; ok {
			continue
		}
		seen[leg.Venue] = struct{}{}
		out = append(out, leg.Venue)
	}
	return out
}

// OpportunityHistory is the denormalized record written at execution time.
// Live opportunities themselves are never persisted.
type OpportunityHistory struct {
	ID             int64           `json:"id"`
	OpportunityID  string          `json:"opportunity_id"`
	UserID         string          `json:"user_id"`
	Type           OpportunityType `json:"type"`
	Symbol         string          `json:"symbol"`
	SpreadBps      float64         `json:"spread_bps"`
	ExpectedPnLPct float64         `json:"expected_pnl_pct"`
	Notional       float64         `json:"notional"`
	Legs           []Leg           `json:"legs"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Executed       bool            `json:"executed"`
	DryRun         bool            `json:"dry_run"`
	CreatedAt      time.Time       `json:"created_at"`
}
