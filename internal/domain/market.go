package domain

import "time"

// VenueKind distinguishes the instrument class a venue quote refers to.
type VenueKind string

const (
	VenueKindSpot VenueKind = "spot"
	VenueKindPerp VenueKind = "perp"
	VenueKindFX   VenueKind = "fx"
)

// Quote is a top-of-book snapshot from one venue. Quotes are regenerated
// every tick and never persisted.
type Quote struct {
	Venue      string
	Kind       VenueKind
	Symbol     string // venue-native pair, e.g. "BTCUSDT" or "KRW-BTC"
	BaseAsset  string
	QuoteAsset string
	Bid        float64
	Ask        float64
	Timestamp  time.Time
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// SpreadBps returns the bid/ask spread in basis points of the ask.
func (q Quote) SpreadBps() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / q.Ask * 10000
}

// FundingSnapshot is a perpetual-futures funding and liquidity snapshot.
// Ephemeral, like Quote.
type FundingSnapshot struct {
	Venue           string
	Symbol          string
	BaseAsset       string
	Bid             float64
	Ask             float64
	MarkPrice       float64
	IndexPrice      float64
	FundingRate     float64 // per venue-native interval
	FundingRate8h   float64 // normalized to an 8-hour period
	NextFundingTime *time.Time
	OpenInterestUSD float64
	OpenInterest    float64 // contracts
	Timestamp       time.Time
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (s FundingSnapshot) Mid() float64 {
	if s.Bid <= 0 || s.Ask <= 0 {
		return 0
	}
	return (s.Bid + s.Ask) / 2
}

// SpreadBps returns the bid/ask spread in basis points of the ask.
func (s FundingSnapshot) SpreadBps() float64 {
	if s.Bid <= 0 || s.Ask <= 0 {
		return 0
	}
	return (s.Ask - s.Bid) / s.Ask * 10000
}
