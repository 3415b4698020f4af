package domain

import "time"

// RiskLimit is the per-user trading envelope consulted before every
// execution.
type RiskLimit struct {
	UserID          string    `json:"user_id"`
	MaxPositionUSD  float64   `json:"max_position_usd"`
	MaxLeverage     float64   `json:"max_leverage"`
	MaxDailyLossUSD float64   `json:"max_daily_loss_usd"`
	MaxOpenOrders   int       `json:"max_open_orders"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	TakeProfitPct   float64   `json:"take_profit_pct"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultRiskLimit returns the conservative starting envelope assigned to
// a user with no explicit limits row.
func DefaultRiskLimit(userID string) RiskLimit {
	return RiskLimit{
		UserID:          userID,
		MaxPositionUSD:  10000,
		MaxLeverage:     1,
		MaxDailyLossUSD: 1000,
		MaxOpenOrders:   10,
		StopLossPct:     5,
		TakeProfitPct:   10,
	}
}
