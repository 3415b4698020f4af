package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// RiskHandler serves per-user risk limit endpoints.
type RiskHandler struct {
	risks  domain.RiskLimitStore
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risks domain.RiskLimitStore, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		risks:  risks,
		logger: logHandler(logger, "risk"),
	}
}

// GetLimits returns the acting user's risk limits, falling back to the
// defaults when no explicit row exists. The fallback mirrors what the
// executor applies.
// GET /api/risk-limits
func (h *RiskHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	limit, err := h.risks.Get(r.Context(), uid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, domain.DefaultRiskLimit(uid))
			return
		}
		h.logger.ErrorContext(r.Context(), "get risk limits failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get risk limits")
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

// updateLimitsRequest is the risk limit update body. All fields are
// required; a partial update would silently zero the rest.
type updateLimitsRequest struct {
	MaxPositionUSD  float64 `json:"max_position_usd"`
	MaxLeverage     float64 `json:"max_leverage"`
	MaxDailyLossUSD float64 `json:"max_daily_loss_usd"`
	MaxOpenOrders   int     `json:"max_open_orders"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
}

func (req updateLimitsRequest) validate() string {
	switch {
	case req.MaxPositionUSD <= 0:
		return "max_position_usd must be positive"
	case req.MaxLeverage < 1:
		return "max_leverage must be at least 1"
	case req.MaxDailyLossUSD <= 0:
		return "max_daily_loss_usd must be positive"
	case req.MaxOpenOrders <= 0:
		return "max_open_orders must be positive"
	case req.StopLossPct <= 0:
		return "stop_loss_pct must be positive"
	case req.TakeProfitPct <= 0:
		return "take_profit_pct must be positive"
	}
	return ""
}

// UpdateLimits replaces the acting user's risk limits.
// PUT /api/risk-limits
func (h *RiskHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var req updateLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	uid := userID(r)
	limit := domain.RiskLimit{
		UserID:          uid,
		MaxPositionUSD:  req.MaxPositionUSD,
		MaxLeverage:     req.MaxLeverage,
		MaxDailyLossUSD: req.MaxDailyLossUSD,
		MaxOpenOrders:   req.MaxOpenOrders,
		StopLossPct:     req.StopLossPct,
		TakeProfitPct:   req.TakeProfitPct,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := h.risks.Upsert(r.Context(), limit); err != nil {
		h.logger.ErrorContext(r.Context(), "update risk limits failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update risk limits")
		return
	}
	writeJSON(w, http.StatusOK, limit)
}
