package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/autotrade"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// AutoTradeService manages per-user auto-trading loops.
type AutoTradeService interface {
	Start(ctx context.Context, userID string, strategy autotrade.Strategy, dryRun bool) error
	Stop(userID string) error
	Active() []autotrade.TraderStatus
}

// AutoTradeHandler serves auto-trader control endpoints. Traders started
// over HTTP must outlive the request, so the handler carries a long-lived
// base context instead of using the request's.
type AutoTradeHandler struct {
	manager AutoTradeService
	baseCtx context.Context
	logger  *slog.Logger
}

// NewAutoTradeHandler creates an AutoTradeHandler. baseCtx bounds the
// lifetime of traders started through this handler; pass the process
// context.
func NewAutoTradeHandler(manager AutoTradeService, baseCtx context.Context, logger *slog.Logger) *AutoTradeHandler {
	return &AutoTradeHandler{
		manager: manager,
		baseCtx: baseCtx,
		logger:  logHandler(logger, "autotrade"),
	}
}

// listTradersResponse wraps the active trader list.
type listTradersResponse struct {
	Traders []autotrade.TraderStatus `json:"traders"`
}

// ListTraders returns all running auto traders.
// GET /api/autotrade
func (h *AutoTradeHandler) ListTraders(w http.ResponseWriter, r *http.Request) {
	traders := h.manager.Active()
	if traders == nil {
		traders = []autotrade.TraderStatus{}
	}
	writeJSON(w, http.StatusOK, listTradersResponse{Traders: traders})
}

// startTraderRequest is the auto-trader start body.
type startTraderRequest struct {
	Strategy string `json:"strategy"`
	DryRun   bool   `json:"dry_run"`
}

// StartTrader starts an auto trader for the acting user.
// POST /api/autotrade
func (h *AutoTradeHandler) StartTrader(w http.ResponseWriter, r *http.Request) {
	var req startTraderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Strategy == "" {
		writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}

	strategy, err := autotrade.StrategyByName(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid := userID(r)
	if err := h.manager.Start(h.baseCtx, uid, strategy, req.DryRun); err != nil {
		if errors.Is(err, domain.ErrTraderExists) {
			writeError(w, http.StatusConflict, "auto trader already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "start trader failed",
			slog.String("user_id", uid),
			slog.String("strategy", req.Strategy),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start auto trader")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "started",
		"user_id":  uid,
		"strategy": strategy.Name(),
		"dry_run":  req.DryRun,
	})
}

// StopTrader stops the acting user's auto trader.
// DELETE /api/autotrade
func (h *AutoTradeHandler) StopTrader(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if err := h.manager.Stop(uid); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no auto trader running")
			return
		}
		h.logger.ErrorContext(r.Context(), "stop trader failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop auto trader")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "stopped",
		"user_id": uid,
	})
}
