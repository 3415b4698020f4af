package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/executor"
)

// ExecutionService runs the execution pipeline for a user and opportunity.
type ExecutionService interface {
	Execute(ctx context.Context, userID string, opp domain.Opportunity, dryRun bool) (executor.Result, error)
}

// ExecuteHandler triggers manual execution of a live opportunity.
type ExecuteHandler struct {
	exec   ExecutionService
	source OpportunitySource
	logger *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(exec ExecutionService, source OpportunitySource, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		source: source,
		logger: logHandler(logger, "execute"),
	}
}

// executeRequest is the manual execution request body.
type executeRequest struct {
	OpportunityID string `json:"opportunity_id"`
	DryRun        bool   `json:"dry_run"`
}

// Execute runs the executor against an opportunity from the engine's
// current snapshot. Opportunities age out between ticks; a stale ID gets
// a 404 rather than executing against gone prices.
// POST /api/execute
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.OpportunityID == "" {
		writeError(w, http.StatusBadRequest, "opportunity_id is required")
		return
	}

	opp, ok := h.lookup(req.OpportunityID)
	if !ok {
		writeError(w, http.StatusNotFound, "opportunity no longer available")
		return
	}

	uid := userID(r)
	result, err := h.exec.Execute(r.Context(), uid, opp, req.DryRun)
	if err != nil {
		var rce *domain.RiskCheckError
		if errors.As(err, &rce) {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.logger.ErrorContext(r.Context(), "execution failed",
			slog.String("user_id", uid),
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// lookup finds an opportunity by ID in the engine's latest snapshot.
func (h *ExecuteHandler) lookup(id string) (domain.Opportunity, bool) {
	for _, opp := range h.source.Latest() {
		if opp.ID == id {
			return opp, true
		}
	}
	return domain.Opportunity{}, false
}
