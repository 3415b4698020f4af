package handler

import (
	"log/slog"
	"net/http"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// OpportunitySource exposes the engine's latest published snapshot.
type OpportunitySource interface {
	Latest() []domain.Opportunity
}

// OpportunityHandler serves live opportunities and the denormalized
// execution-time history.
type OpportunityHandler struct {
	source  OpportunitySource
	history domain.OpportunityHistoryStore
	logger  *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(source OpportunitySource, history domain.OpportunityHistoryStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		source:  source,
		history: history,
		logger:  logHandler(logger, "opportunity"),
	}
}

// listOpportunitiesResponse wraps the live opportunity list.
type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
}

// ListOpportunities returns the most recent snapshot published by the
// detection engine. The snapshot is served from memory; an empty list
// means the last tick found nothing.
// GET /api/opportunities
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.source.Latest()
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{
		Opportunities: opps,
		Count:         len(opps),
	})
}

// listHistoryResponse wraps the opportunity history list.
type listHistoryResponse struct {
	History []domain.OpportunityHistory `json:"history"`
}

// ListHistory returns the most recent execution-time opportunity records.
// GET /api/opportunities/history?limit=50
func (h *OpportunityHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	recs, err := h.history.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunity history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunity history")
		return
	}
	if recs == nil {
		recs = []domain.OpportunityHistory{}
	}
	writeJSON(w, http.StatusOK, listHistoryResponse{History: recs})
}
