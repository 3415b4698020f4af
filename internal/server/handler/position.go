package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// PositionCloseService closes a position on behalf of its owning user.
type PositionCloseService interface {
	ManualClose(ctx context.Context, positionID, userID string) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions domain.PositionStore
	closer    PositionCloseService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions domain.PositionStore, closer PositionCloseService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		closer:    closer,
		logger:    logHandler(logger, "position"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the acting user's positions, newest first.
// GET /api/positions?limit=50&offset=0&since=...&until=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	positions, err := h.positions.ListByUser(r.Context(), uid, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	if pos.UserID != userID(r) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition requests a manual close of the user's position. The close
// runs synchronously; the response reflects the position's final state.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	uid := userID(r)
	if err := h.closer.ManualClose(r.Context(), id, uid); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrUnauthorized):
			// Don't reveal that the position exists under another user.
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrInvalidPosition):
			writeError(w, http.StatusConflict, "position not closeable")
		default:
			h.logger.ErrorContext(r.Context(), "close position failed",
				slog.String("position_id", id),
				slog.String("user_id", uid),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to close position")
		}
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "position_id": id})
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
