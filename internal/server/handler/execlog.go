package handler

import (
	"log/slog"
	"net/http"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// ExecLogHandler serves the executor's append-only audit trail.
type ExecLogHandler struct {
	logs   domain.ExecutionLogStore
	logger *slog.Logger
}

// NewExecLogHandler creates an ExecLogHandler.
func NewExecLogHandler(logs domain.ExecutionLogStore, logger *slog.Logger) *ExecLogHandler {
	return &ExecLogHandler{
		logs:   logs,
		logger: logHandler(logger, "execlog"),
	}
}

// listExecLogResponse wraps the execution log list.
type listExecLogResponse struct {
	Executions []domain.ExecutionLog `json:"executions"`
}

// ListExecutions returns the acting user's audit entries, newest first.
// GET /api/executions?limit=50&since=...&until=...
func (h *ExecLogHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	entries, err := h.logs.List(r.Context(), uid, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if entries == nil {
		entries = []domain.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, listExecLogResponse{Executions: entries})
}
