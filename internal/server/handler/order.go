package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders domain.OrderStore
	fills  domain.FillStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler over the order and fill stores.
func NewOrderHandler(orders domain.OrderStore, fills domain.FillStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		fills:  fills,
		logger: logHandler(logger, "order"),
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns the acting user's orders, newest first.
// GET /api/orders?limit=50&offset=0&since=...&until=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	orders, err := h.orders.ListByUser(r.Context(), uid, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// orderDetailResponse is one order plus its fills.
type orderDetailResponse struct {
	Order domain.Order  `json:"order"`
	Fills []domain.Fill `json:"fills"`
}

// GetOrder returns a single order with its fill records. Orders belong to
// their creating user; anyone else gets a 404.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	if order.UserID != userID(r) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	fills, err := h.fills.ListByOrder(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list fills failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}

	writeJSON(w, http.StatusOK, orderDetailResponse{Order: order, Fills: fills})
}
