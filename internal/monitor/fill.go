// Package monitor holds the background reconciliation loops that run
// beside the engine: fill reconciliation, position PnL tracking, and
// position closing. Each loop checks its stop signal once per cycle and
// treats every entity as having a single concurrent mutator.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/metrics"
)

// FillMonitor reconciles submitted orders against venue-reported state.
// Reconciliation is idempotent: a fill is recorded at most once per
// (order, venue fill id) pair no matter how often the poll repeats.
type FillMonitor struct {
	orders   domain.OrderStore
	fills    domain.FillStore
	creds    domain.CredentialStore
	venues   domain.VenueClientFactory
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewFillMonitor builds a FillMonitor polling every interval, reconciling
// at most batch orders per cycle.
func NewFillMonitor(
	orders domain.OrderStore,
	fills domain.FillStore,
	creds domain.CredentialStore,
	venues domain.VenueClientFactory,
	interval time.Duration,
	batch int,
	logger *slog.Logger,
) *FillMonitor {
	return &FillMonitor{
		orders:   orders,
		fills:    fills,
		creds:    creds,
		venues:   venues,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "fill_monitor")),
	}
}

// Run polls until the context is cancelled. Cycle errors are logged and
// the loop continues.
func (m *FillMonitor) Run(ctx context.Context) error {
	m.logger.Info("fill monitor started", slog.Duration("interval", m.interval))
	defer m.logger.Info("fill monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Cycle(ctx); err != nil {
				m.logger.Error("fill cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Cycle reconciles one batch of submitted / partially filled orders,
// grouped by (user, venue) so each group pays for credential resolution
// and client construction once.
func (m *FillMonitor) Cycle(ctx context.Context) error {
	metrics.FillCycles.Inc()

	orders, err := m.orders.ListReconcilable(ctx, m.batch)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	m.logger.Debug("reconciling orders", slog.Int("count", len(orders)))

	type groupKey struct{ userID, venue string }
	groups := make(map[groupKey][]domain.Order)
	for _, o := range orders {
		key := groupKey{o.UserID, o.Venue}
		groups[key] = append(groups[key], o)
	}

	for key, group := range groups {
		m.reconcileGroup(ctx, key.userID, key.venue, group)
	}
	return nil
}

// reconcileGroup resolves one credential and one client for the group,
// releasing the client when the group is done regardless of outcome.
func (m *FillMonitor) reconcileGroup(ctx context.Context, userID, venue string, orders []domain.Order) {
	log := m.logger.With(slog.String("user_id", userID), slog.String("venue", venue))

	cred, err := m.creds.Get(ctx, userID, venue)
	if err != nil {
		log.Warn("no credential, skipping group", slog.Any("error", err))
		return
	}
	client, err := m.venues.ClientFor(venue, cred)
	if err != nil {
		log.Error("venue client build failed", slog.Any("error", err))
		return
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("venue client close failed", slog.Any("error", err))
		}
	}()

	for _, order := range orders {
		if err := m.reconcileOrder(ctx, client, order); err != nil {
			log.Error("order reconcile failed",
				slog.String("order_id", order.ID), slog.Any("error", err))
		}
	}
}

// reconcileOrder fetches venue state for one order and applies it. A
// venue that no longer knows the order moves it to failed locally rather
// than being polled forever.
func (m *FillMonitor) reconcileOrder(ctx context.Context, client domain.VenueClient, order domain.Order) error {
	state, err := client.OrderState(ctx, order.Symbol, order.VenueOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("order not found on venue, marking failed",
				slog.String("order_id", order.ID),
				slog.String("venue_order_id", order.VenueOrderID))
			return m.orders.MarkTerminal(ctx, order.ID, domain.OrderStatusFailed, "order not found on venue")
		}
		return err
	}

	for _, vf := range state.Fills {
		inserted, err := m.fills.Insert(ctx, domain.Fill{
			OrderID:     order.ID,
			VenueFillID: vf.FillID,
			Quantity:    vf.Quantity,
			Price:       vf.Price,
			FeeUSD:      vf.FeeUSD,
			Timestamp:   time.Now().UTC(),
		})
		if err != nil {
			m.logger.Error("fill insert failed",
				slog.String("order_id", order.ID),
				slog.String("venue_fill_id", vf.FillID),
				slog.Any("error", err))
			continue
		}
		if inserted {
			metrics.FillsRecorded.Inc()
			m.logger.Info("fill recorded",
				slog.String("order_id", order.ID),
				slog.Float64("quantity", vf.Quantity),
				slog.Float64("price", vf.Price))
		}
	}

	if state.Status == order.Status && state.FilledQty == order.FilledQty {
		return nil
	}
	var filledAt *time.Time
	if state.Status == domain.OrderStatusFilled {
		now := time.Now().UTC()
		filledAt = &now
	}
	if order.Status != state.Status {
		m.logger.Info("order status changed",
			slog.String("order_id", order.ID),
			slog.String("from", string(order.Status)),
			slog.String("to", string(state.Status)))
	}
	return m.orders.UpdateFillState(ctx, order.ID, state.Status, state.FilledQty, state.AvgPrice, filledAt)
}
