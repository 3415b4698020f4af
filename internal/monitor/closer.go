package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/metrics"
	"github.com/junheony/arbitrage-full/internal/notify"
)

// PositionCloser submits exit orders for positions in the closing state.
// Finalization is all-or-nothing: every reversing leg must reach its
// venue for the position to close; otherwise it is marked failed and an
// operator retries through the manual close entry point.
type PositionCloser struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	risks     domain.RiskLimitStore
	creds     domain.CredentialStore
	venues    domain.VenueClientFactory
	interval  time.Duration
	notifier  *notify.Notifier
	logger    *slog.Logger
}

// NewPositionCloser builds a PositionCloser polling every interval.
func NewPositionCloser(
	positions domain.PositionStore,
	orders domain.OrderStore,
	risks domain.RiskLimitStore,
	creds domain.CredentialStore,
	venues domain.VenueClientFactory,
	interval time.Duration,
	logger *slog.Logger,
) *PositionCloser {
	return &PositionCloser{
		positions: positions,
		orders:    orders,
		risks:     risks,
		creds:     creds,
		venues:    venues,
		interval:  interval,
		logger:    logger.With(slog.String("component", "position_closer")),
	}
}

// WithNotifier enables close notifications. A nil notifier is allowed.
func (c *PositionCloser) WithNotifier(n *notify.Notifier) *PositionCloser {
	c.notifier = n
	return c
}

// Run polls until the context is cancelled.
func (c *PositionCloser) Run(ctx context.Context) error {
	c.logger.Info("position closer started", slog.Duration("interval", c.interval))
	defer c.logger.Info("position closer stopped")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Cycle(ctx); err != nil {
				c.logger.Error("closer cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Cycle processes every position currently in the closing state.
func (c *PositionCloser) Cycle(ctx context.Context) error {
	closing, err := c.positions.ListClosing(ctx)
	if err != nil {
		return err
	}
	for _, pos := range closing {
		if err := c.ClosePosition(ctx, pos); err != nil {
			c.logger.Error("position close failed",
				slog.String("position_id", pos.ID), slog.Any("error", err))
		}
	}
	return nil
}

// ManualClose is the operator entry point: it flags an open (or
// previously failed) position closing with reason manual and closes it
// immediately. Closing a position the user does not own is refused.
func (c *PositionCloser) ManualClose(ctx context.Context, positionID, userID string) error {
	pos, err := c.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.UserID != userID {
		return domain.ErrUnauthorized
	}
	switch pos.Status {
	case domain.PositionStatusClosed:
		return nil
	case domain.PositionStatusOpen, domain.PositionStatusFailed:
		if err := c.positions.MarkClosing(ctx, pos.ID, domain.CloseReasonManual); err != nil {
			return err
		}
		pos.Status = domain.PositionStatusClosing
		pos.ExitReason = domain.CloseReasonManual
	case domain.PositionStatusClosing:
		// Already flagged; submit now.
	default:
		return domain.ErrInvalidPosition
	}
	return c.ClosePosition(ctx, pos)
}

// ClosePosition submits one reversing market order per entry leg and
// finalizes the position. A missing credential fails the position before
// any exit order is placed.
func (c *PositionCloser) ClosePosition(ctx context.Context, pos domain.Position) error {
	log := c.logger.With(slog.String("position_id", pos.ID), slog.String("user_id", pos.UserID))

	if len(pos.EntryLegs) == 0 {
		log.Warn("position has no entry legs")
		return c.finalize(ctx, pos, domain.PositionStatusFailed, nil)
	}

	creds, err := c.resolveCredentials(ctx, pos)
	if err != nil {
		log.Error("credential resolution failed", slog.Any("error", err))
		if ferr := c.finalize(ctx, pos, domain.PositionStatusFailed, nil); ferr != nil {
			return ferr
		}
		return err
	}

	leverage := 1.0
	if limit, err := c.risks.Get(ctx, pos.UserID); err == nil {
		leverage = limit.MaxLeverage
	}

	clients := make(map[string]domain.VenueClient)
	defer func() {
		for _, cl := range clients {
			if err := cl.Close(); err != nil {
				log.Warn("venue client close failed", slog.String("venue", cl.Venue()), slog.Any("error", err))
			}
		}
	}()

	var exitLegs []domain.Leg
	for _, entry := range pos.EntryLegs {
		exit := entry.Reversed()
		if submitted := c.submitExit(ctx, pos, exit, entry.Kind, creds[entry.Venue], leverage, clients, log); submitted != nil {
			exitLegs = append(exitLegs, *submitted)
		}
	}

	if len(exitLegs) == len(pos.EntryLegs) {
		log.Info("position closed",
			slog.Float64("realized_pnl_pct", pos.LivePnLPct),
			slog.Float64("realized_pnl_usd", pos.LivePnLUSD),
			slog.String("reason", string(pos.ExitReason)))
		return c.finalize(ctx, pos, domain.PositionStatusClosed, exitLegs)
	}
	log.Error("position close incomplete, not retrying",
		slog.Int("submitted", len(exitLegs)),
		slog.Int("legs", len(pos.EntryLegs)))
	// Exit legs, close time and realized PnL are written once, at close.
	// A failed close keeps them unset; a later ManualClose retry writes
	// them when every leg lands.
	return c.finalize(ctx, pos, domain.PositionStatusFailed, nil)
}

func (c *PositionCloser) resolveCredentials(ctx context.Context, pos domain.Position) (map[string]domain.VenueCredential, error) {
	creds := make(map[string]domain.VenueCredential)
	for _, leg := range pos.EntryLegs {
		if _, ok := creds[leg.Venue]; ok {
			continue
		}
		cred, err := c.creds.Get(ctx, pos.UserID, leg.Venue)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("monitor: no credential for venue %s: %w", leg.Venue, domain.ErrNoCredential)
			}
			return nil, fmt.Errorf("monitor: load credential for %s: %w", leg.Venue, err)
		}
		creds[leg.Venue] = cred
	}
	return creds, nil
}

// submitExit places one reversing order and returns the executed exit
// leg, or nil when the submission did not reach the venue.
func (c *PositionCloser) submitExit(
	ctx context.Context,
	pos domain.Position,
	exit domain.Leg,
	kind domain.VenueKind,
	cred domain.VenueCredential,
	leverage float64,
	clients map[string]domain.VenueClient,
	log *slog.Logger,
) *domain.Leg {
	order := domain.Order{
		ID:            uuid.NewString(),
		UserID:        pos.UserID,
		OpportunityID: pos.OpportunityID,
		Venue:         exit.Venue,
		Symbol:        exit.Symbol,
		Side:          exit.Side,
		Type:          domain.OrderTypeMarket,
		Quantity:      exit.Quantity,
		Status:        domain.OrderStatusPending,
		Metadata: map[string]any{
			"position_id": pos.ID,
			"exit_order":  true,
			"venue_type":  string(kind),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.orders.Create(ctx, order); err != nil {
		log.Error("exit order create failed", slog.String("venue", exit.Venue), slog.Any("error", err))
		return nil
	}

	client, ok := clients[exit.Venue]
	if !ok {
		var err error
		client, err = c.venues.ClientFor(exit.Venue, cred)
		if err != nil {
			log.Error("venue client build failed", slog.String("venue", exit.Venue), slog.Any("error", err))
			c.markFailed(ctx, order.ID, domain.OrderStatusFailed, err.Error())
			return nil
		}
		clients[exit.Venue] = client
	}

	if kind == domain.VenueKindPerp {
		if err := client.SetLeverage(ctx, exit.Symbol, leverage); err != nil {
			log.Warn("set leverage failed, submitting anyway",
				slog.String("venue", exit.Venue), slog.Any("error", err))
		}
	}

	res, err := client.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:     exit.Symbol,
		Side:       exit.Side,
		Type:       domain.OrderTypeMarket,
		Quantity:   exit.Quantity,
		ReduceOnly: kind == domain.VenueKindPerp,
	})
	if err != nil {
		status := domain.OrderStatusFailed
		var ve *domain.VenueError
		if errors.As(err, &ve) {
			status = ve.OrderStatusFor()
		}
		log.Error("exit order submission failed",
			slog.String("venue", exit.Venue), slog.Any("error", err))
		c.markFailed(ctx, order.ID, status, err.Error())
		return nil
	}
	if err := c.orders.MarkSubmitted(ctx, order.ID, res.VenueOrderID, res, time.Now().UTC()); err != nil {
		log.Error("exit order ack persist failed", slog.String("order_id", order.ID), slog.Any("error", err))
	}

	submitted := exit
	if res.AvgPrice > 0 {
		submitted.Price = res.AvgPrice
	}
	log.Info("exit order submitted",
		slog.String("venue", exit.Venue),
		slog.String("side", string(exit.Side)),
		slog.Float64("quantity", exit.Quantity))
	return &submitted
}

func (c *PositionCloser) finalize(ctx context.Context, pos domain.Position, status domain.PositionStatus, exitLegs []domain.Leg) error {
	reason := pos.ExitReason
	// Realized PnL is copied from the monitor's last mark; actual fills
	// refine it later through the fill records.
	if err := c.positions.Finalize(ctx, pos.ID, status, exitLegs, reason, pos.LivePnLUSD, time.Now().UTC()); err != nil {
		return fmt.Errorf("monitor: finalize position %s: %w", pos.ID, err)
	}
	metrics.PositionsClosed.WithLabelValues(string(status)).Inc()
	metrics.PositionsOpen.Dec()
	c.notifier.PositionClosed(ctx, pos, status)
	return nil
}

func (c *PositionCloser) markFailed(ctx context.Context, orderID string, status domain.OrderStatus, msg string) {
	if err := c.orders.MarkTerminal(ctx, orderID, status, msg); err != nil {
		c.logger.Error("order terminal persist failed",
			slog.String("order_id", orderID), slog.Any("error", err))
	}
}
