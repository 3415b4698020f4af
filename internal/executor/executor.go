// Package executor turns a detected opportunity into venue orders for one
// user, under that user's risk limits. It never unwinds: a leg that fails
// to submit is recorded as failed and execution of the remaining legs
// continues, with partial execution a surfaced, accepted outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/metrics"
)

// Execution result statuses.
const (
	StatusSuccess         = "success"
	StatusDryRun          = "dry_run"
	StatusRiskCheckFailed = "risk_check_failed"
	StatusError           = "error"
)

// OrderSummary is the per-leg slice of a Result.
type OrderSummary struct {
	ID       string             `json:"id"`
	Venue    string             `json:"exchange"`
	Symbol   string             `json:"symbol"`
	Side     domain.OrderSide   `json:"side"`
	Quantity float64            `json:"quantity"`
	Status   domain.OrderStatus `json:"status"`
}

// Result is the structured outcome of one execution attempt.
type Result struct {
	Status         string         `json:"status"`
	OpportunityID  string         `json:"opportunity_id"`
	Message        string         `json:"message"`
	Scale          float64        `json:"scale,omitempty"`
	ScaledNotional float64        `json:"scaled_notional,omitempty"`
	PositionID     string         `json:"position_id,omitempty"`
	Orders         []OrderSummary `json:"orders"`
}

// Executor runs the execution pipeline: audit start, risk checks,
// credential resolution, history record, per-leg submission, position
// creation, audit completion.
type Executor struct {
	orders    domain.OrderStore
	positions domain.PositionStore
	risks     domain.RiskLimitStore
	creds     domain.CredentialStore
	history   domain.OpportunityHistoryStore
	audit     domain.ExecutionLogStore
	venues    domain.VenueClientFactory
	logger    *slog.Logger
}

// New builds an Executor over the given stores and venue client factory.
func New(
	orders domain.OrderStore,
	positions domain.PositionStore,
	risks domain.RiskLimitStore,
	creds domain.CredentialStore,
	history domain.OpportunityHistoryStore,
	audit domain.ExecutionLogStore,
	venues domain.VenueClientFactory,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		orders:    orders,
		positions: positions,
		risks:     risks,
		creds:     creds,
		history:   history,
		audit:     audit,
		venues:    venues,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Execute runs the pipeline for one user and opportunity. Risk refusals
// come back as a populated Result plus the RiskCheckError; infrastructure
// faults come back with Status "error". Orders are market orders at the
// scaled quantity.
func (e *Executor) Execute(ctx context.Context, userID string, opp domain.Opportunity, dryRun bool) (Result, error) {
	log := e.logger.With(
		slog.String("user_id", userID),
		slog.String("opportunity_id", opp.ID),
		slog.String("type", string(opp.Type)),
	)
	e.logAudit(ctx, userID, "execute_start", "pending", map[string]any{
		"opportunity_id": opp.ID,
		"dry_run":        dryRun,
	})

	scale, limit, err := e.riskCheck(ctx, userID, opp)
	if err != nil {
		return e.refuseOrFail(ctx, userID, opp.ID, err, log)
	}

	creds, err := e.resolveCredentials(ctx, userID, opp)
	if err != nil {
		return e.refuseOrFail(ctx, userID, opp.ID, err, log)
	}

	// The history record is written whether or not orders follow; the
	// executed flag distinguishes real runs from dry runs.
	if err := e.history.Insert(ctx, historyRecord(userID, opp, !dryRun, dryRun)); err != nil {
		return e.fail(ctx, userID, opp.ID, fmt.Errorf("executor: record opportunity history: %w", err))
	}

	scaledNotional := opp.Notional * scale
	if dryRun {
		e.logAudit(ctx, userID, "execute_dry_run", "success", map[string]any{
			"opportunity_id":  opp.ID,
			"scale":           scale,
			"scaled_notional": scaledNotional,
		})
		metrics.Executions.WithLabelValues(StatusDryRun).Inc()
		return Result{
			Status:         StatusDryRun,
			OpportunityID:  opp.ID,
			Message:        "dry run successful, no orders placed",
			Scale:          scale,
			ScaledNotional: scaledNotional,
		}, nil
	}

	summaries, entryLegs := e.submitLegs(ctx, userID, opp, creds, limit, scale, log)

	positionID := ""
	if opp.Type.NeedsPosition() && len(entryLegs) > 0 {
		positionID, err = e.openPosition(ctx, userID, opp, entryLegs, limit)
		if err != nil {
			log.Error("position create failed", slog.Any("error", err))
		}
	}

	e.logAudit(ctx, userID, "execute_complete", "success", map[string]any{
		"opportunity_id": opp.ID,
		"order_count":    len(summaries),
		"submitted":      len(entryLegs),
	})
	metrics.Executions.WithLabelValues(StatusSuccess).Inc()
	return Result{
		Status:         StatusSuccess,
		OpportunityID:  opp.ID,
		Message:        fmt.Sprintf("%d of %d orders submitted", len(entryLegs), len(summaries)),
		Scale:          scale,
		ScaledNotional: scaledNotional,
		PositionID:     positionID,
		Orders:         summaries,
	}, nil
}

// refuseOrFail distinguishes a clean risk refusal (surfaced verbatim, no
// order placed) from an infrastructure fault.
func (e *Executor) refuseOrFail(ctx context.Context, userID, oppID string, err error, log *slog.Logger) (Result, error) {
	var rce *domain.RiskCheckError
	if !errors.As(err, &rce) {
		return e.fail(ctx, userID, oppID, err)
	}
	log.Warn("risk check refused execution", slog.String("reason", rce.Reason))
	e.logAudit(ctx, userID, "risk_check", "failure", map[string]any{
		"opportunity_id": oppID,
		"error":          rce.Reason,
	})
	metrics.Executions.WithLabelValues(StatusRiskCheckFailed).Inc()
	return Result{
		Status:        StatusRiskCheckFailed,
		OpportunityID: oppID,
		Message:       rce.Error(),
	}, err
}

// resolveCredentials loads one credential per distinct venue in the legs.
// A missing credential is a refusal: no order is placed anywhere.
func (e *Executor) resolveCredentials(ctx context.Context, userID string, opp domain.Opportunity) (map[string]domain.VenueCredential, error) {
	creds := make(map[string]domain.VenueCredential)
	for _, venue := range opp.Venues() {
		cred, err := e.creds.Get(ctx, userID, venue)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.RiskCheckFailed("no credential for venue %s", venue)
			}
			return nil, fmt.Errorf("executor: load credential for %s: %w", venue, err)
		}
		creds[venue] = cred
	}
	return creds, nil
}

// submitLegs places one market order per leg. Leg failures are recorded
// on that leg's order and do not stop the remaining legs; succeeded legs
// are never unwound here. Returns the per-order summaries and the legs
// that reached the venue, priced at the venue's ack when it reports one.
func (e *Executor) submitLegs(
	ctx context.Context,
	userID string,
	opp domain.Opportunity,
	creds map[string]domain.VenueCredential,
	limit domain.RiskLimit,
	scale float64,
	log *slog.Logger,
) ([]OrderSummary, []domain.Leg) {
	clients := make(map[string]domain.VenueClient)
	defer func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				log.Warn("venue client close failed", slog.String("venue", c.Venue()), slog.Any("error", err))
			}
		}
	}()

	var summaries []OrderSummary
	var entryLegs []domain.Leg
	for _, leg := range opp.Legs {
		qty := leg.Quantity * scale
		order := domain.Order{
			ID:            uuid.NewString(),
			UserID:        userID,
			OpportunityID: opp.ID,
			Venue:         leg.Venue,
			Symbol:        leg.Symbol,
			Side:          leg.Side,
			Type:          domain.OrderTypeMarket,
			Quantity:      qty,
			Status:        domain.OrderStatusPending,
			Metadata: map[string]any{
				"venue_type":       string(leg.Kind),
				"opportunity_type": string(opp.Type),
				"reference_price":  leg.Price,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := e.orders.Create(ctx, order); err != nil {
			log.Error("order create failed", slog.String("venue", leg.Venue), slog.Any("error", err))
			continue
		}

		status := e.submitOne(ctx, &order, leg, creds[leg.Venue], limit, clients, log)
		summaries = append(summaries, OrderSummary{
			ID:       order.ID,
			Venue:    order.Venue,
			Symbol:   order.Symbol,
			Side:     order.Side,
			Quantity: order.Quantity,
			Status:   status,
		})
		metrics.OrdersSubmitted.WithLabelValues(leg.Venue, string(status)).Inc()

		if status == domain.OrderStatusSubmitted {
			entry := leg
			entry.Quantity = qty
			if order.AvgFillPrice > 0 {
				entry.Price = order.AvgFillPrice
			}
			entryLegs = append(entryLegs, entry)
		}
	}
	return summaries, entryLegs
}

// submitOne sends a single order and returns its resulting status. The
// order's AvgFillPrice is updated in place when the venue acks a price.
func (e *Executor) submitOne(
	ctx context.Context,
	order *domain.Order,
	leg domain.Leg,
	cred domain.VenueCredential,
	limit domain.RiskLimit,
	clients map[string]domain.VenueClient,
	log *slog.Logger,
) domain.OrderStatus {
	client, ok := clients[leg.Venue]
	if !ok {
		var err error
		client, err = e.venues.ClientFor(leg.Venue, cred)
		if err != nil {
			log.Error("venue client build failed", slog.String("venue", leg.Venue), slog.Any("error", err))
			e.markFailed(ctx, order.ID, domain.OrderStatusFailed, err.Error())
			return domain.OrderStatusFailed
		}
		clients[leg.Venue] = client
	}

	if leg.Kind == domain.VenueKindPerp {
		if err := client.SetLeverage(ctx, leg.Symbol, limit.MaxLeverage); err != nil {
			log.Warn("set leverage failed, submitting anyway",
				slog.String("venue", leg.Venue), slog.Any("error", err))
		}
	}

	res, err := client.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:   leg.Symbol,
		Side:     leg.Side,
		Type:     domain.OrderTypeMarket,
		Quantity: order.Quantity,
	})
	if err != nil {
		status := domain.OrderStatusFailed
		var ve *domain.VenueError
		if errors.As(err, &ve) {
			status = ve.OrderStatusFor()
		}
		log.Warn("leg submission failed, continuing with remaining legs",
			slog.String("venue", leg.Venue),
			slog.String("status", string(status)),
			slog.Any("error", err))
		e.markFailed(ctx, order.ID, status, err.Error())
		return status
	}

	now := time.Now().UTC()
	if err := e.orders.MarkSubmitted(ctx, order.ID, res.VenueOrderID, res, now); err != nil {
		log.Error("order submit ack persist failed", slog.String("order_id", order.ID), slog.Any("error", err))
	}
	order.AvgFillPrice = res.AvgPrice
	log.Info("leg submitted",
		slog.String("venue", leg.Venue),
		slog.String("symbol", leg.Symbol),
		slog.String("side", string(leg.Side)),
		slog.Float64("quantity", order.Quantity),
		slog.String("venue_order_id", res.VenueOrderID))
	return domain.OrderStatusSubmitted
}

// openPosition snapshots the submitted legs into an open position with
// the user's trigger thresholds.
func (e *Executor) openPosition(ctx context.Context, userID string, opp domain.Opportunity, entryLegs []domain.Leg, limit domain.RiskLimit) (string, error) {
	var notional float64
	for _, leg := range entryLegs {
		notional += leg.Notional()
	}
	pos := domain.Position{
		ID:            uuid.NewString(),
		UserID:        userID,
		OpportunityID: opp.ID,
		Type:          opp.Type,
		Symbol:        opp.Symbol,
		Status:        domain.PositionStatusOpen,
		EntryLegs:     entryLegs,
		EntryNotional: notional,
		TargetProfit:  limit.TakeProfitPct,
		StopLoss:      limit.StopLossPct,
		Metadata:      opp.Metadata,
		OpenedAt:      time.Now().UTC(),
	}
	if err := e.positions.Create(ctx, pos); err != nil {
		return "", fmt.Errorf("executor: create position: %w", err)
	}
	metrics.PositionsOpen.Inc()
	return pos.ID, nil
}

func (e *Executor) markFailed(ctx context.Context, orderID string, status domain.OrderStatus, msg string) {
	if err := e.orders.MarkTerminal(ctx, orderID, status, msg); err != nil {
		e.logger.Error("order terminal persist failed",
			slog.String("order_id", orderID), slog.Any("error", err))
	}
}

func (e *Executor) fail(ctx context.Context, userID, oppID string, err error) (Result, error) {
	e.logger.Error("execution failed", slog.String("opportunity_id", oppID), slog.Any("error", err))
	e.logAudit(ctx, userID, "execute_error", "failure", map[string]any{
		"opportunity_id": oppID,
		"error":          err.Error(),
	})
	metrics.Executions.WithLabelValues(StatusError).Inc()
	return Result{
		Status:        StatusError,
		OpportunityID: oppID,
		Message:       err.Error(),
	}, err
}

// logAudit appends an audit row; the trail is best-effort and an append
// failure never aborts the execution it describes.
func (e *Executor) logAudit(ctx context.Context, userID, action, status string, detail map[string]any) {
	entry := domain.ExecutionLog{
		UserID:    userID,
		Action:    action,
		Status:    status,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Warn("audit append failed", slog.String("action", action), slog.Any("error", err))
	}
}

func historyRecord(userID string, opp domain.Opportunity, executed, dryRun bool) domain.OpportunityHistory {
	return domain.OpportunityHistory{
		OpportunityID:  opp.ID,
		UserID:         userID,
		Type:           opp.Type,
		Symbol:         opp.Symbol,
		SpreadBps:      opp.SpreadBps,
		ExpectedPnLPct: opp.ExpectedPnLPct,
		Notional:       opp.Notional,
		Legs:           opp.Legs,
		Metadata:       opp.Metadata,
		Executed:       executed,
		DryRun:         dryRun,
		CreatedAt:      time.Now().UTC(),
	}
}
