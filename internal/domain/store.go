package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists exchange orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	// MarkSubmitted moves a pending order to submitted with the venue's
	// ack. It is a guarded update: rows not in pending are left alone.
	MarkSubmitted(ctx context.Context, id, venueOrderID string, fill SubmitResult, at time.Time) error
	// MarkTerminal records a terminal status and error message; it never
	// overwrites an already-terminal row.
	MarkTerminal(ctx context.Context, id string, status OrderStatus, errMsg string) error
	// UpdateFillState applies reconciliation results (status, filled
	// quantity, average price) to a non-terminal order.
	UpdateFillState(ctx context.Context, id string, status OrderStatus, filledQty, avgPrice float64, filledAt *time.Time) error
	ListReconcilable(ctx context.Context, limit int) ([]Order, error)
	CountActive(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Order, error)
	// DailyRealizedLoss sums realized slippage plus fees across the
	// user's orders filled since the start of the given day.
	DailyRealizedLoss(ctx context.Context, userID string, dayStart time.Time) (float64, error)
}

// FillStore persists append-only venue fills.
type FillStore interface {
	// Insert records a fill unless one already exists for the
	// (order, venue fill id) pair. Returns true when a row was written.
	Insert(ctx context.Context, fill Fill) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]Fill, error)
}

// PositionStore persists lifecycle-tracked positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosing(ctx context.Context) ([]Position, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Position, error)
	// UpdateLivePnL writes the monitor's PnL numbers; open rows only.
	UpdateLivePnL(ctx context.Context, id string, pnlPct, pnlUSD float64) error
	// MarkClosing flags an open position for the closer. The transition
	// is compare-and-set on status so a concurrent close cannot race.
	MarkClosing(ctx context.Context, id string, reason CloseReason) error
	// Finalize moves a closing position to closed with its exit record,
	// or to failed when exit submission did not complete. The failed
	// transition writes status only; exit legs, close time and realized
	// PnL remain unset until a retry closes the position.
	Finalize(ctx context.Context, id string, status PositionStatus, exitLegs []Leg, reason CloseReason, realizedPnL float64, closedAt time.Time) error
}

// RiskLimitStore persists per-user risk limits.
type RiskLimitStore interface {
	Get(ctx context.Context, userID string) (RiskLimit, error)
	Upsert(ctx context.Context, limit RiskLimit) error
}

// CredentialStore persists venue credentials, encrypted at rest.
type CredentialStore interface {
	Get(ctx context.Context, userID, venue string) (VenueCredential, error)
	Upsert(ctx context.Context, cred VenueCredential) error
	Delete(ctx context.Context, userID, venue string) error
}

// OpportunityHistoryStore persists the denormalized execution-time record.
type OpportunityHistoryStore interface {
	Insert(ctx context.Context, rec OpportunityHistory) error
	ListRecent(ctx context.Context, limit int) ([]OpportunityHistory, error)
	// DeleteBefore removes archived rows; used by the cold archiver.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]OpportunityHistory, error)
}

// ExecutionLogStore persists the executor's append-only audit trail.
type ExecutionLogStore interface {
	Append(ctx context.Context, entry ExecutionLog) error
	List(ctx context.Context, userID string, opts ListOpts) ([]ExecutionLog, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ExecutionLog, error)
}
