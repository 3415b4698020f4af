package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal order metadata: %w", err)
	}

	const query = `
		INSERT INTO orders (
			id, user_id, opportunity_id, venue, venue_order_id, symbol,
			side, order_type, quantity, limit_price, filled_qty,
			avg_fill_price, fee_usd, status, metadata, error_message,
			created_at, submitted_at, filled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19
		)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.UserID, o.OpportunityID, o.Venue, o.VenueOrderID, o.Symbol,
		string(o.Side), string(o.Type), o.Quantity, o.LimitPrice, o.FilledQty,
		o.AvgFillPrice, o.FeeUSD, string(o.Status), metadata, o.ErrorMessage,
		o.CreatedAt, o.SubmittedAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, user_id, opportunity_id, venue, venue_order_id, symbol,
	side, order_type, quantity, limit_price, filled_qty,
	avg_fill_price, fee_usd, status, metadata, error_message,
	created_at, submitted_at, filled_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status string
	var metadata []byte

	err := scanner.Scan(
		&o.ID, &o.UserID, &o.OpportunityID, &o.Venue, &o.VenueOrderID, &o.Symbol,
		&side, &orderType, &o.Quantity, &o.LimitPrice, &o.FilledQty,
		&o.AvgFillPrice, &o.FeeUSD, &status, &metadata, &o.ErrorMessage,
		&o.CreatedAt, &o.SubmittedAt, &o.FilledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	if metadata != nil {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: unmarshal order metadata: %w", err)
		}
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// MarkSubmitted moves a pending order to submitted with the venue's ack.
// The status guard in the WHERE clause keeps it from clobbering an order
// another worker already advanced.
func (s *OrderStore) MarkSubmitted(ctx context.Context, id, venueOrderID string, fill domain.SubmitResult, at time.Time) error {
	const query = `
		UPDATE orders SET
			status = 'submitted',
			venue_order_id = $2,
			filled_qty = GREATEST(filled_qty, $3),
			avg_fill_price = CASE WHEN $4 > 0 THEN $4 ELSE avg_fill_price END,
			fee_usd = fee_usd + $5,
			submitted_at = $6
		WHERE id = $1 AND status = 'pending'`

	_, err := s.pool.Exec(ctx, query, id, venueOrderID, fill.FilledQty, fill.AvgPrice, fill.FeeUSD, at)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s submitted: %w", id, err)
	}
	return nil
}

// MarkTerminal records a terminal status and error message. Rows already
// terminal are left alone.
func (s *OrderStore) MarkTerminal(ctx context.Context, id string, status domain.OrderStatus, errMsg string) error {
	const query = `
		UPDATE orders SET status = $2, error_message = $3
		WHERE id = $1
		  AND status NOT IN ('filled', 'cancelled', 'rejected', 'failed')`

	_, err := s.pool.Exec(ctx, query, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s terminal: %w", id, err)
	}
	return nil
}

// UpdateFillState applies reconciliation results to a non-terminal order.
func (s *OrderStore) UpdateFillState(ctx context.Context, id string, status domain.OrderStatus, filledQty, avgPrice float64, filledAt *time.Time) error {
	const query = `
		UPDATE orders SET
			status = $2,
			filled_qty = $3,
			avg_fill_price = $4,
			filled_at = COALESCE($5, filled_at)
		WHERE id = $1
		  AND status NOT IN ('filled', 'cancelled', 'rejected', 'failed')`

	_, err := s.pool.Exec(ctx, query, id, string(status), filledQty, avgPrice, filledAt)
	if err != nil {
		return fmt.Errorf("postgres: update fill state %s: %w", id, err)
	}
	return nil
}

// ListReconcilable returns submitted and partially filled orders with a
// venue order id, oldest first.
func (s *OrderStore) ListReconcilable(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status IN ('submitted', 'partially_filled')
		   AND venue_order_id <> ''
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reconcilable orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan reconcilable orders: %w", err)
	}
	return orders, nil
}

// CountActive counts a user's non-terminal orders.
func (s *OrderStore) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders
		 WHERE user_id = $1
		   AND status IN ('pending', 'submitted', 'partially_filled')`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active orders: %w", err)
	}
	return n, nil
}

// ListByUser returns a user's orders with pagination and optional time
// filtering.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", userID, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders for %s: %w", userID, err)
	}
	return orders, nil
}

// DailyRealizedLoss sums fees plus adverse slippage versus the recorded
// reference price across the user's orders filled since dayStart.
func (s *OrderStore) DailyRealizedLoss(ctx context.Context, userID string, dayStart time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(
			fee_usd + GREATEST(0,
				CASE WHEN side = 'buy'
					THEN (avg_fill_price - COALESCE((metadata->>'reference_price')::DOUBLE PRECISION, avg_fill_price)) * filled_qty
					ELSE (COALESCE((metadata->>'reference_price')::DOUBLE PRECISION, avg_fill_price) - avg_fill_price) * filled_qty
				END)
		), 0)
		FROM orders
		WHERE user_id = $1
		  AND filled_at >= $2
		  AND status IN ('filled', 'partially_filled')`

	var loss float64
	if err := s.pool.QueryRow(ctx, query, userID, dayStart).Scan(&loss); err != nil {
		return 0, fmt.Errorf("postgres: daily realized loss for %s: %w", userID, err)
	}
	return loss, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
