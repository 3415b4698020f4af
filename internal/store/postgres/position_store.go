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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	entryLegs, err := json.Marshal(p.EntryLegs)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry legs: %w", err)
	}
	var exitLegs []byte
	if p.ExitLegs != nil {
		exitLegs, err = json.Marshal(p.ExitLegs)
		if err != nil {
			return fmt.Errorf("postgres: marshal exit legs: %w", err)
		}
	}
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal position metadata: %w", err)
	}

	const query = `
		INSERT INTO positions (
			id, user_id, opportunity_id, position_type, symbol, status,
			entry_legs, entry_notional, target_profit_pct, stop_loss_pct,
			live_pnl_pct, live_pnl_usd, exit_legs, exit_reason,
			realized_pnl_usd, metadata, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.OpportunityID, string(p.Type), p.Symbol, string(p.Status),
		entryLegs, p.EntryNotional, p.TargetProfit, p.StopLoss,
		p.LivePnLPct, p.LivePnLUSD, exitLegs, string(p.ExitReason),
		p.RealizedPnL, metadata, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

const positionSelectCols = `id, user_id, opportunity_id, position_type, symbol, status,
	entry_legs, entry_notional, target_profit_pct, stop_loss_pct,
	live_pnl_pct, live_pnl_usd, exit_legs, exit_reason,
	realized_pnl_usd, metadata, opened_at, closed_at`

func scanPositionFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Position, error) {
	var p domain.Position
	var posType, status, exitReason string
	var entryLegs, exitLegs, metadata []byte

	err := scanner.Scan(
		&p.ID, &p.UserID, &p.OpportunityID, &posType, &p.Symbol, &status,
		&entryLegs, &p.EntryNotional, &p.TargetProfit, &p.StopLoss,
		&p.LivePnLPct, &p.LivePnLUSD, &exitLegs, &exitReason,
		&p.RealizedPnL, &metadata, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Type = domain.OpportunityType(posType)
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.CloseReason(exitReason)
	if err := json.Unmarshal(entryLegs, &p.EntryLegs); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: unmarshal entry legs: %w", err)
	}
	if exitLegs != nil {
		if err := json.Unmarshal(exitLegs, &p.ExitLegs); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: unmarshal exit legs: %w", err)
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: unmarshal position metadata: %w", err)
		}
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionFromRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetByID retrieves a single position by ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PositionStore) listByStatus(ctx context.Context, status string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = $1
		 ORDER BY opened_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s positions: %w", status, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s positions: %w", status, err)
	}
	return positions, nil
}

// ListOpen returns all open positions, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.listByStatus(ctx, string(domain.PositionStatusOpen))
}

// ListClosing returns all positions with a close in flight.
func (s *PositionStore) ListClosing(ctx context.Context) ([]domain.Position, error) {
	return s.listByStatus(ctx, string(domain.PositionStatusClosing))
}

// ListByUser returns a user's positions with pagination and optional time
// filtering against opened_at.
func (s *PositionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list positions for %s: %w", userID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", userID, err)
	}
	return positions, nil
}

// UpdateLivePnL writes the monitor's mark-to-market numbers. Only open
// positions are updated; anything else means the close path owns the row.
func (s *PositionStore) UpdateLivePnL(ctx context.Context, id string, pnlPct, pnlUSD float64) error {
	const query = `
		UPDATE positions SET live_pnl_pct = $2, live_pnl_usd = $3
		WHERE id = $1 AND status = 'open'`

	_, err := s.pool.Exec(ctx, query, id, pnlPct, pnlUSD)
	if err != nil {
		return fmt.Errorf("postgres: update live pnl %s: %w", id, err)
	}
	return nil
}

// MarkClosing atomically claims an open or failed position for closing.
// Returns domain.ErrNotFound when another closer won the race or the id
// does not exist.
func (s *PositionStore) MarkClosing(ctx context.Context, id string, reason domain.CloseReason) error {
	const query = `
		UPDATE positions SET status = 'closing', exit_reason = $2
		WHERE id = $1 AND status IN ('open', 'failed')`

	tag, err := s.pool.Exec(ctx, query, id, string(reason))
	if err != nil {
		return fmt.Errorf("postgres: mark position %s closing: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark position %s closing: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Finalize writes the close outcome. The position must be in closing.
// A failed close flips status only: exit legs, close time and realized
// PnL stay unset until a retry actually closes the position.
func (s *PositionStore) Finalize(ctx context.Context, id string, status domain.PositionStatus, exitLegs []domain.Leg, reason domain.CloseReason, realizedPnL float64, closedAt time.Time) error {
	if status == domain.PositionStatusFailed {
		const query = `
			UPDATE positions SET status = 'failed'
			WHERE id = $1 AND status = 'closing'`

		tag, err := s.pool.Exec(ctx, query, id)
		if err != nil {
			return fmt.Errorf("postgres: finalize position %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: finalize position %s: %w", id, domain.ErrNotFound)
		}
		return nil
	}

	legs, err := json.Marshal(exitLegs)
	if err != nil {
		return fmt.Errorf("postgres: marshal exit legs: %w", err)
	}

	const query = `
		UPDATE positions SET
			status = $2,
			exit_legs = $3,
			exit_reason = $4,
			realized_pnl_usd = $5,
			closed_at = $6
		WHERE id = $1 AND status = 'closing'`

	tag, err := s.pool.Exec(ctx, query, id, string(status), legs, string(reason), realizedPnL, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: finalize position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finalize position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
