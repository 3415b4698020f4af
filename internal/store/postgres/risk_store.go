package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// RiskLimitStore implements domain.RiskLimitStore using PostgreSQL.
type RiskLimitStore struct {
	pool *pgxpool.Pool
}

// NewRiskLimitStore creates a RiskLimitStore backed by the given connection pool.
func NewRiskLimitStore(pool *pgxpool.Pool) *RiskLimitStore {
	return &RiskLimitStore{pool: pool}
}

// Get retrieves a user's risk limits. Returns domain.ErrNotFound when the
// user has no explicit limits row; callers fall back to the default envelope.
func (s *RiskLimitStore) Get(ctx context.Context, userID string) (domain.RiskLimit, error) {
	const query = `
		SELECT user_id, max_position_usd, max_leverage, max_daily_loss_usd,
		       max_open_orders, stop_loss_pct, take_profit_pct, updated_at
		FROM risk_limits
		WHERE user_id = $1`

	var l domain.RiskLimit
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&l.UserID, &l.MaxPositionUSD, &l.MaxLeverage, &l.MaxDailyLossUSD,
		&l.MaxOpenOrders, &l.StopLossPct, &l.TakeProfitPct, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskLimit{}, domain.ErrNotFound
		}
		return domain.RiskLimit{}, fmt.Errorf("postgres: get risk limits for %s: %w", userID, err)
	}
	return l, nil
}

// Upsert creates or replaces a user's risk limits row.
func (s *RiskLimitStore) Upsert(ctx context.Context, limit domain.RiskLimit) error {
	const query = `
		INSERT INTO risk_limits (
			user_id, max_position_usd, max_leverage, max_daily_loss_usd,
			max_open_orders, stop_loss_pct, take_profit_pct, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			max_position_usd = EXCLUDED.max_position_usd,
			max_leverage = EXCLUDED.max_leverage,
			max_daily_loss_usd = EXCLUDED.max_daily_loss_usd,
			max_open_orders = EXCLUDED.max_open_orders,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct,
			updated_at = EXCLUDED.updated_at`

	updatedAt := limit.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		limit.UserID, limit.MaxPositionUSD, limit.MaxLeverage, limit.MaxDailyLossUSD,
		limit.MaxOpenOrders, limit.StopLossPct, limit.TakeProfitPct, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk limits for %s: %w", limit.UserID, err)
	}
	return nil
}

var _ domain.RiskLimitStore = (*RiskLimitStore)(nil)
