package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert writes a fill if its (order_id, venue_fill_id) pair has not been
// seen before. Returns true when a row was actually written.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) (bool, error) {
	const query = `
		INSERT INTO fills (order_id, venue_fill_id, quantity, price, fee_usd, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, venue_fill_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		f.OrderID, f.VenueFillID, f.Quantity, f.Price, f.FeeUSD, f.Timestamp)
	if err != nil {
		return false, fmt.Errorf("postgres: insert fill %s/%s: %w", f.OrderID, f.VenueFillID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByOrder returns all fills for an order, oldest first.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, venue_fill_id, quantity, price, fee_usd, ts
		 FROM fills
		 WHERE order_id = $1
		 ORDER BY ts ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", orderID, err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.VenueFillID, &f.Quantity, &f.Price, &f.FeeUSD, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fills for %s: %w", orderID, err)
	}
	return fills, nil
}

var _ domain.FillStore = (*FillStore)(nil)
