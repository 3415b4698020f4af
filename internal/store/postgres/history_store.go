package postgres

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// OpportunityHistoryStore implements domain.OpportunityHistoryStore using
// PostgreSQL.
type OpportunityHistoryStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityHistoryStore creates an OpportunityHistoryStore backed by
// the given connection pool.
func NewOpportunityHistoryStore(pool *pgxpool.Pool) *OpportunityHistoryStore {
	return &OpportunityHistoryStore{pool: pool}
}

// Insert writes one execution-time history record.
func (s *OpportunityHistoryStore) Insert(ctx context.Context, rec domain.OpportunityHistory) error {
	legs, err := json.Marshal(rec.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal history legs: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal history metadata: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO opportunity_history (
			opportunity_id, user_id, opportunity_type, symbol, spread_bps,
			expected_pnl_pct, notional, legs, metadata, executed, dry_run, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, query,
		rec.OpportunityID, rec.UserID, string(rec.Type), rec.Symbol, rec.SpreadBps,
		rec.ExpectedPnLPct, rec.Notional, legs, metadata, rec.Executed, rec.DryRun, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity history: %w", err)
	}
	return nil
}

const historySelectCols = `id, opportunity_id, user_id, opportunity_type, symbol, spread_bps,
	expected_pnl_pct, notional, legs, metadata, executed, dry_run, created_at`

func scanHistoryRows(rows pgx.Rows) ([]domain.OpportunityHistory, error) {
	var recs []domain.OpportunityHistory
	for rows.Next() {
		var rec domain.OpportunityHistory
		var oppType string
		var legs, metadata []byte

		err := rows.Scan(
			&rec.ID, &rec.OpportunityID, &rec.UserID, &oppType, &rec.Symbol, &rec.SpreadBps,
			&rec.ExpectedPnLPct, &rec.Notional, &legs, &metadata, &rec.Executed, &rec.DryRun, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.Type = domain.OpportunityType(oppType)
		if legs != nil {
			if err := json.Unmarshal(legs, &rec.Legs); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal history legs: %w", err)
			}
		}
		if metadata != nil {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal history metadata: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListRecent returns the newest history records, newest first.
func (s *OpportunityHistoryStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historySelectCols+` FROM opportunity_history
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent history: %w", err)
	}
	defer rows.Close()

	recs, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent history: %w", err)
	}
	return recs, nil
}

// ListBefore returns records older than the cutoff, oldest first, for the
// archiver to batch out.
func (s *OpportunityHistoryStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.OpportunityHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historySelectCols+` FROM opportunity_history
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	recs, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history before cutoff: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes records older than the cutoff and reports the count.
func (s *OpportunityHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM opportunity_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete history before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.OpportunityHistoryStore = (*OpportunityHistoryStore)(nil)
