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

// ExecutionLogStore implements domain.ExecutionLogStore using PostgreSQL.
type ExecutionLogStore struct {
	pool *pgxpool.Pool
}

// NewExecutionLogStore creates an ExecutionLogStore backed by the given
// connection pool.
func NewExecutionLogStore(pool *pgxpool.Pool) *ExecutionLogStore {
	return &ExecutionLogStore{pool: pool}
}

// Append writes one audit row.
func (s *ExecutionLogStore) Append(ctx context.Context, entry domain.ExecutionLog) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution log detail: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO execution_log (user_id, action, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.pool.Exec(ctx, query, entry.UserID, entry.Action, entry.Status, detail, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: append execution log: %w", err)
	}
	return nil
}

const execLogSelectCols = `id, user_id, action, status, detail, created_at`

func scanExecLogRows(rows pgx.Rows) ([]domain.ExecutionLog, error) {
	var entries []domain.ExecutionLog
	for rows.Next() {
		var e domain.ExecutionLog
		var detail []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Status, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != nil {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal execution log detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns a user's audit rows with pagination and optional time
// filtering, newest first.
func (s *ExecutionLogStore) List(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.ExecutionLog, error) {
	query := `SELECT ` + execLogSelectCols + ` FROM execution_log WHERE user_id = $1`
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
		return nil, fmt.Errorf("postgres: list execution log for %s: %w", userID, err)
	}
	defer rows.Close()

	entries, err := scanExecLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan execution log for %s: %w", userID, err)
	}
	return entries, nil
}

// ListBefore returns audit rows older than the cutoff, oldest first.
func (s *ExecutionLogStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+execLogSelectCols+` FROM execution_log
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list execution log before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	entries, err := scanExecLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan execution log before cutoff: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes audit rows older than the cutoff and reports the
// count.
func (s *ExecutionLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM execution_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete execution log before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.ExecutionLogStore = (*ExecutionLogStore)(nil)
