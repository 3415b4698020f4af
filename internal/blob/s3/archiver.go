package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// archiveBatchSize bounds how many rows one upload carries so a long
// retention backlog drains in pieces instead of one giant object.
const archiveBatchSize = 5000

// archiveLockTTL caps how long a crashed run can hold the retention lock.
const archiveLockTTL = 15 * time.Minute

// Locker hands out a distributed lock; the Redis LockManager satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Archiver implements domain.Archiver: aged opportunity-history and
// execution-log rows are serialized to JSONL, uploaded, verified, and only
// then deleted from the primary store.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	history domain.OpportunityHistoryStore
	execLog domain.ExecutionLogStore
	locker  Locker
	logger  *slog.Logger

	interval  time.Duration
	retention time.Duration
}

// NewArchiver creates an Archiver. locker may be nil when the deployment
// runs a single instance.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	history domain.OpportunityHistoryStore,
	execLog domain.ExecutionLogStore,
	locker Locker,
	interval time.Duration,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		history:   history,
		execLog:   execLog,
		locker:    locker,
		logger:    logger.With(slog.String("component", "archiver")),
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Run archives on the configured interval until ctx is cancelled. One pass
// runs immediately on startup.
func (a *Archiver) Run(ctx context.Context) {
	a.logger.Info("archiver started",
		slog.Duration("interval", a.interval),
		slog.Duration("retention", a.retention))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	if a.locker != nil {
		unlock, err := a.locker.Acquire(ctx, "archive", archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Debug("archive lock held elsewhere, skipping run")
			} else {
				a.logger.Warn("acquire archive lock", slog.Any("error", err))
			}
			return
		}
		defer unlock()
	}

	before := time.Now().UTC().Add(-a.retention)

	if n, err := a.ArchiveOpportunityHistory(ctx, before); err != nil {
		a.logger.Error("archive opportunity history", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("archived opportunity history", slog.Int64("rows", n))
	}

	if n, err := a.ArchiveExecutionLogs(ctx, before); err != nil {
		a.logger.Error("archive execution logs", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("archived execution logs", slog.Int64("rows", n))
	}
}

// ArchiveOpportunityHistory moves opportunity-history rows older than the
// cutoff to object storage and returns how many rows were archived.
func (a *Archiver) ArchiveOpportunityHistory(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		recs, err := a.history.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list opportunity history: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		last := recs[len(recs)-1].CreatedAt
		if err := uploadBatch(ctx, a, "opportunities", recs); err != nil {
			return total, err
		}

		// Delete exactly what was uploaded: everything at or before the
		// last row of the batch, which ListBefore returned oldest-first.
		n, err := a.history.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: delete opportunity history: %w", err)
		}
		total += n

		if len(recs) < archiveBatchSize {
			return total, nil
		}
	}
}

// ArchiveExecutionLogs moves execution-log rows older than the cutoff to
// object storage and returns how many rows were archived.
func (a *Archiver) ArchiveExecutionLogs(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		entries, err := a.execLog.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list execution logs: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		last := entries[len(entries)-1].CreatedAt
		if err := uploadBatch(ctx, a, "execution_logs", entries); err != nil {
			return total, err
		}

		n, err := a.execLog.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: delete execution logs: %w", err)
		}
		total += n

		if len(entries) < archiveBatchSize {
			return total, nil
		}
	}
}

// uploadBatch writes one JSONL object and confirms it landed before the
// caller deletes the source rows.
func uploadBatch[T any](ctx context.Context, a *Archiver, kind string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s batch: %w", kind, err)
	}

	path := archivePath(kind, time.Now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload %s batch: %w", kind, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s batch: %w", kind, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: verify %s batch: uploaded object %s missing", kind, path)
	}
	return nil
}

// archivePath builds the object key for one batch, partitioned by month
// with a timestamp suffix so successive batches never collide.
//
//	archive/opportunities/2026-08/20260831T120000.jsonl
func archivePath(kind string, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, now.Format("2006-01"), now.Format("20060102T150405"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
