package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = buf
	m.puts++
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []domain.BlobInfo
	for path, data := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memHistoryStore struct {
	recs []domain.OpportunityHistory
}

func (s *memHistoryStore) Insert(_ context.Context, rec domain.OpportunityHistory) error {
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memHistoryStore) ListRecent(_ context.Context, limit int) ([]domain.OpportunityHistory, error) {
	if len(s.recs) < limit {
		limit = len(s.recs)
	}
	return s.recs[:limit], nil
}

func (s *memHistoryStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.OpportunityHistory, error) {
	var out []domain.OpportunityHistory
	for _, rec := range s.recs {
		if rec.CreatedAt.Before(before) {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memHistoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.OpportunityHistory
	var deleted int64
	for _, rec := range s.recs {
		if rec.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.recs = kept
	return deleted, nil
}

type memExecLogStore struct {
	entries []domain.ExecutionLog
}

func (s *memExecLogStore) Append(_ context.Context, entry domain.ExecutionLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memExecLogStore) List(_ context.Context, _ string, _ domain.ListOpts) ([]domain.ExecutionLog, error) {
	return s.entries, nil
}

func (s *memExecLogStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.ExecutionLog, error) {
	var out []domain.ExecutionLog
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memExecLogStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.ExecutionLog
	var deleted int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveOpportunityHistoryMovesOldRows(t *testing.T) {
	blob := newMemBlob()
	history := &memHistoryStore{}
	execLog := &memExecLogStore{}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		history.recs = append(history.recs, domain.OpportunityHistory{
			OpportunityID: "opp-old",
			CreatedAt:     now.Add(-100 * 24 * time.Hour),
		})
	}
	history.recs = append(history.recs, domain.OpportunityHistory{
		OpportunityID: "opp-fresh",
		CreatedAt:     now,
	})

	a := NewArchiver(blob, blob, history, execLog, nil, time.Hour, 90, testLogger())

	n, err := a.ArchiveOpportunityHistory(context.Background(), now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Fresh row survives, old rows are gone, one object was uploaded.
	require.Len(t, history.recs, 1)
	assert.Equal(t, "opp-fresh", history.recs[0].OpportunityID)
	assert.Equal(t, 1, blob.puts)

	infos, err := blob.List(context.Background(), "archive/opportunities/")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	rc, err := blob.Get(context.Background(), infos[0].Path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "opp-old"))
}

func TestArchiveExecutionLogsNothingToDo(t *testing.T) {
	blob := newMemBlob()
	execLog := &memExecLogStore{entries: []domain.ExecutionLog{
		{Action: "execute", CreatedAt: time.Now().UTC()},
	}}

	a := NewArchiver(blob, blob, &memHistoryStore{}, execLog, nil, time.Hour, 90, testLogger())

	n, err := a.ArchiveExecutionLogs(context.Background(), time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, blob.puts)
	assert.Len(t, execLog.entries, 1)
}

type refusingLocker struct{}

func (refusingLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	blob := newMemBlob()
	history := &memHistoryStore{recs: []domain.OpportunityHistory{
		{OpportunityID: "opp-old", CreatedAt: time.Now().UTC().Add(-100 * 24 * time.Hour)},
	}}

	a := NewArchiver(blob, blob, history, &memExecLogStore{}, refusingLocker{}, time.Hour, 90, testLogger())
	a.runOnce(context.Background())

	assert.Len(t, history.recs, 1)
	assert.Zero(t, blob.puts)
}
