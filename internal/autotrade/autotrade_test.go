package autotrade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	mu   sync.Mutex
	opps []domain.Opportunity
}

func (s *stubSource) Latest() []domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Opportunity(nil), s.opps...)
}

func (s *stubSource) set(opps []domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps = opps
}

type execCall struct {
	userID string
	oppID  string
	dryRun bool
}

type recordingExecutor struct {
	mu     sync.Mutex
	calls  []execCall
	result executor.Result
	err    error
}

func (r *recordingExecutor) Execute(_ context.Context, userID string, opp domain.Opportunity, dryRun bool) (executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, execCall{userID: userID, oppID: opp.ID, dryRun: dryRun})
	res := r.result
	res.OpportunityID = opp.ID
	return res, r.err
}

func (r *recordingExecutor) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func strongOpportunity(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:             id,
		Type:           domain.OpportunityFundingArb,
		Symbol:         "BTC/USDT:USDT",
		SpreadBps:      60,
		ExpectedPnLPct: 0.8,
		Notional:       10000,
		Metadata:       map[string]any{"funding_rate_apr": 54.75},
	}
}

func TestStrategyByName(t *testing.T) {
	for _, name := range []string{"conservative", "aggressive", "funding_rate"} {
		s, err := StrategyByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	_, err := StrategyByName("yolo")
	assert.Error(t, err)
}

func TestThresholdStrategyFloors(t *testing.T) {
	s := Conservative()

	assert.True(t, s.ShouldExecute(strongOpportunity("o1")))

	weak := strongOpportunity("o2")
	weak.SpreadBps = 40
	assert.False(t, s.ShouldExecute(weak), "below spread floor")

	// The aggressive floors are lower, so the same opportunity passes.
	assert.True(t, Aggressive().ShouldExecute(weak))

	tiny := strongOpportunity("o3")
	tiny.Notional = 10
	assert.False(t, s.ShouldExecute(tiny), "below notional floor")
}

func TestFundingRateStrategy(t *testing.T) {
	s := FundingRate()

	assert.True(t, s.ShouldExecute(strongOpportunity("o1")))

	wrongType := strongOpportunity("o2")
	wrongType.Type = domain.OpportunityKimchiPremium
	assert.False(t, s.ShouldExecute(wrongType))

	lowAPR := strongOpportunity("o3")
	lowAPR.Metadata = map[string]any{"funding_rate_apr": 5.0}
	assert.False(t, s.ShouldExecute(lowAPR))

	noMetadata := strongOpportunity("o4")
	noMetadata.Metadata = nil
	assert.False(t, s.ShouldExecute(noMetadata))
}

func TestTraderExecutesEachOpportunityOnce(t *testing.T) {
	source := &stubSource{}
	source.set([]domain.Opportunity{strongOpportunity("opp-1")})
	exec := &recordingExecutor{result: executor.Result{Status: executor.StatusSuccess}}
	trader := NewTrader(source, exec, "u1", Conservative(), time.Second, 10*time.Minute, false, testLogger())

	trader.Cycle(context.Background())
	trader.Cycle(context.Background())

	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, execCall{userID: "u1", oppID: "opp-1", dryRun: false}, exec.calls[0])
}

func TestTraderSkipsNonQualifying(t *testing.T) {
	weak := strongOpportunity("opp-1")
	weak.ExpectedPnLPct = 0.1
	source := &stubSource{}
	source.set([]domain.Opportunity{weak})
	exec := &recordingExecutor{result: executor.Result{Status: executor.StatusSuccess}}
	trader := NewTrader(source, exec, "u1", Conservative(), time.Second, 10*time.Minute, true, testLogger())

	trader.Cycle(context.Background())

	assert.Zero(t, exec.callCount())
}

func TestTraderPicksUpNewIDsAcrossTicks(t *testing.T) {
	source := &stubSource{}
	source.set([]domain.Opportunity{strongOpportunity("tick1-a")})
	exec := &recordingExecutor{result: executor.Result{Status: executor.StatusSuccess}}
	trader := NewTrader(source, exec, "u1", Aggressive(), time.Second, 10*time.Minute, true, testLogger())

	trader.Cycle(context.Background())
	source.set([]domain.Opportunity{strongOpportunity("tick2-a"), strongOpportunity("tick2-b")})
	trader.Cycle(context.Background())

	require.Equal(t, 3, exec.callCount())
	assert.True(t, exec.calls[1].dryRun)
}

func TestTraderRemembersIDAfterFailedExecution(t *testing.T) {
	source := &stubSource{}
	source.set([]domain.Opportunity{strongOpportunity("opp-1")})
	exec := &recordingExecutor{
		result: executor.Result{Status: executor.StatusRiskCheckFailed},
		err:    errors.New("no risk limits configured for user u1"),
	}
	trader := NewTrader(source, exec, "u1", Conservative(), time.Second, 10*time.Minute, false, testLogger())

	trader.Cycle(context.Background())
	trader.Cycle(context.Background())

	assert.Equal(t, 1, exec.callCount(), "a refused opportunity id is not retried")
}

func TestSeenSetExpiry(t *testing.T) {
	seen := newSeenSet(time.Millisecond)

	assert.True(t, seen.MarkIfNew("a"))
	assert.False(t, seen.MarkIfNew("a"))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, seen.MarkIfNew("a"), "expired ids may be acted on again")

	time.Sleep(5 * time.Millisecond)
	seen.Cleanup()
	assert.Zero(t, seen.len())
}

func TestManagerOneTraderPerUser(t *testing.T) {
	source := &stubSource{}
	exec := &recordingExecutor{result: executor.Result{Status: executor.StatusSuccess}}
	mgr := NewManager(source, exec, time.Hour, 10*time.Minute, testLogger())
	defer mgr.StopAll()

	require.NoError(t, mgr.Start(context.Background(), "u1", Conservative(), true))

	err := mgr.Start(context.Background(), "u1", Aggressive(), true)
	require.ErrorIs(t, err, domain.ErrTraderExists)

	require.NoError(t, mgr.Start(context.Background(), "u2", FundingRate(), false))

	active := mgr.Active()
	require.Len(t, active, 2)
	assert.Equal(t, TraderStatus{UserID: "u1", Strategy: "conservative", DryRun: true}, active[0])
	assert.Equal(t, TraderStatus{UserID: "u2", Strategy: "funding_rate", DryRun: false}, active[1])
}

func TestManagerStopAwaitsLoopExit(t *testing.T) {
	source := &stubSource{}
	exec := &recordingExecutor{result: executor.Result{Status: executor.StatusSuccess}}
	mgr := NewManager(source, exec, time.Millisecond, 10*time.Minute, testLogger())

	require.NoError(t, mgr.Start(context.Background(), "u1", Conservative(), true))
	require.NoError(t, mgr.Stop("u1"))

	assert.Empty(t, mgr.Active())

	err := mgr.Stop("u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManagerStopAll(t *testing.T) {
	source := &stubSource{}
	exec := &recordingExecutor{result: executor.Result{Status: executor.StatusSuccess}}
	mgr := NewManager(source, exec, time.Hour, 10*time.Minute, testLogger())

	require.NoError(t, mgr.Start(context.Background(), "u1", Conservative(), true))
	require.NoError(t, mgr.Start(context.Background(), "u2", Aggressive(), true))

	mgr.StopAll()

	assert.Empty(t, mgr.Active())
}
