package autotrade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/metrics"
	"github.com/junheony/arbitrage-full/internal/notify"
)

// Manager owns at most one running trader per user. Stopping a trader
// cancels its loop and waits for it to return.
type Manager struct {
	source   OpportunitySource
	exec     Executor
	interval time.Duration
	seenTTL  time.Duration
	notifier *notify.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	traders map[string]*runningTrader
}

type runningTrader struct {
	trader *Trader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds a manager. interval and seenTTL apply to every trader
// it starts.
func NewManager(
	source OpportunitySource,
	exec Executor,
	interval time.Duration,
	seenTTL time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		source:   source,
		exec:     exec,
		interval: interval,
		seenTTL:  seenTTL,
		logger:   logger.With(slog.String("component", "autotrade_manager")),
		traders:  make(map[string]*runningTrader),
	}
}

// WithNotifier enables execution notifications on every trader the manager
// starts. A nil notifier is allowed.
func (m *Manager) WithNotifier(n *notify.Notifier) *Manager {
	m.notifier = n
	return m
}

// Start launches a trader for the user. Returns domain.ErrTraderExists if
// one is already running.
func (m *Manager) Start(ctx context.Context, userID string, strategy Strategy, dryRun bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.traders[userID]; ok {
		return fmt.Errorf("autotrade: user %s: %w", userID, domain.ErrTraderExists)
	}

	trader := NewTrader(m.source, m.exec, userID, strategy, m.interval, m.seenTTL, dryRun, m.logger).
		WithNotifier(m.notifier)
	runCtx, cancel := context.WithCancel(ctx)
	rt := &runningTrader{trader: trader, cancel: cancel, done: make(chan struct{})}
	m.traders[userID] = rt
	metrics.ActiveTraders.Inc()

	go func() {
		defer close(rt.done)
		trader.Run(runCtx)
	}()

	m.logger.Info("started auto trader",
		slog.String("user_id", userID),
		slog.String("strategy", strategy.Name()),
		slog.Bool("dry_run", dryRun))
	return nil
}

// Stop cancels the user's trader and waits for its loop to exit. Returns
// domain.ErrNotFound if no trader is running for the user.
func (m *Manager) Stop(userID string) error {
	m.mu.Lock()
	rt, ok := m.traders[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("autotrade: no trader for user %s: %w", userID, domain.ErrNotFound)
	}
	delete(m.traders, userID)
	m.mu.Unlock()

	rt.cancel()
	<-rt.done
	metrics.ActiveTraders.Dec()
	m.logger.Info("stopped auto trader", slog.String("user_id", userID))
	return nil
}

// StopAll stops every running trader. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.traders))
	for id := range m.traders {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			m.logger.Warn("stop trader", slog.String("user_id", id), slog.Any("error", err))
		}
	}
}

// TraderStatus describes one running trader.
type TraderStatus struct {
	UserID   string `json:"user_id"`
	Strategy string `json:"strategy"`
	DryRun   bool   `json:"dry_run"`
}

// Active lists the running traders sorted by user id.
func (m *Manager) Active() []TraderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TraderStatus, 0, len(m.traders))
	for _, rt := range m.traders {
		out = append(out, TraderStatus{
			UserID:   rt.trader.UserID(),
			Strategy: rt.trader.StrategyName(),
			DryRun:   rt.trader.DryRun(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
