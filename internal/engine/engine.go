// Package engine owns the polling cadence of the arbitrage pipeline: it
// fans out to every connector each tick, runs the detection algorithms,
// filters by deposit status, and fans the resulting opportunity set out
// to subscribers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/config"
	"github.com/junheony/arbitrage-full/internal/connector"
	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/metrics"
)

// Engine continuously ingests market data and generates arbitrage
// opportunities. State machine: stopped ⇄ running.
type Engine struct {
	cfg        *config.Config
	connectors []connector.QuoteSource
	perps      []connector.FundingSource
	deposit    *connector.DepositStatusCache
	cache      domain.OpportunityCache // may be nil
	bus        domain.SignalBus        // may be nil
	logger     *slog.Logger

	mu     sync.RWMutex
	latest []domain.Opportunity

	subMu sync.Mutex
	subs  map[chan []domain.Opportunity]struct{}

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New builds an Engine. perps must be a subset of connectors; they are
// additionally polled for funding snapshots each tick. cache and bus are
// optional sinks for the latest snapshot.
func New(
	cfg *config.Config,
	connectors []connector.QuoteSource,
	perps []connector.FundingSource,
	deposit *connector.DepositStatusCache,
	cache domain.OpportunityCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		connectors: connectors,
		perps:      perps,
		deposit:    deposit,
		cache:      cache,
		bus:        bus,
		logger:     logger.With(slog.String("component", "engine")),
		subs:       make(map[chan []domain.Opportunity]struct{}),
	}
}

// Latest returns the most recent opportunity snapshot. The returned
// slice is shared; callers must not mutate it.
func (e *Engine) Latest() []domain.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Subscribe registers a bounded snapshot channel. When the channel is
// full at publish time the oldest pending snapshot is dropped first:
// subscribers only ever need the freshest state, never a backlog.
func (e *Engine) Subscribe() chan []domain.Opportunity {
	ch := make(chan []domain.Opportunity, e.cfg.Engine.QueueCapacity)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	return ch
}

// Unsubscribe removes a previously registered channel.
func (e *Engine) Unsubscribe(ch chan []domain.Opportunity) {
	e.subMu.Lock()
	delete(e.subs, ch)
	e.subMu.Unlock()
}

// Start launches the tick loop. Calling Start on a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.run(runCtx)
}

// Stop signals cancellation, waits for the loop to exit, then closes all
// connectors concurrently. Connector close failures are logged, not
// raised.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.cancel()
	done := e.done
	e.running = false
	e.runMu.Unlock()

	<-done

	e.subMu.Lock()
	e.subs = make(map[chan []domain.Opportunity]struct{})
	e.subMu.Unlock()

	var wg sync.WaitGroup
	for _, c := range e.connectors {
		wg.Add(1)
		go func(c connector.QuoteSource) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				e.logger.Warn("connector close failed",
					slog.String("venue", c.Name()), slog.Any("error", err))
			}
		}(c)
	}
	wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	e.logger.Info("starting opportunity engine",
		slog.Int("connectors", len(e.connectors)),
		slog.Duration("poll_interval", e.cfg.Engine.PollInterval.Duration))

	ticker := time.NewTicker(e.cfg.Engine.PollInterval.Duration)
	defer ticker.Stop()

	for {
		if err := e.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.EngineTickErrors.Inc()
			e.logger.Error("tick failed, backing off", slog.Any("error", err))
			select {
			case <-time.After(e.cfg.Engine.ErrorBackoff.Duration):
			case <-ctx.Done():
				return
			}
			continue
		}
		metrics.EngineTicks.Inc()

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) tick(ctx context.Context) (err error) {
	defer func() {
		// A detector bug must not kill the loop; it surfaces as a tick
		// error and the loop backs off.
		if r := recover(); r != nil {
			e.logger.Error("tick panicked", slog.Any("panic", r))
			err = &tickPanicError{value: r}
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.FetchTimeout.Duration)
	defer cancel()

	quotes := e.gatherQuotes(fetchCtx)
	perpData := e.gatherFunding(fetchCtx)

	var opps []domain.Opportunity
	if e.cfg.Kimchi.Enabled {
		opps = append(opps, e.detectKimchiPremium(quotes, perpData)...)
	}
	if e.cfg.Funding.Enabled {
		opps = append(opps, e.detectFundingArb(perpData)...)
	}
	if e.cfg.PerpPerp.Enabled {
		opps = append(opps, e.detectPerpSpread(perpData)...)
	}
	if e.cfg.Basis.Enabled {
		opps = append(opps, e.detectSpotPerpBasis(quotes, perpData)...)
	}

	for _, opp := range opps {
		metrics.OpportunitiesDetected.WithLabelValues(string(opp.Type)).Inc()
	}

	filtered := e.filterByDepositStatus(ctx, opps)

	e.mu.Lock()
	e.latest = filtered
	e.mu.Unlock()

	e.publish(ctx, filtered)
	return nil
}

type tickPanicError struct{ value any }

func (e *tickPanicError) Error() string { return fmt.Sprintf("engine: tick panic: %v", e.value) }

// gatherQuotes fans out to every connector concurrently. A failing
// connector reduces this tick's coverage; it never aborts the gather.
func (e *Engine) gatherQuotes(ctx context.Context) []domain.Quote {
	var (
		mu     sync.Mutex
		quotes []domain.Quote
		wg     sync.WaitGroup
	)
	for _, c := range e.connectors {
		wg.Add(1)
		go func(c connector.QuoteSource) {
			defer wg.Done()
			qs, err := c.FetchQuotes(ctx)
			if err != nil {
				metrics.ConnectorFailures.WithLabelValues(c.Name()).Inc()
				e.logger.Warn("connector fetch failed",
					slog.String("venue", c.Name()), slog.Any("error", err))
				return
			}
			mu.Lock()
			quotes = append(quotes, qs...)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return quotes
}

func (e *Engine) gatherFunding(ctx context.Context) []domain.FundingSnapshot {
	var (
		mu    sync.Mutex
		snaps []domain.FundingSnapshot
		wg    sync.WaitGroup
	)
	for _, c := range e.perps {
		wg.Add(1)
		go func(c connector.FundingSource) {
			defer wg.Done()
			ss, err := c.FetchFundingSnapshots(ctx)
			if err != nil {
				metrics.ConnectorFailures.WithLabelValues(c.Name()).Inc()
				e.logger.Warn("funding fetch failed",
					slog.String("venue", c.Name()), slog.Any("error", err))
				return
			}
			mu.Lock()
			snaps = append(snaps, ss...)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return snaps
}

// filterByDepositStatus drops opportunities whose legs reference an
// asset with impaired deposits or withdrawals on any venue.
func (e *Engine) filterByDepositStatus(ctx context.Context, opps []domain.Opportunity) []domain.Opportunity {
	if e.deposit == nil {
		return opps
	}
	filtered := make([]domain.Opportunity, 0, len(opps))
	for _, opp := range opps {
		tradeable := true
		for _, leg := range opp.Legs {
			if !e.deposit.IsTradeable(ctx, leg.Venue, baseAssetOf(leg.Symbol)) {
				tradeable = false
				break
			}
		}
		if tradeable {
			filtered = append(filtered, opp)
		}
	}
	if dropped := len(opps) - len(filtered); dropped > 0 {
		metrics.OpportunitiesFiltered.Add(float64(dropped))
		e.logger.Info("filtered opportunities with impaired transfers",
			slog.Int("dropped", dropped))
	}
	return filtered
}

// baseAssetOf extracts the base asset from a leg symbol such as
// "BTC/USDT" or "BTC/USDT:USDT".
func baseAssetOf(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i >= 0 {
		return symbol[:i]
	}
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// publish delivers the snapshot to the latest-cache, the signal bus, and
// every subscriber queue (drop-oldest on overflow). All sinks are
// best-effort.
func (e *Engine) publish(ctx context.Context, opps []domain.Opportunity) {
	if e.cache != nil {
		if err := e.cache.SetLatest(ctx, opps); err != nil {
			e.logger.Warn("latest cache update failed", slog.Any("error", err))
		}
	}
	if e.bus != nil {
		payload, err := json.Marshal(opps)
		if err == nil {
			if err := e.bus.Publish(ctx, e.cfg.Engine.PublishChannel, payload); err != nil {
				e.logger.Warn("bus publish failed", slog.Any("error", err))
			}
		}
	}

	e.subMu.Lock()
	for ch := range e.subs {
		publishDropOldest(ch, opps)
	}
	e.subMu.Unlock()
}

// publishDropOldest pushes snap onto ch without blocking; when the
// channel is full it evicts the oldest pending snapshot first.
func publishDropOldest(ch chan []domain.Opportunity, snap []domain.Opportunity) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
