// Package app provides the top-level application lifecycle for the
// arbitrage daemon. It wires together all dependencies (stores, caches,
// blob storage, connectors, monitors, and notifications) and runs the
// engine, the background loops, and the HTTP API until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/junheony/arbitrage-full/internal/autotrade"
	"github.com/junheony/arbitrage-full/internal/config"
	"github.com/junheony/arbitrage-full/internal/connector"
	"github.com/junheony/arbitrage-full/internal/engine"
	"github.com/junheony/arbitrage-full/internal/executor"
	"github.com/junheony/arbitrage-full/internal/monitor"
	"github.com/junheony/arbitrage-full/internal/server"
	"github.com/junheony/arbitrage-full/internal/server/handler"
	"github.com/junheony/arbitrage-full/internal/server/ws"
	"github.com/junheony/arbitrage-full/internal/venue"
)

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependency graph and runs every configured component until
// ctx is cancelled. It returns the first fatal error, or ctx.Err() on a
// clean shutdown.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	defer cleanup()

	quotes, perps := a.buildConnectors()
	deposit := connector.NewDepositStatusCache(
		a.cfg.Deposit.CacheTTL.Duration,
		a.cfg.Venues.HTTPTimeout.Duration,
		a.logger,
	)

	eng := engine.New(a.cfg, quotes, perps, deposit, deps.OpportunityCache, deps.SignalBus, a.logger)
	eng.Start(ctx)
	defer eng.Stop()

	venues := venue.NewFactory(a.cfg.Venues, a.logger)
	exec := executor.New(
		deps.OrderStore,
		deps.PositionStore,
		deps.RiskLimitStore,
		deps.CredentialStore,
		deps.HistoryStore,
		deps.ExecLogStore,
		venues,
		a.logger,
	)

	fillMon := monitor.NewFillMonitor(
		deps.OrderStore,
		deps.FillStore,
		deps.CredentialStore,
		venues,
		a.cfg.Monitor.FillInterval.Duration,
		a.cfg.Monitor.FillBatchSize,
		a.logger,
	)
	posMon := monitor.NewPositionMonitor(
		deps.PositionStore,
		perps,
		a.cfg.Monitor.PositionInterval.Duration,
		a.cfg.Executor.SpreadConvergedPct,
		a.logger,
	)
	closer := monitor.NewPositionCloser(
		deps.PositionStore,
		deps.OrderStore,
		deps.RiskLimitStore,
		deps.CredentialStore,
		venues,
		a.cfg.Monitor.CloserInterval.Duration,
		a.logger,
	).WithNotifier(deps.Notifier)

	manager := autotrade.NewManager(
		eng,
		exec,
		a.cfg.AutoTrade.CheckInterval.Duration,
		a.cfg.AutoTrade.SeenTTL.Duration,
		a.logger,
	).WithNotifier(deps.Notifier)
	defer manager.StopAll()

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return fillMon.Run(runCtx) })
	g.Go(func() error { return posMon.Run(runCtx) })
	g.Go(func() error { return closer.Run(runCtx) })

	if deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.Run(runCtx)
			return runCtx.Err()
		})
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.cfg.Engine.PublishChannel, eng, a.logger)
		g.Go(func() error { return hub.Run(runCtx) })

		health := handler.NewHealthHandler(a.logger)
		health.AddCheck("postgres", deps.Postgres)
		health.AddCheck("redis", deps.Redis)

		handlers := server.Handlers{
			Health:        health,
			Opportunities: handler.NewOpportunityHandler(eng, deps.HistoryStore, a.logger),
			Execute:       handler.NewExecuteHandler(exec, eng, a.logger),
			Orders:        handler.NewOrderHandler(deps.OrderStore, deps.FillStore, a.logger),
			Positions:     handler.NewPositionHandler(deps.PositionStore, closer, a.logger),
			Risk:          handler.NewRiskHandler(deps.RiskLimitStore, a.logger),
			Credentials:   handler.NewCredentialHandler(deps.CredentialStore, a.logger),
			AutoTrade:     handler.NewAutoTradeHandler(manager, runCtx, a.logger),
			ExecLog:       handler.NewExecLogHandler(deps.ExecLogStore, a.logger),
		}

		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, handlers, hub, a.logger)

		g.Go(func() error {
			<-runCtx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
		g.Go(srv.Start)
	}

	a.logger.Info("arbitrage daemon running",
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Bool("archive", a.cfg.Archive.Enabled),
		slog.Bool("paper_trading", a.cfg.Venues.PaperTrading))

	return g.Wait()
}

// buildConnectors assembles the enabled quote and funding sources. Perp
// sources also feed the quote pipeline so detectors see their marks.
func (a *App) buildConnectors() ([]connector.QuoteSource, []connector.FundingSource) {
	var (
		quotes []connector.QuoteSource
		perps  []connector.FundingSource
	)
	v := a.cfg.Venues
	timeout := v.HTTPTimeout.Duration

	if v.Binance.Enabled {
		quotes = append(quotes, connector.NewBinanceSpot(v.Binance.BaseURL, v.Symbols, timeout, a.logger))
	}
	if v.OKX.Enabled {
		quotes = append(quotes, connector.NewOKXSpot(v.OKX.BaseURL, v.Symbols, timeout, a.logger))
	}
	if v.Upbit.Enabled {
		quotes = append(quotes, connector.NewUpbitSpot(v.Upbit.BaseURL, v.Symbols, timeout, a.logger))
	}
	if v.Bithumb.Enabled {
		quotes = append(quotes, connector.NewBithumbSpot(v.Bithumb.BaseURL, v.Symbols, timeout, a.logger))
	}
	if v.BinancePerp.Enabled {
		p := connector.NewBinancePerp(v.BinancePerp.BaseURL, v.Symbols, timeout, a.logger)
		quotes = append(quotes, p)
		perps = append(perps, p)
	}
	if v.BybitPerp.Enabled {
		p := connector.NewBybitPerp(v.BybitPerp.BaseURL, v.Symbols, timeout, a.logger)
		quotes = append(quotes, p)
		perps = append(perps, p)
	}

	quotes = append(quotes, connector.NewKRWUSDForex(
		a.cfg.FX.DunamuURL,
		a.cfg.FX.ExchangerateURL,
		v.Upbit.BaseURL,
		a.cfg.FX.FallbackRate,
		timeout,
		a.logger,
	))
	return quotes, perps
}
