package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/junheony/arbitrage-full/internal/blob/s3"
	"github.com/junheony/arbitrage-full/internal/cache/redis"
	"github.com/junheony/arbitrage-full/internal/config"
	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/notify"
	"github.com/junheony/arbitrage-full/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the daemon
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	OrderStore      domain.OrderStore
	FillStore       domain.FillStore
	PositionStore   domain.PositionStore
	RiskLimitStore  domain.RiskLimitStore
	CredentialStore domain.CredentialStore
	HistoryStore    domain.OpportunityHistoryStore
	ExecLogStore    domain.ExecutionLogStore

	// Caches
	OpportunityCache domain.OpportunityCache
	SignalBus        domain.SignalBus
	Locks            *redis.LockManager

	// Cold archive; nil unless archive.enabled.
	Archiver *s3blob.Archiver

	// Health probes
	Postgres *postgres.Client
	Redis    *redis.Client

	// Notifications; nil-safe even when no channel is configured.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	sealer, err := crypto.NewSealer(cfg.Crypto.MasterKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: credential sealer: %w", err)
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.FillStore = postgres.NewFillStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.RiskLimitStore = postgres.NewRiskLimitStore(pool)
	deps.CredentialStore = postgres.NewCredentialStore(pool, sealer)
	deps.HistoryStore = postgres.NewOpportunityHistoryStore(pool)
	deps.ExecLogStore = postgres.NewExecutionLogStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.OpportunityCache = redis.NewOpportunityCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- S3 cold archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.HistoryStore,
			deps.ExecLogStore,
			deps.Locks,
			cfg.Archive.Interval.Duration,
			cfg.Archive.RetentionDays,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
