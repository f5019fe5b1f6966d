package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/plp-labs/marketsync/internal/blob/s3"
	"github.com/plp-labs/marketsync/internal/cache/redis"
	"github.com/plp-labs/marketsync/internal/config"
	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/ledger"
	"github.com/plp-labs/marketsync/internal/notify"
	"github.com/plp-labs/marketsync/internal/observability"
	"github.com/plp-labs/marketsync/internal/reconcile"
	"github.com/plp-labs/marketsync/internal/service"
	"github.com/plp-labs/marketsync/internal/store/postgres"
	"github.com/plp-labs/marketsync/internal/syncer"
)

// Dependencies bundles every constructed subsystem that the application
// modes need to operate. It is built by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Markets   domain.MarketProjectionStore
	Positions domain.PositionProjectionStore
	Events    domain.TransitionEventStore

	// Caching and coordination
	Cache domain.MarketCache
	Locks domain.LockManager

	// Ledger access
	Gateway    domain.LedgerGateway
	Subscriber domain.LedgerSubscriber

	// Subsystems
	Notifier   *notify.Notifier
	Manager    *syncer.Manager
	Reconciler *reconcile.Reconciler
	Query      *service.MarketQuery
	Archiver   *s3blob.Archiver

	// Observability
	Metrics *observability.Metrics
	Pingers map[string]observability.Pinger
}

// needsRedis returns true for modes that run the sync loop and therefore
// use the hot cache, locks, and the transition stream.
func needsRedis(mode string) bool {
	switch mode {
	case "sync", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that archive to cold storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || (cfg.Archive.Enabled && cfg.Mode == "full")
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

	deps := &Dependencies{
		Metrics: observability.NewMetrics(prometheus.DefaultRegisterer),
		Pingers: make(map[string]observability.Pinger),
	}

	// --- PostgreSQL (every mode persists projections or reads them) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	eventStore := postgres.NewEventStore(pool)
	deps.Events = eventStore

	// --- Ledger gateway ---
	ledgerClient := ledger.NewClient(ledger.ClientConfig{
		RPCURL:         cfg.Ledger.RPCURL,
		Commitment:     cfg.Ledger.Commitment,
		RequestTimeout: cfg.Ledger.RequestTimeout.Duration,
		MaxRetries:     cfg.Ledger.MaxRetries,
		RetryBaseDelay: cfg.Ledger.RetryBaseDelay.Duration,
		RetryMaxDelay:  cfg.Ledger.RetryMaxDelay.Duration,
	}, logger)
	deps.Gateway = ledgerClient
	if cfg.Ledger.WSURL != "" {
		deps.Subscriber = ledger.NewWSSubscriber(cfg.Ledger.WSURL, cfg.Ledger.Commitment, logger)
	}

	// --- Notification sinks: event log always, stream/chat when wired ---
	sinks := []domain.TransitionSink{
		eventStore,
		notify.NewLogSink(logger),
	}

	// --- Redis (sync modes only) ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Pingers["redis"] = redisClient

		deps.Cache = redis.NewMarketCache(redisClient, cfg.Sync.CacheTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		sinks = append(sinks, redis.NewStreamSink(redisClient, cfg.Redis.Stream))
	}

	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegramSink(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordSink(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(logger, sinks...)

	// --- S3 cold storage (archive modes only) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Pingers["s3"] = s3Client

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			writer,
			reader,
			deps.Markets,
			deps.Events,
			retention,
			deps.Metrics,
			logger,
		)
	}

	// --- Sync manager, reconciler, and read side ---
	deps.Manager = syncer.NewManager(syncer.Config{
		Interval:       cfg.Sync.Interval.Duration,
		JitterFraction: cfg.Sync.JitterFraction,
		MaxConcurrent:  cfg.Sync.MaxConcurrent,
		StaleThreshold: cfg.Sync.StaleThreshold.Duration,
	}, syncer.Deps{
		Gateway:    deps.Gateway,
		Subscriber: deps.Subscriber,
		Markets:    deps.Markets,
		Positions:  deps.Positions,
		Cache:      deps.Cache,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
		Logger:     logger,
	})

	deps.Reconciler = reconcile.New(deps.Gateway, deps.Positions, deps.Locks, deps.Metrics, logger)

	deps.Query = service.NewMarketQuery(
		deps.Markets,
		deps.Positions,
		deps.Events,
		deps.Cache,
		deps.Metrics,
		logger,
		cfg.Sync.StaleThreshold.Duration,
	)

	return deps, cleanup, nil
}
