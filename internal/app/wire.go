package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/paperledger/internal/blob/s3"
	"github.com/alanyoungcy/paperledger/internal/cache/memory"
	"github.com/alanyoungcy/paperledger/internal/cache/redis"
	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
	"github.com/alanyoungcy/paperledger/internal/notify"
	"github.com/alanyoungcy/paperledger/internal/oracle"
	"github.com/alanyoungcy/paperledger/internal/performance"
	"github.com/alanyoungcy/paperledger/internal/server/handler"
	"github.com/alanyoungcy/paperledger/internal/service"
	"github.com/alanyoungcy/paperledger/internal/store/postgres"
	"github.com/alanyoungcy/paperledger/internal/store/sqlite"
)

// Dependencies bundles the concrete stores, caches and adapters built from
// the configuration.
type Dependencies struct {
	// Stores
	UserStore     domain.UserStore
	TradeStore    domain.TradeStore
	PositionStore domain.PositionStore
	LedgerStore   domain.LedgerStore
	AuditStore    domain.AuditStore

	// Caches. RateLimiter and LockManager are nil without Redis.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archiving is enabled.
	Archiver *s3blob.ArchiveImpl

	Notifier *notify.Notifier

	// Health lists the backends reported by /api/health.
	Health map[string]handler.Pinger
}

// Services bundles the application services built on top of Dependencies.
type Services struct {
	Oracle      *oracle.Oracle
	Ledger      *ledger.Ledger
	Performance *service.PerformanceService
	Trades      *service.TradeService
	AutoClose   *service.AutoCloseMonitor
	Positions   *service.PositionService
	Prices      *service.PriceService
}

// Wire constructs every concrete dependency from the configuration. Cleanup
// functions are registered on the App and run by Close.
func (a *App) Wire(ctx context.Context) (*Dependencies, error) {
	cfg := a.cfg
	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	if err := a.wireStore(ctx, deps); err != nil {
		return nil, err
	}

	// --- Redis, or in-process stand-ins ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		a.logger.InfoContext(ctx, "redis not configured, using in-process cache and bus")
		deps.PriceCache = memory.NewPriceCache(cfg.Oracle.CacheTTL.Duration)
		deps.SignalBus = memory.NewBus()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			a.logger.WarnContext(ctx, "telegram sender disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, "paperledger"))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, a.logger)

	// --- S3 archive ---
	if cfg.Archive.Enabled {
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
			return nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.TradeStore,
			deps.PositionStore,
			deps.AuditStore,
			deps.Notifier,
			a.logger,
		)
		deps.Health["s3"] = s3Client
	}

	return deps, nil
}

// OpenStores connects only the ledger store. Operator commands use it.
func (a *App) OpenStores(ctx context.Context) (*Dependencies, error) {
	deps := &Dependencies{Health: make(map[string]handler.Pinger)}
	if err := a.wireStore(ctx, deps); err != nil {
		return nil, err
	}
	return deps, nil
}

func (a *App) wireStore(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	switch cfg.Database.Driver {
	case "postgres":
		pg := cfg.Database.Postgres
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      pg.DSN,
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.PoolMaxConns,
			MinConns: pg.PoolMinConns,
		})
		if err != nil {
			return fmt.Errorf("wire: postgres: %w", err)
		}
		a.closers = append(a.closers, pgClient.Close)

		if pg.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.UserStore = postgres.NewUserStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Database.SQLite.Path)
		if err != nil {
			return fmt.Errorf("wire: sqlite: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		deps.UserStore = sqlite.NewUserStore(db)
		deps.TradeStore = sqlite.NewTradeStore(db)
		deps.PositionStore = sqlite.NewPositionStore(db)
		deps.LedgerStore = sqlite.NewLedgerStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.Health["sqlite"] = db

	default:
		return fmt.Errorf("wire: unknown database driver %q", cfg.Database.Driver)
	}
	return nil
}

// BuildServices assembles the ledger services on top of deps.
func (a *App) BuildServices(deps *Dependencies) *Services {
	cfg := a.cfg

	var feed oracle.Feed
	if cfg.Oracle.APIKey != "" {
		feed = oracle.NewFMPClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.Timeout.Duration, cfg.Oracle.RequestsPerMinute)
	}
	prices := oracle.New(feed, deps.PriceCache, oracle.Options{
		Timeout:  cfg.Oracle.Timeout.Duration,
		CacheTTL: cfg.Oracle.CacheTTL.Duration,
	}, a.logger)

	l := ledger.New(deps.LedgerStore, deps.PositionStore, deps.LockManager, ledger.Config{
		LockTTL:             cfg.Ledger.LockTTL.Duration,
		LockWait:            cfg.Ledger.LockWait.Duration,
		MaxRetries:          cfg.Ledger.MaxRetries,
		RejectUnmatchedSell: cfg.Ledger.RejectUnmatchedSell,
	}, a.logger)

	perf := service.NewPerformanceService(
		deps.TradeStore, deps.UserStore,
		performance.NewCache(cfg.Performance.CacheTTL.Duration),
		a.logger,
	)
	trades := service.NewTradeService(
		deps.UserStore, deps.TradeStore, deps.PositionStore,
		l, perf, deps.SignalBus, deps.AuditStore, a.logger,
	)
	monitor := service.NewAutoCloseMonitor(
		deps.PositionStore, prices, l, trades, deps.Notifier,
		cfg.Ledger.AutoCloseConcurrency, a.logger,
	)
	positions := service.NewPositionService(
		deps.PositionStore, monitor, trades, prices, l, deps.Notifier, a.logger,
	)

	return &Services{
		Oracle:      prices,
		Ledger:      l,
		Performance: perf,
		Trades:      trades,
		AutoClose:   monitor,
		Positions:   positions,
		Prices:      service.NewPriceService(prices),
	}
}
