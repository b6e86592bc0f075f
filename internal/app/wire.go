package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/streamwager/wagerd/internal/blob/s3"
	"github.com/streamwager/wagerd/internal/cache/redis"
	"github.com/streamwager/wagerd/internal/config"
	"github.com/streamwager/wagerd/internal/crypto"
	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/engine"
	"github.com/streamwager/wagerd/internal/mirror"
	"github.com/streamwager/wagerd/internal/notify"
	"github.com/streamwager/wagerd/internal/settlement"
	"github.com/streamwager/wagerd/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Fields backed by optional infrastructure (Postgres, Redis, S3) are nil
// when that infrastructure is disabled.
type Dependencies struct {
	// Stores
	MarketStore domain.MarketStore
	StakeStore  domain.StakeStore
	GrantStore  domain.GrantStore
	AuditStore  domain.AuditStore

	// Caches and delivery
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Settlement. Bank is non-nil only in bank mode; Transfer is always set.
	Bank     *settlement.Bank
	Transfer domain.Transfer

	// Notifications
	Notifier *notify.Notifier

	// The ledger engine, restored from the stores when persistence is on.
	Engine *engine.Engine
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
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.StakeStore = postgres.NewStakeStore(pool)
		deps.GrantStore = postgres.NewGrantStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.MarketStore != nil && deps.StakeStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.MarketStore, deps.StakeStore, deps.AuditStore)
		}
	}

	// --- Settlement backend ---
	switch strings.ToLower(cfg.Settlement.Backend) {
	case "bank":
		seed := make(map[string]uint64, len(cfg.Settlement.Seed))
		for account, amount := range cfg.Settlement.Seed {
			if amount > 0 {
				seed[account] = uint64(amount)
			}
		}
		bank := settlement.NewBank(seed, logger)
		deps.Bank = bank
		deps.Transfer = bank
	case "erc20":
		key, err := crypto.LoadTreasuryKey(crypto.KeySource{
			RawHex:     cfg.Settlement.PrivateKey,
			SealedPath: cfg.Settlement.SealedKeyPath,
			Password:   cfg.Settlement.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: treasury key: %w", err)
		}
		waitTimeout, err := time.ParseDuration(cfg.Settlement.WaitTimeout)
		if err != nil || waitTimeout <= 0 {
			waitTimeout = 90 * time.Second
		}
		erc20, err := settlement.NewERC20(ctx, settlement.ERC20Config{
			RPC:         cfg.Settlement.RPC,
			Token:       cfg.Settlement.Token,
			PrivateKey:  key,
			WaitTimeout: waitTimeout,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: erc20 settlement: %w", err)
		}
		closers = append(closers, erc20.Close)
		deps.Transfer = erc20
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown settlement backend %q", cfg.Settlement.Backend)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	eng := engine.New(engine.Config{
		Transfer: deps.Transfer,
		Mirror: mirror.New(mirror.Stores{
			Markets: deps.MarketStore,
			Stakes:  deps.StakeStore,
			Grants:  deps.GrantStore,
		}, deps.MarketCache, logger),
		Events: mirror.NewRecorder(deps.AuditStore, deps.SignalBus,
			cfg.Events.Channel, cfg.Events.Stream, logger),
		Logger: logger,
	})

	if deps.MarketStore != nil {
		if err := restoreEngine(ctx, eng, deps); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: restore engine: %w", err)
		}
	}
	deps.Engine = eng

	return deps, cleanup, nil
}

// restoreEngine rebuilds the in-memory ledger from the persistent stores.
func restoreEngine(ctx context.Context, eng *engine.Engine, deps *Dependencies) error {
	markets, err := deps.MarketStore.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}
	stakes, err := deps.StakeStore.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list stakes: %w", err)
	}
	grants, err := deps.GrantStore.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list grants: %w", err)
	}
	eng.Restore(markets, stakes, grants)
	return nil
}
