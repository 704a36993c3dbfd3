package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "coinbot/internal/blob/s3"
	"coinbot/internal/cache/redis"
	"coinbot/internal/config"
	"coinbot/internal/crypto"
	"coinbot/internal/domain"
	"coinbot/internal/notify"
	"coinbot/internal/platform/coinbase"
	"coinbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the operating modes need. Optional
// backends (Postgres, Redis, S3, notifications) are nil when disabled; the
// modes degrade to in-memory operation without them.
type Dependencies struct {
	Connector domain.ExchangeConnector

	// Stores (nil unless postgres.enabled)
	OrderStore domain.OrderStore
	FillStore  domain.FillStore
	AuditStore domain.AuditStore

	// Caches (nil unless redis.enabled)
	PriceCache domain.PriceCache
	EventBus   domain.EventBus

	// Blob storage (nil unless s3.enabled; Archiver also needs Postgres)
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications (nil when no channel is configured)
	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange connector ---
	apiSecret, err := resolveAPISecret(cfg.Coinbase)
	if err != nil {
		// Paper mode streams public market data without credentials.
		if !cfg.PaperTrading {
			cleanup()
			return nil, nil, fmt.Errorf("wire: coinbase credentials: %w", err)
		}
		apiSecret = ""
	}
	deps.Connector = coinbase.NewClient(
		cfg.Coinbase.RestHost,
		cfg.Coinbase.WsHost,
		cfg.Coinbase.ApiKey,
		apiSecret,
		logger,
	)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, cfg.Postgres)
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
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.FillStore = postgres.NewFillStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, 0)
		deps.EventBus = redis.NewEventBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// Archiving needs the journal stores.
		if deps.OrderStore != nil && deps.FillStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.OrderStore,
				deps.FillStore,
				deps.AuditStore,
				logger,
			)
		}
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}

// resolveAPISecret returns the exchange API secret, decrypting the keyfile
// when one is configured.
func resolveAPISecret(cfg config.CoinbaseConfig) (string, error) {
	return crypto.LoadSecret(crypto.KeyConfig{
		RawSecret:        cfg.ApiSecret,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
}
