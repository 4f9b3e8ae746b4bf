package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-tron/base58"

	s3blob "github.com/dmarchuk/tierbot/internal/blob/s3"
	"github.com/dmarchuk/tierbot/internal/cache/redis"
	"github.com/dmarchuk/tierbot/internal/config"
	"github.com/dmarchuk/tierbot/internal/crypto"
	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/ledger"
	"github.com/dmarchuk/tierbot/internal/notify"
	"github.com/dmarchuk/tierbot/internal/platform/coingecko"
	"github.com/dmarchuk/tierbot/internal/platform/jupiter"
	"github.com/dmarchuk/tierbot/internal/platform/solana"
	"github.com/dmarchuk/tierbot/internal/report"
	"github.com/dmarchuk/tierbot/internal/settle"
	"github.com/dmarchuk/tierbot/internal/store/memory"
	"github.com/dmarchuk/tierbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores and caches. In dry-run mode these are in-memory.
	PositionStore domain.PositionStore
	FillStore     domain.FillStore
	PriceCache    domain.PriceCache
	LockManager   domain.LockManager

	// Core services.
	Ledger  *ledger.Ledger
	Reports *report.Builder

	// Platform clients.
	Chain    *solana.Client
	Market   domain.MarketData
	Swaps    domain.SwapExecutor
	Balance  domain.BalanceProvider
	Transfer domain.TransferExecutor

	// Forwarder is nil when settlement is disabled.
	Forwarder *settle.Forwarder

	// Archiver is nil when S3 archiving is disabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores: postgres and redis for live runs, in-memory for dry runs ---
	if cfg.DryRun {
		deps.PositionStore = memory.NewPositionStore()
		deps.FillStore = memory.NewFillStore()
		deps.PriceCache = memory.NewPriceCache()
		deps.LockManager = memory.NewLockManager()
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
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

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.FillStore = postgres.NewFillStore(pool)

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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	deps.Ledger = ledger.New(deps.PositionStore, deps.FillStore, deps.LockManager, logger)

	// --- Wallet and platform clients ---
	wallet, err := loadWallet(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet: %w", err)
	}

	chain := solana.NewClient(cfg.Solana.RPCURL, wallet)
	deps.Chain = chain
	deps.Balance = chain
	deps.Transfer = solana.NewTransferExecutor(chain, cfg.DryRun, logger)

	deps.Market = coingecko.New(cfg.Market.CoinGeckoURL, chain)
	deps.Swaps = jupiter.New(jupiter.Config{
		APIURL:        cfg.Jupiter.APIURL,
		SlippageBps:   cfg.Jupiter.SlippageBps,
		UserPublicKey: wallet.Address(),
		DryRun:        cfg.DryRun,
	}, chain, logger)

	// --- Settlement ---
	if cfg.Settlement.Enabled {
		deps.Forwarder = settle.New(settle.Config{
			Destination: cfg.Settlement.Destination,
			MinAmount:   cfg.Settlement.MinAmount,
		}, deps.FillStore, deps.Ledger, deps.Transfer, logger)
	}

	// --- S3 archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.PositionStore,
			deps.FillStore,
			retention,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	deps.Reports = report.NewBuilder(deps.PositionStore, deps.Market, deps.PriceCache, logger)

	return deps, cleanup, nil
}

// loadWallet resolves the signing wallet. Live runs require a configured key;
// dry runs without one get an ephemeral keypair so quoting and bookkeeping
// still work end to end.
func loadWallet(cfg *config.Config) (*solana.Wallet, error) {
	if cfg.Wallet.PrivateKey == "" && cfg.Wallet.EncryptedKeyPath == "" {
		if !cfg.DryRun {
			return nil, fmt.Errorf("no key source configured")
		}
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		return solana.WalletFromBase58(base58.Encode(priv))
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return solana.WalletFromBase58(key)
}
