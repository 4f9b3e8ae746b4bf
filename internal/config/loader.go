package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TIERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TIERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TIERBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "TIERBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TIERBOT_WALLET_KEY_PASSWORD")

	// ── Solana / Jupiter / market data ──
	setStr(&cfg.Solana.RPCURL, "TIERBOT_SOLANA_RPC_URL")
	setStr(&cfg.Jupiter.APIURL, "TIERBOT_JUPITER_API_URL")
	setInt(&cfg.Jupiter.SlippageBps, "TIERBOT_JUPITER_SLIPPAGE_BPS")
	setStr(&cfg.Market.CoinGeckoURL, "TIERBOT_MARKET_COINGECKO_URL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "TIERBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "TIERBOT_FEED_WS_URL")
	setInt(&cfg.Feed.ResubscribeSecs, "TIERBOT_FEED_RESUBSCRIBE_SECS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "TIERBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "TIERBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TIERBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "TIERBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "TIERBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "TIERBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TIERBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "TIERBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TIERBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TIERBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TIERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TIERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TIERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TIERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TIERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TIERBOT_REDIS_TLS_ENABLED")

	// ── Entry / exit ──
	setDuration(&cfg.Entry.PollInterval, "TIERBOT_ENTRY_POLL_INTERVAL")
	setInt(&cfg.Entry.MaxPolls, "TIERBOT_ENTRY_MAX_POLLS")
	setInt(&cfg.Entry.SwapRetries, "TIERBOT_ENTRY_SWAP_RETRIES")
	setDuration(&cfg.Entry.RetryBaseDelay, "TIERBOT_ENTRY_RETRY_BASE_DELAY")
	setDuration(&cfg.Exit.TickInterval, "TIERBOT_EXIT_TICK_INTERVAL")
	setInt(&cfg.Exit.SwapRetries, "TIERBOT_EXIT_SWAP_RETRIES")

	// ── Settlement ──
	setBool(&cfg.Settlement.Enabled, "TIERBOT_SETTLEMENT_ENABLED")
	setStr(&cfg.Settlement.Destination, "TIERBOT_SETTLEMENT_DESTINATION")
	setFloat64(&cfg.Settlement.MinAmount, "TIERBOT_SETTLEMENT_MIN_AMOUNT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TIERBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "TIERBOT_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "TIERBOT_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "TIERBOT_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "TIERBOT_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "TIERBOT_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "TIERBOT_ARCHIVE_FORCE_PATH_STYLE")
	setInt(&cfg.Archive.RetentionDays, "TIERBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TIERBOT_ARCHIVE_INTERVAL")

	// ── Notify / Telegram ──
	setStr(&cfg.Notify.TelegramToken, "TIERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TIERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TIERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TIERBOT_NOTIFY_EVENTS")
	setBool(&cfg.Telegram.Enabled, "TIERBOT_TELEGRAM_ENABLED")
	setInt64(&cfg.Telegram.AllowedChatID, "TIERBOT_TELEGRAM_ALLOWED_CHAT_ID")
	setInt(&cfg.Telegram.PollTimeout, "TIERBOT_TELEGRAM_POLL_TIMEOUT_SECS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TIERBOT_MODE")
	setStr(&cfg.LogLevel, "TIERBOT_LOG_LEVEL")
	setBool(&cfg.DryRun, "TIERBOT_DRY_RUN")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
