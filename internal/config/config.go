// Package config defines the bot's top-level configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TIERBOT_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Solana     SolanaConfig     `toml:"solana"`
	Jupiter    JupiterConfig    `toml:"jupiter"`
	Market     MarketConfig     `toml:"market"`
	Feed       FeedConfig       `toml:"feed"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Entry      EntryConfig      `toml:"entry"`
	Exit       ExitConfig       `toml:"exit"`
	Settlement SettlementConfig `toml:"settlement"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	DryRun     bool             `toml:"dry_run"`
}

// WalletConfig holds the Solana wallet credentials. Either a raw base58 key
// or an encrypted key file must be provided for live trading.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SolanaConfig holds RPC endpoint parameters.
type SolanaConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// JupiterConfig holds swap API parameters.
type JupiterConfig struct {
	APIURL      string `toml:"api_url"`
	SlippageBps int    `toml:"slippage_bps"`
}

// MarketConfig holds market-data provider parameters.
type MarketConfig struct {
	CoinGeckoURL string `toml:"coingecko_url"`
}

// FeedConfig holds the streaming price feed parameters.
type FeedConfig struct {
	Enabled         bool     `toml:"enabled"`
	WsURL           string   `toml:"ws_url"`
	ResubscribeSecs int      `toml:"resubscribe_secs"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// EntryConfig holds entry-monitor parameters.
type EntryConfig struct {
	PollInterval   duration `toml:"poll_interval"`
	MaxPolls       int      `toml:"max_polls"`
	SwapRetries    int      `toml:"swap_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
}

// TierConfig is one rung of the exit ladder.
type TierConfig struct {
	ID       string  `toml:"id"`
	GainPct  float64 `toml:"gain_pct"`
	Fraction float64 `toml:"fraction"`
}

// ExitConfig holds the exit engine's tick interval and tier ladder.
type ExitConfig struct {
	TickInterval duration     `toml:"tick_interval"`
	SwapRetries  int          `toml:"swap_retries"`
	Tiers        []TierConfig `toml:"tiers"`
}

// ExitTiers converts the configured ladder to domain tiers, falling back to
// the default ladder when none is configured.
func (e ExitConfig) ExitTiers() []domain.ExitTier {
	if len(e.Tiers) == 0 {
		return domain.DefaultExitTiers()
	}
	tiers := make([]domain.ExitTier, 0, len(e.Tiers))
	for _, t := range e.Tiers {
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("tp%d", int(t.GainPct))
		}
		tiers = append(tiers, domain.ExitTier{
			ID:               id,
			GainThresholdPct: t.GainPct,
			ExitFraction:     t.Fraction,
		})
	}
	return tiers
}

// SettlementConfig holds profit-forwarding parameters.
type SettlementConfig struct {
	Enabled     bool    `toml:"enabled"`
	Destination string  `toml:"destination"`
	MinAmount   float64 `toml:"min_amount"`
}

// ArchiveConfig holds S3 cold-storage parameters for terminal positions.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	Interval       duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelegramConfig holds the operator command listener parameters. The
// listener reuses the notify token; AllowedChatID restricts who may issue
// commands.
type TelegramConfig struct {
	Enabled       bool  `toml:"enabled"`
	AllowedChatID int64 `toml:"allowed_chat_id"`
	PollTimeout   int   `toml:"poll_timeout_secs"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL: "https://api.mainnet-beta.solana.com",
		},
		Jupiter: JupiterConfig{
			APIURL:      "https://quote-api.jup.ag/v6",
			SlippageBps: 50,
		},
		Market: MarketConfig{
			CoinGeckoURL: "https://api.coingecko.com/api/v3",
		},
		Feed: FeedConfig{
			Enabled:         false,
			ResubscribeSecs: 30,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tierbot",
			User:          "tierbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Entry: EntryConfig{
			PollInterval:   duration{30 * time.Second},
			MaxPolls:       2880, // 24h of 30s polls
			SwapRetries:    3,
			RetryBaseDelay: duration{2 * time.Second},
		},
		Exit: ExitConfig{
			TickInterval: duration{3 * time.Minute},
			SwapRetries:  3,
		},
		Settlement: SettlementConfig{
			Enabled:   true,
			MinAmount: 0.001,
		},
		Archive: ArchiveConfig{
			Region:        "us-east-1",
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Telegram: TelegramConfig{
			Enabled:     true,
			PollTimeout: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"entry", "exit", "settlement", "error"},
		},
		Mode:     "bot",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"bot":       true,
	"scheduler": true,
	"report":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bot, scheduler, report)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: live trading needs a key source; dry-run does not.
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set unless dry_run is enabled")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.Jupiter.APIURL == "" {
		errs = append(errs, "jupiter: api_url must not be empty")
	}
	if c.Jupiter.SlippageBps <= 0 || c.Jupiter.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("jupiter: slippage_bps must be 1-10000, got %d", c.Jupiter.SlippageBps))
	}
	if c.Market.CoinGeckoURL == "" {
		errs = append(errs, "market: coingecko_url must not be empty")
	}
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must be set when the feed is enabled")
	}

	if strings.TrimSpace(c.Database.DSN) == "" && !c.DryRun {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" && !c.DryRun {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Entry.PollInterval.Duration <= 0 {
		errs = append(errs, "entry: poll_interval must be positive")
	}
	if c.Entry.MaxPolls < 1 {
		errs = append(errs, "entry: max_polls must be >= 1")
	}
	if c.Entry.SwapRetries < 1 {
		errs = append(errs, "entry: swap_retries must be >= 1")
	}

	if c.Exit.TickInterval.Duration <= 0 {
		errs = append(errs, "exit: tick_interval must be positive")
	}
	if err := domain.ValidateTiers(c.Exit.ExitTiers()); err != nil {
		errs = append(errs, fmt.Sprintf("exit: %v", err))
	}

	if c.Settlement.Enabled && c.Settlement.Destination == "" {
		errs = append(errs, "settlement: destination wallet must be set when settlement is enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Telegram.Enabled && c.Notify.TelegramToken == "" {
		errs = append(errs, "telegram: notify.telegram_token must be set when the command listener is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
