// Package config defines all configuration for the insider-tracker pipeline.
// Every field is sourced from a literal environment variable — there is no
// YAML file and no shared prefix, because the deployment contract here is
// "one process, one environment" rather than "one binary, many configs."
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration, populated once at startup by
// Load and never mutated afterward.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	PolygonRPCURL         string `mapstructure:"POLYGON_RPC_URL"`
	PolygonFallbackRPCURL string `mapstructure:"POLYGON_FALLBACK_RPC_URL"`

	PolymarketWSURL    string `mapstructure:"POLYMARKET_WS_URL"`
	PolymarketAPIKey   string `mapstructure:"POLYMARKET_API_KEY"`
	PolymarketGammaURL string `mapstructure:"POLYMARKET_GAMMA_URL"`

	DiscordWebhookURL string `mapstructure:"DISCORD_WEBHOOK_URL"`
	TelegramBotToken  string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string `mapstructure:"TELEGRAM_CHAT_ID"`

	LogLevel   string `mapstructure:"LOG_LEVEL"`
	HealthPort int    `mapstructure:"HEALTH_PORT"`
	DryRun     bool   `mapstructure:"DRY_RUN"`

	// Operational tunables. All have defaults set in Load so a bare
	// minimal env still runs.
	ChainRateLimitPerSec   int           `mapstructure:"CHAIN_RATE_LIMIT_PER_SEC"`
	ChainCacheBlockTTL     time.Duration `mapstructure:"CHAIN_CACHE_BLOCK_TTL"`
	ChainCacheDefaultTTL   time.Duration `mapstructure:"CHAIN_CACHE_DEFAULT_TTL"`
	ChainRPCCooldown       time.Duration `mapstructure:"CHAIN_RPC_COOLDOWN"`
	MetadataPollInterval   time.Duration `mapstructure:"METADATA_POLL_INTERVAL"`
	MetadataCacheTTL       time.Duration `mapstructure:"METADATA_CACHE_TTL"`
	CLOBRateLimitPerSec    int           `mapstructure:"CLOB_RATE_LIMIT_PER_SEC"`
	FreshWalletThreshold   int64         `mapstructure:"FRESH_WALLET_NONCE_THRESHOLD"`
	FundingMaxHops         int           `mapstructure:"FUNDING_MAX_HOPS"`
	ScorerAlertThreshold   float64       `mapstructure:"SCORER_ALERT_THRESHOLD"`
	ScorerDedupWindow      time.Duration `mapstructure:"SCORER_DEDUP_WINDOW"`
	DispatchFailureThresh  int           `mapstructure:"DISPATCH_FAILURE_THRESHOLD"`
	DispatchRecoveryWindow time.Duration `mapstructure:"DISPATCH_RECOVERY_WINDOW"`
	DispatchRatePerMinute  int           `mapstructure:"DISPATCH_RATE_PER_MINUTE"`
	HealthStaleThreshold   time.Duration `mapstructure:"HEALTH_STALE_THRESHOLD"`
	ShutdownGracePeriod    time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`
}

// Load reads configuration directly from the process environment: every
// variable is bound by its literal name, so AutomaticEnv plus explicit
// defaults is the whole story.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL",
		"POLYGON_RPC_URL", "POLYGON_FALLBACK_RPC_URL",
		"POLYMARKET_WS_URL", "POLYMARKET_API_KEY", "POLYMARKET_GAMMA_URL",
		"DISCORD_WEBHOOK_URL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"LOG_LEVEL", "HEALTH_PORT", "DRY_RUN",
		"CHAIN_RATE_LIMIT_PER_SEC", "CHAIN_CACHE_BLOCK_TTL", "CHAIN_CACHE_DEFAULT_TTL",
		"CHAIN_RPC_COOLDOWN", "METADATA_POLL_INTERVAL", "METADATA_CACHE_TTL",
		"CLOB_RATE_LIMIT_PER_SEC", "FRESH_WALLET_NONCE_THRESHOLD", "FUNDING_MAX_HOPS",
		"SCORER_ALERT_THRESHOLD", "SCORER_DEDUP_WINDOW", "DISPATCH_FAILURE_THRESHOLD",
		"DISPATCH_RECOVERY_WINDOW", "DISPATCH_RATE_PER_MINUTE", "HEALTH_STALE_THRESHOLD",
		"SHUTDOWN_GRACE_PERIOD",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("REDIS_URL", "redis://localhost:6379")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("HEALTH_PORT", 8080)
	v.SetDefault("DRY_RUN", false)
	v.SetDefault("CHAIN_RATE_LIMIT_PER_SEC", 25)
	v.SetDefault("CHAIN_CACHE_BLOCK_TTL", time.Hour)
	v.SetDefault("CHAIN_CACHE_DEFAULT_TTL", 5*time.Minute)
	v.SetDefault("CHAIN_RPC_COOLDOWN", 60*time.Second)
	v.SetDefault("METADATA_POLL_INTERVAL", 300*time.Second)
	v.SetDefault("METADATA_CACHE_TTL", 600*time.Second)
	v.SetDefault("CLOB_RATE_LIMIT_PER_SEC", 10)
	v.SetDefault("FRESH_WALLET_NONCE_THRESHOLD", int64(5))
	v.SetDefault("FUNDING_MAX_HOPS", 3)
	v.SetDefault("SCORER_ALERT_THRESHOLD", 0.6)
	v.SetDefault("SCORER_DEDUP_WINDOW", time.Hour)
	v.SetDefault("DISPATCH_FAILURE_THRESHOLD", 5)
	v.SetDefault("DISPATCH_RECOVERY_WINDOW", 60*time.Second)
	v.SetDefault("DISPATCH_RATE_PER_MINUTE", 20)
	v.SetDefault("HEALTH_STALE_THRESHOLD", 60*time.Second)
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", 30*time.Second)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges
// Any failure here is a fatal configuration error (exit code 2).
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must use the postgres scheme")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of DEBUG,INFO,WARNING,ERROR,CRITICAL, got %q", c.LogLevel)
	}
	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be in 1..65535, got %d", c.HealthPort)
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.TelegramChatID != "" && c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_CHAT_ID is set")
	}
	if c.ChainRateLimitPerSec <= 0 {
		return fmt.Errorf("CHAIN_RATE_LIMIT_PER_SEC must be > 0")
	}
	if c.ScorerAlertThreshold < 0 || c.ScorerAlertThreshold > 1 {
		return fmt.Errorf("SCORER_ALERT_THRESHOLD must be in [0,1]")
	}
	if c.FundingMaxHops <= 0 {
		return fmt.Errorf("FUNDING_MAX_HOPS must be > 0")
	}
	return nil
}

// DiscordEnabled reports whether the webhook channel is configured.
func (c *Config) DiscordEnabled() bool { return c.DiscordWebhookURL != "" }

// TelegramEnabled reports whether the bot-API channel is configured.
// Both TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set.
func (c *Config) TelegramEnabled() bool { return c.TelegramBotToken != "" && c.TelegramChatID != "" }
