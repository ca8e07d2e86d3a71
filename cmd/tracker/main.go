// insider-tracker watches Polymarket's live trade feed for wallets that look
// like they know something the market doesn't: freshly created wallets,
// trades that are outsized for the market they land in, and clusters of
// wallets that keep entering new markets within seconds of each other.
//
// Architecture:
//
//	cmd/tracker/main.go     — entry point: loads config, wires the supervisor, waits for SIGINT/SIGTERM
//	internal/supervisor     — orchestrator: wires the trade stream into the event bus and runs every stage
//	internal/stream         — WebSocket ingestion of the live trade feed, with auto-reconnect
//	internal/eventbus        — durable Redis Streams fan-out with consumer groups and a dead-letter log
//	internal/metadata       — periodic sync of the market catalog, cache-first lookups
//	internal/chain          — JSON-RPC client against Polygon, rate-limited with primary/fallback endpoints
//	internal/profiler       — wallet nonce/age/balance analysis and lazy funding-chain tracing
//	internal/entities       — known CEX/bridge address registry used to terminate funding traces
//	internal/detector       — fresh-wallet, size-anomaly, and sniper-cluster anomaly detectors
//	internal/scorer         — weighted risk scoring with Redis-backed alert deduplication
//	internal/alert          — alert formatting, multi-channel dispatch, circuit breakers, history
//	internal/health         — process health snapshot and Prometheus metrics over HTTP
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"insider-tracker/internal/alert"
	"insider-tracker/internal/chain"
	"insider-tracker/internal/config"
	"insider-tracker/internal/detector"
	"insider-tracker/internal/health"
	"insider-tracker/internal/kv"
	"insider-tracker/internal/metadata"
	"insider-tracker/internal/profiler"
	"insider-tracker/internal/scorer"
	"insider-tracker/internal/stream"
	"insider-tracker/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(2)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	handler = slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)

	store, err := kv.New(cfg.RedisURL, logger.With("component", "kv"))
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	sv := supervisor.New(buildConfig(cfg), store, logger, cfg.DiscordWebhookURL, cfg.TelegramBotToken, cfg.TelegramChatID)

	if err := sv.Start(); err != nil {
		logger.Error("failed to start pipeline supervisor", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — alerts will be logged but not dispatched")
	}
	logger.Info("insider tracker started",
		"gamma_url", cfg.PolymarketGammaURL,
		"ws_url", cfg.PolymarketWSURL,
		"health_port", cfg.HealthPort,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal, draining in-flight work", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		sv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case sig := <-sigCh:
		logger.Warn("second signal received, forcing exit", "signal", sig.String())
		os.Exit(128 + signum(sig))
	}
}

// buildConfig maps the flat environment config onto the supervisor's
// aggregated sub-configs, leaving any field config.Config doesn't expose at
// its package's own default (zero value).
func buildConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		Stream: stream.Config{
			URL: cfg.PolymarketWSURL,
		},
		Chain: chain.Config{
			PrimaryURL:    cfg.PolygonRPCURL,
			SecondaryURL:  cfg.PolygonFallbackRPCURL,
			RatePerSecond: cfg.ChainRateLimitPerSec,
			BlockCacheTTL: cfg.ChainCacheBlockTTL,
			DefaultTTL:    cfg.ChainCacheDefaultTTL,
			ProbeCooldown: cfg.ChainRPCCooldown,
		},
		Metadata: metadata.Config{
			BaseURL:       cfg.PolymarketGammaURL,
			SyncInterval:  cfg.MetadataPollInterval,
			CacheTTL:      cfg.MetadataCacheTTL,
			RatePerSecond: cfg.CLOBRateLimitPerSec,
		},
		Profiler: profiler.Config{
			FreshWalletNonceThreshold: cfg.FreshWalletThreshold,
		},
		Tracer: profiler.TracerConfig{
			MaxHops: cfg.FundingMaxHops,
		},
		Fresh:  detector.FreshWalletConfig{},
		Size:   detector.SizeAnomalyConfig{},
		Sniper: detector.SniperClusterConfig{},
		Scorer: scorer.Config{
			AlertThreshold: cfg.ScorerAlertThreshold,
			DedupWindow:    cfg.ScorerDedupWindow,
		},
		History: alert.HistoryConfig{},
		Breaker: alert.CircuitBreakerConfig{
			FailureThreshold: cfg.DispatchFailureThresh,
			RecoveryTimeout:  cfg.DispatchRecoveryWindow,
		},
		Channel: alert.ChannelConfig{
			RatePerMinute: cfg.DispatchRatePerMinute,
		},
		Health: health.Config{
			StaleThreshold: cfg.HealthStaleThreshold,
		},
		HealthPort: cfg.HealthPort,
		DryRun:     cfg.DryRun,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARNING", "warn":
		return slog.LevelWarn
	case "ERROR", "CRITICAL", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func signum(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
