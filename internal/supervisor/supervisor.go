// Package supervisor implements the Pipeline Supervisor: it
// wires the Trade Stream into the Event Bus, runs one consumer group per
// downstream stage, and owns graceful shutdown. Each stage runs as its own
// goroutine under a shared cancellation context and a sync.WaitGroup; Stop
// cancels, drains, then closes in that order.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"insider-tracker/internal/alert"
	"insider-tracker/internal/chain"
	"insider-tracker/internal/detector"
	"insider-tracker/internal/entities"
	"insider-tracker/internal/eventbus"
	"insider-tracker/internal/health"
	"insider-tracker/internal/kv"
	"insider-tracker/internal/metadata"
	"insider-tracker/internal/profiler"
	"insider-tracker/internal/scorer"
	"insider-tracker/internal/stream"
	"insider-tracker/pkg/types"
)

const (
	tradeStream = "trades"

	groupScoring    = "scoring"
	groupSniping    = "sniping"
	consumerDefault = "worker-1"

	readCount      = 64
	readBlockMS    = int64(5000)
	streamMaxLen   = int64(100_000)
	clusteringTick = 30 * time.Second
	reclaimTick    = 15 * time.Second
	pendingIdle    = 60 * time.Second
)

// Config aggregates the tuned sub-configs each stage needs. Zero-valued
// fields fall back to each package's own defaults.
type Config struct {
	Stream     stream.Config
	Chain      chain.Config
	Metadata   metadata.Config
	Profiler   profiler.Config
	Tracer     profiler.TracerConfig
	Fresh      detector.FreshWalletConfig
	Size       detector.SizeAnomalyConfig
	Sniper     detector.SniperClusterConfig
	Scorer     scorer.Config
	History    alert.HistoryConfig
	Breaker    alert.CircuitBreakerConfig
	Channel    alert.ChannelConfig
	Health     health.Config
	HealthPort int

	DryRun bool
}

// Supervisor owns every subsystem's lifecycle and the goroutines connecting
// them.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	store       *kv.Store
	chainClient *chain.Client
	registry    *entities.Registry
	metaSyncer  *metadata.Syncer
	tradeStream *stream.Stream
	bus         *eventbus.Bus
	analyzer    *profiler.Analyzer
	tracer      *profiler.Tracer
	freshDet    *detector.FreshWalletDetector
	sizeDet     *detector.SizeAnomalyDetector
	sniperDet   *detector.SniperClusterDetector
	riskScorer  *scorer.Scorer
	formatter   *alert.Formatter
	dispatcher  *alert.Dispatcher
	history     alert.Recorder
	monitor     *health.Monitor
	healthSrv   *health.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem against a shared Redis-backed Store. Discord and
// Telegram channels are added only when their credentials are non-empty.
func New(cfg Config, store *kv.Store, logger *slog.Logger, discordWebhook, telegramToken, telegramChatID string) *Supervisor {
	registry := entities.Default()
	chainClient := chain.New(cfg.Chain, store, logger.With("component", "chain"))
	tracer := profiler.NewTracer(chainClient, registry, cfg.Tracer, logger.With("component", "funding-tracer"))
	analyzer := profiler.New(chainClient, store, cfg.Profiler, logger.With("component", "profiler"))

	dispatcher := alert.NewDispatcher(cfg.Breaker)
	if discordWebhook != "" {
		dispatcher.AddChannel(alert.NewDiscordChannel(discordWebhook, cfg.Channel, logger))
	}
	if telegramToken != "" && telegramChatID != "" {
		dispatcher.AddChannel(alert.NewTelegramChannel(telegramToken, telegramChatID, cfg.Channel, logger))
	}

	monitor := health.New(cfg.Health)
	monitor.RegisterStream(tradeStream)

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		cfg:         cfg,
		logger:      logger.With("component", "supervisor"),
		store:       store,
		chainClient: chainClient,
		registry:    registry,
		metaSyncer:  metadata.New(cfg.Metadata, store, logger.With("component", "metadata")),
		tradeStream: stream.New(cfg.Stream, logger.With("component", "stream")),
		bus:         eventbus.New(store, tradeStream, 5),
		analyzer:    analyzer,
		tracer:      tracer,
		freshDet:    detector.NewFreshWalletDetector(analyzer, cfg.Fresh),
		sizeDet:     detector.NewSizeAnomalyDetector(cfg.Size),
		sniperDet:   detector.NewSniperClusterDetector(cfg.Sniper),
		riskScorer:  scorer.New(store, cfg.Scorer),
		formatter:   alert.NewFormatter(alert.Detailed),
		dispatcher:  dispatcher,
		history:     alert.NewHistory(store, cfg.History),
		monitor:     monitor,
		healthSrv:   health.NewServer(cfg.HealthPort, monitor, logger),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches every stage's goroutine. It returns once the Event Bus's
// consumer groups exist and the initial metadata sync has completed; it does
// not block on the pipeline running.
func (s *Supervisor) Start() error {
	if err := s.metaSyncer.Start(s.ctx); err != nil {
		return err
	}

	for _, group := range []string{groupScoring, groupSniping} {
		if err := s.bus.EnsureGroup(s.ctx, group, "$"); err != nil {
			return err
		}
	}

	s.tradeStream.OnTrade(s.onTrade)

	s.runStage("trade-stream", func(ctx context.Context) {
		if err := s.tradeStream.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("trade stream stopped", "error", err)
		}
		s.monitor.Disconnect(tradeStream)
	})

	s.runStage("stage:scoring", func(ctx context.Context) { s.runConsumer(ctx, groupScoring, s.handleScoring) })
	s.runStage("stage:sniping", func(ctx context.Context) { s.runConsumer(ctx, groupSniping, s.handleSniping) })
	s.runStage("sniper-clustering", s.runClusteringLoop)
	s.runStage("dlq-reclaim", s.runReclaimLoop)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.healthSrv.Start(); err != nil {
			s.logger.Error("health server stopped", "error", err)
		}
	}()

	s.logger.Info("pipeline supervisor started", "dry_run", s.cfg.DryRun)
	return nil
}

func (s *Supervisor) runStage(name string, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
		s.logger.Debug("stage stopped", "stage", name)
	}()
}

// onTrade is the Trade Stream's callback: publish preserves feed order to
// the Event Bus, and every downstream stage reads from its own
// consumer group against the same entry.
func (s *Supervisor) onTrade(trade types.TradeEvent) {
	s.monitor.RecordEvent(tradeStream)
	if trade.TimestampFallback {
		health.TimestampFallbackTotal.Inc()
	}
	if _, err := s.bus.Publish(s.ctx, trade); err != nil {
		s.logger.Error("failed to publish trade", "error", err, "trade_id", trade.TradeID)
	}
}

// runConsumer loops Read→handle→Ack against one consumer group until ctx is
// cancelled, acking only on success.
func (s *Supervisor) runConsumer(ctx context.Context, group string, handle func(context.Context, eventbus.Entry) error) {
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := s.bus.Read(ctx, group, consumerDefault, readCount, readBlockMS)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("consumer read failed", "group", group, "error", err)
			continue
		}
		for _, entry := range entries {
			if err := handle(ctx, entry); err != nil {
				s.logger.Error("stage handler failed, entry left pending for retry/dlq",
					"group", group, "entry_id", entry.ID, "error", err)
				continue
			}
			if err := s.bus.Ack(ctx, group, entry.ID); err != nil {
				s.logger.Error("ack failed", "group", group, "entry_id", entry.ID, "error", err)
			}
		}
	}
}

// runReclaimLoop periodically claims entries stuck pending past pendingIdle,
// runs them through the group's handler again (acking on success), and
// moves exhausted-retry entries to the dead-letter log.
func (s *Supervisor) runReclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(reclaimTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, group := range []string{groupScoring, groupSniping} {
				redelivered, dead, err := s.bus.Reclaim(ctx, group, consumerDefault, pendingIdle, 100)
				if err != nil {
					s.logger.Warn("reclaim failed", "group", group, "error", err)
				} else if len(dead) > 0 {
					s.logger.Warn("entries moved to dead-letter log", "group", group, "count", len(dead))
				}
				handle := s.handleScoring
				if group == groupSniping {
					handle = s.handleSniping
				}
				for _, entry := range redelivered {
					if err := handle(ctx, entry); err != nil {
						s.logger.Error("redelivered entry failed again", "group", group, "entry_id", entry.ID, "error", err)
					} else if err := s.bus.Ack(ctx, group, entry.ID); err != nil {
						s.logger.Error("ack failed", "group", group, "entry_id", entry.ID, "error", err)
					}
				}
			}
			if err := s.bus.Trim(ctx, streamMaxLen); err != nil {
				s.logger.Warn("stream trim failed", "error", err)
			}
		}
	}
}

// runClusteringLoop runs the CPU-bound density-clustering pass as a
// scheduled periodic task so it never starves the consumer goroutines.
func (s *Supervisor) runClusteringLoop(ctx context.Context) {
	ticker := time.NewTicker(clusteringTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, signal := range s.sniperDet.RunClustering() {
				sig := signal
				s.assessAndAlert(ctx, sig.Trade, nil, nil, &sig)
			}
		}
	}
}

// handleScoring runs both per-trade detectors and scores their combined
// signals as one bundle, so a trade that is both a fresh wallet and a size
// anomaly earns the multi-signal bonus. A fresh wallet also triggers the
// funding-chain trace, built lazily and surfaced as an explainability log
// line for operators, since the weighted score is defined purely over the
// three detectors.
func (s *Supervisor) handleScoring(ctx context.Context, entry eventbus.Entry) error {
	fresh, err := s.freshDet.Detect(ctx, entry.Trade)
	if err != nil {
		// RPC exhaustion degrades to scoring without the fresh-wallet
		// signal rather than blocking the size-anomaly path too.
		s.logger.Warn("fresh-wallet detection failed, scoring without it",
			"wallet", entry.Trade.WalletAddress, "error", err)
		fresh = nil
	}
	if fresh != nil {
		funding := s.tracer.Trace(ctx, entry.Trade.WalletAddress)
		s.logger.Debug("funding chain traced for fresh wallet",
			"wallet", entry.Trade.WalletAddress,
			"origin_type", funding.OriginType,
			"hop_count", funding.HopCount,
			"suspiciousness", funding.SuspiciousnessScore(s.cfg.Tracer.MaxHops))
	}

	market, err := s.metaSyncer.Get(ctx, entry.Trade.MarketID)
	var marketPtr *types.MarketMetadata
	if err == nil {
		marketPtr = &market
	} else {
		s.logger.Debug("market metadata unavailable, falling back to nil", "market_id", entry.Trade.MarketID, "error", err)
	}

	var volume *decimal.Decimal
	if marketPtr != nil {
		volume = &marketPtr.Volume24h
	}
	// Top-of-book depth has no source in this pipeline (no order-book
	// mirror is kept); nil means "unknown", so the detector falls back to
	// the category-based niche heuristic.
	size := s.sizeDet.Detect(entry.Trade, marketPtr, volume, nil)

	s.assessAndAlert(ctx, entry.Trade, fresh, size, nil)
	return nil
}

// handleSniping records the trade as a sniper-cluster candidate entry; the
// clustering pass itself runs on its own periodic schedule
// (runClusteringLoop), not per-trade.
func (s *Supervisor) handleSniping(ctx context.Context, entry eventbus.Entry) error {
	market, err := s.metaSyncer.Get(ctx, entry.Trade.MarketID)
	if err != nil {
		return nil
	}
	s.sniperDet.RecordEntry(entry.Trade, market.StartDate)
	return nil
}

// assessAndAlert scores the trade's signals as one scorer.Bundle and
// dispatches/records an alert when ShouldAlert is true. The scoring stage
// passes its fresh+size pair; the clustering loop passes a lone sniper
// signal. The scorer's dedup gate (wallet, market, hour bucket) prevents a
// sniper run from re-alerting a wallet/market pair the scoring stage
// already alerted on.
func (s *Supervisor) assessAndAlert(ctx context.Context, trade types.TradeEvent, fresh *types.FreshWalletSignal, size *types.SizeAnomalySignal, sniper *types.SniperClusterSignal) {
	if fresh == nil && size == nil && sniper == nil {
		return
	}

	assessment, err := s.riskScorer.Assess(ctx, scorer.Bundle{
		Trade: trade, FreshWallet: fresh, SizeAnomaly: size, SniperCluster: sniper,
	})
	if err != nil {
		s.logger.Error("risk assessment failed", "error", err, "trade_id", trade.TradeID)
		return
	}
	if !assessment.ShouldAlert {
		return
	}

	var marketPtr *types.MarketMetadata
	if market, err := s.metaSyncer.Get(ctx, trade.MarketID); err == nil {
		marketPtr = &market
	}
	formatted := s.formatter.Format(assessment, marketPtr)

	var results []alert.Result
	if s.cfg.DryRun {
		s.logger.Info("dry-run: alert suppressed", "wallet", trade.WalletAddress, "market", trade.MarketID, "score", assessment.WeightedScore)
	} else {
		results = s.dispatcher.Dispatch(ctx, formatted)
	}

	var attempted, succeeded []string
	for _, r := range results {
		attempted = append(attempted, r.Channel)
		health.RecordAlertDispatch(r.Channel, r.Success)
		if r.Success {
			succeeded = append(succeeded, r.Channel)
		}
	}

	if _, err := s.history.Record(ctx, assessment, s.riskScorer.DedupKey(trade), attempted, succeeded); err != nil {
		s.logger.Error("failed to record alert history", "error", err, "assessment_id", assessment.AssessmentID)
	}
}

// Stop cancels every stage, shuts down the health server, waits for
// in-flight work to drain, then closes the store.
func (s *Supervisor) Stop() {
	s.logger.Info("shutting down pipeline supervisor...")
	s.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := s.healthSrv.Stop(shutdownCtx); err != nil {
		s.logger.Error("failed to stop health server", "error", err)
	}

	s.metaSyncer.Stop()
	s.tradeStream.Close()

	s.wg.Wait()

	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
	}
	s.logger.Info("shutdown complete")
}
