// Package detector implements the three anomaly detectors: fresh-wallet
// (this file), size-anomaly (size.go), and sniper-cluster (sniper.go).
// Each produces an optional Signal whose factor-breakdown map records every
// confidence contribution, so an alert can explain why it fired.
package detector

import (
	"context"

	"insider-tracker/internal/profiler"
	"insider-tracker/pkg/types"
)

// FreshWalletConfig tunes the fresh-wallet detector's bonuses.
type FreshWalletConfig struct {
	// LargeTradeThreshold is the notional (USDC) above which a fresh-wallet
	// trade earns the +0.1 "large trade" confidence bonus.
	LargeTradeThreshold float64
}

// FreshWalletDetector fires when the trading wallet is classified as fresh.
type FreshWalletDetector struct {
	analyzer *profiler.Analyzer
	cfg      FreshWalletConfig
}

// NewFreshWalletDetector constructs the detector against a shared Analyzer.
func NewFreshWalletDetector(analyzer *profiler.Analyzer, cfg FreshWalletConfig) *FreshWalletDetector {
	if cfg.LargeTradeThreshold <= 0 {
		cfg.LargeTradeThreshold = 10_000
	}
	return &FreshWalletDetector{analyzer: analyzer, cfg: cfg}
}

// Detect analyzes trade.WalletAddress and returns a FreshWalletSignal iff
// the profile is fresh. Confidence seeds at 0.5, +0.2 if nonce == 0, +0.1 if
// notional ≥ LargeTradeThreshold, clamped to [0,1].
func (d *FreshWalletDetector) Detect(ctx context.Context, trade types.TradeEvent) (*types.FreshWalletSignal, error) {
	profile, err := d.analyzer.Analyze(ctx, trade.WalletAddress)
	if err != nil {
		return nil, err
	}
	if !profile.IsFresh {
		return nil, nil
	}

	factors := map[string]float64{"base_fresh": 0.5}
	confidence := 0.5

	if profile.Nonce == 0 {
		factors["brand_new_bonus"] = 0.2
		confidence += 0.2
	}

	notional, _ := trade.Notional().Float64()
	if notional >= d.cfg.LargeTradeThreshold {
		factors["large_trade_bonus"] = 0.1
		confidence += 0.1
	}

	if confidence > 1 {
		confidence = 1
	}

	return &types.FreshWalletSignal{
		Trade:      trade,
		Confidence: confidence,
		Factors:    factors,
		Profile:    profile,
	}, nil
}
