// Package scorer implements the Risk Scorer: a weighted combination of
// detector signals gated by a per-wallet/market/hour dedup window. The
// score is a plain float in [0,1]; all monetary math stays in decimals
// upstream of it.
package scorer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

const (
	// DefaultAlertThreshold is the weighted-score cutoff above which an
	// assessment is eligible to alert.
	DefaultAlertThreshold = 0.6
	// DefaultDedupWindow is the dedup TTL applied to the wallet:market:hour
	// key.
	DefaultDedupWindow = time.Hour
	// multiSignalBonus2/3 scale the combined score when 2 or 3+ signals fire
	// together.
	multiSignalBonus2 = 1.2
	multiSignalBonus3 = 1.3
)

// Weights holds the per-signal contribution to the weighted score. All
// fields are runtime-mutable via SetWeights, so weight sets can be swapped
// for A/B evaluation without a restart.
type Weights struct {
	FreshWallet   float64
	SizeAnomaly   float64
	NicheMarket   float64
	SniperCluster float64
}

// DefaultWeights keeps FreshWallet the heaviest single signal — it is the
// cheapest-to-compute, highest-precision signal in practice — with
// SniperCluster weighted the same as SizeAnomaly: a coordinated cluster of
// early entrants is at least as suspicious as a single oversized trade.
// NicheMarket is an additive bonus on size-anomaly confidence, not an
// independent fourth signal.
var DefaultWeights = Weights{
	FreshWallet:   0.40,
	SizeAnomaly:   0.35,
	NicheMarket:   0.25,
	SniperCluster: 0.35,
}

// Config tunes the scorer's threshold, dedup window, and key prefix.
type Config struct {
	AlertThreshold float64
	DedupWindow    time.Duration
	KeyPrefix      string // default "insider-tracker:dedup:"
}

// Scorer combines detector signals into a RiskAssessment and gates repeat
// alerts via Redis SETNX.
type Scorer struct {
	store   *kv.Store
	cfg     Config
	weights Weights
}

// New constructs a Scorer, applying defaults to zero-valued cfg fields.
func New(store *kv.Store, cfg Config) *Scorer {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "insider-tracker:dedup:"
	}
	return &Scorer{store: store, cfg: cfg, weights: DefaultWeights}
}

// SetWeights replaces the active weight set.
func (s *Scorer) SetWeights(w Weights) { s.weights = w }

// Weights returns the currently active weight set.
func (s *Scorer) Weights() Weights { return s.weights }

// Bundle groups a trade with whichever detector signals fired for it. A nil
// field means that detector did not fire.
type Bundle struct {
	Trade         types.TradeEvent
	FreshWallet   *types.FreshWalletSignal
	SizeAnomaly   *types.SizeAnomalySignal
	SniperCluster *types.SniperClusterSignal
}

// Assess computes the weighted score for bundle and, if it clears the alert
// threshold and is not a duplicate within the dedup window, marks it as
// sent and returns an assessment with ShouldAlert = true.
func (s *Scorer) Assess(ctx context.Context, bundle Bundle) (types.RiskAssessment, error) {
	score, signalsTriggered := s.calculateWeightedScore(bundle)

	assessment := types.RiskAssessment{
		AssessmentID:     uuid.NewString(),
		Trade:            bundle.Trade,
		FreshWallet:      bundle.FreshWallet,
		SizeAnomaly:      bundle.SizeAnomaly,
		SniperCluster:    bundle.SniperCluster,
		SignalsTriggered: signalsTriggered,
		WeightedScore:    score,
	}

	meetsThreshold := score >= s.cfg.AlertThreshold
	if !meetsThreshold {
		return assessment, nil
	}

	isDuplicate, err := s.isDuplicate(ctx, bundle.Trade)
	if err != nil {
		return assessment, fmt.Errorf("scorer: dedup check: %w", err)
	}

	assessment.ShouldAlert = !isDuplicate
	return assessment, nil
}

// calculateWeightedScore sums each fired signal's confidence times its
// weight, applies the niche-market bonus additively on size_anomaly, then
// scales the sum by the multi-signal bonus and clamps to 1.0.
func (s *Scorer) calculateWeightedScore(b Bundle) (score float64, signalsTriggered int) {
	var sum float64

	if b.FreshWallet != nil {
		sum += b.FreshWallet.Confidence * s.weights.FreshWallet
		signalsTriggered++
	}
	if b.SizeAnomaly != nil {
		sum += b.SizeAnomaly.Confidence * s.weights.SizeAnomaly
		if b.SizeAnomaly.IsNicheMarket {
			sum += b.SizeAnomaly.Confidence * s.weights.NicheMarket
		}
		signalsTriggered++
	}
	if b.SniperCluster != nil {
		sum += b.SniperCluster.Confidence * s.weights.SniperCluster
		signalsTriggered++
	}

	switch {
	case signalsTriggered >= 3:
		sum *= multiSignalBonus3
	case signalsTriggered >= 2:
		sum *= multiSignalBonus2
	}

	if sum > 1 {
		sum = 1
	}
	return sum, signalsTriggered
}

// DedupKey returns the wallet:market:hourBucket key gating alerts for
// trade. Exposed so the alert history can persist the key each record was
// deduplicated under.
func (s *Scorer) DedupKey(trade types.TradeEvent) string {
	hourBucket := trade.Timestamp.Truncate(time.Hour).Unix()
	return fmt.Sprintf("%s%s:%s:%d", s.cfg.KeyPrefix, trade.WalletAddress, trade.MarketID, hourBucket)
}

// isDuplicate applies SETNX against the dedup key with TTL = DedupWindow,
// returning true when the key already existed.
func (s *Scorer) isDuplicate(ctx context.Context, trade types.TradeEvent) (bool, error) {
	set, err := s.store.SetNX(ctx, s.DedupKey(trade), "1", s.cfg.DedupWindow)
	if err != nil {
		return false, err
	}
	return !set, nil
}
