package detector

import (
	"github.com/shopspring/decimal"

	"insider-tracker/pkg/types"
)

// SizeAnomalyConfig tunes the size-anomaly detector's thresholds.
type SizeAnomalyConfig struct {
	VolumeThreshold      float64 // fraction of 24h volume, default 0.02
	BookThreshold        float64 // fraction of top-of-book depth, default 0.05
	NicheVolumeThreshold float64 // USDC, default 50_000
	NicheProneCategories []types.Category
}

// SizeAnomalyDetector flags trades whose notional materially moves a
// market's price relative to its volume or book depth.
type SizeAnomalyDetector struct {
	cfg SizeAnomalyConfig
}

// NewSizeAnomalyDetector applies defaults to zero-valued cfg fields.
func NewSizeAnomalyDetector(cfg SizeAnomalyConfig) *SizeAnomalyDetector {
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = 0.02
	}
	if cfg.BookThreshold <= 0 {
		cfg.BookThreshold = 0.05
	}
	if cfg.NicheVolumeThreshold <= 0 {
		cfg.NicheVolumeThreshold = 50_000
	}
	if cfg.NicheProneCategories == nil {
		cfg.NicheProneCategories = []types.Category{types.CategoryScience, types.CategoryOther}
	}
	return &SizeAnomalyDetector{cfg: cfg}
}

// Detect evaluates trade against market (may be nil, in which case the
// market is treated as category "other"), dailyVolume, and bookDepth (both
// optional; nil means unknown). Returns nil when confidence falls below
// the 0.1 noise floor.
func (d *SizeAnomalyDetector) Detect(trade types.TradeEvent, market *types.MarketMetadata, dailyVolume, bookDepth *decimal.Decimal) *types.SizeAnomalySignal {
	category := types.CategoryOther
	if market != nil {
		category = market.Category
	}

	notional, _ := trade.Notional().Float64()

	volumeImpact := 0.0
	if dailyVolume != nil && dailyVolume.IsPositive() {
		v, _ := dailyVolume.Float64()
		volumeImpact = notional / v
	}
	bookImpact := 0.0
	if bookDepth != nil && bookDepth.IsPositive() {
		b, _ := bookDepth.Float64()
		bookImpact = notional / b
	}

	isNiche := false
	if dailyVolume != nil && dailyVolume.IsPositive() {
		v, _ := dailyVolume.Float64()
		isNiche = v < d.cfg.NicheVolumeThreshold
	} else {
		isNiche = containsCategory(d.cfg.NicheProneCategories, category)
	}

	factors := map[string]float64{}

	volumeScore := 0.0
	if volumeImpact > d.cfg.VolumeThreshold {
		volumeScore = 0.5 * volumeImpact / (3 * d.cfg.VolumeThreshold)
		if volumeScore > 0.5 {
			volumeScore = 0.5
		}
		factors["volume_impact"] = volumeScore
	}

	bookScore := 0.0
	if bookImpact > d.cfg.BookThreshold {
		bookScore = 0.3 * bookImpact / (3 * d.cfg.BookThreshold)
		if bookScore > 0.3 {
			bookScore = 0.3
		}
		factors["book_impact"] = bookScore
	}

	sum := volumeScore + bookScore
	if isNiche {
		if sum > 0 {
			sum *= 1.5
			factors["niche_multiplier"] = sum - (volumeScore + bookScore)
		} else {
			sum = 0.2
			factors["niche_base"] = 0.2
		}
	}

	if sum > 1 {
		sum = 1
	}
	if sum < 0.1 {
		return nil
	}

	return &types.SizeAnomalySignal{
		Trade:         trade,
		Confidence:    sum,
		Factors:       factors,
		VolumeImpact:  volumeImpact,
		BookImpact:    bookImpact,
		IsNicheMarket: isNiche,
	}
}

func containsCategory(list []types.Category, c types.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}
