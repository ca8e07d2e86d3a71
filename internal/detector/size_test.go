package detector

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"insider-tracker/pkg/types"
)

func tradeWithNotional(notional float64) types.TradeEvent {
	return types.TradeEvent{
		Price: decimal.NewFromFloat(1),
		Size:  decimal.NewFromFloat(notional),
	}
}

func TestSizeAnomalyDetector_NilMarketFallsBackToNicheOther(t *testing.T) {
	d := NewSizeAnomalyDetector(SizeAnomalyConfig{})
	signal := d.Detect(tradeWithNotional(100), nil, nil, nil)
	if signal == nil {
		t.Fatal("expected a niche-base signal when market/volume are both unknown")
	}
	if !signal.IsNicheMarket {
		t.Error("category=other falls in the default niche-prone list")
	}
	if signal.Confidence != 0.2 {
		t.Errorf("Confidence = %v, want 0.2 (niche_base)", signal.Confidence)
	}
}

func TestSizeAnomalyDetector_NilBelowNoiseFloorWhenNotNiche(t *testing.T) {
	d := NewSizeAnomalyDetector(SizeAnomalyConfig{})
	market := &types.MarketMetadata{Category: types.CategoryPolitics}
	signal := d.Detect(tradeWithNotional(100), market, nil, nil)
	if signal != nil {
		t.Errorf("expected nil for a non-niche category with no volume/book data, got %+v", signal)
	}
}

func TestSizeAnomalyDetector_VolumeImpactAboveThreshold(t *testing.T) {
	d := NewSizeAnomalyDetector(SizeAnomalyConfig{})
	market := &types.MarketMetadata{Category: types.CategoryPolitics}
	volume := decimal.NewFromInt(100_000)

	signal := d.Detect(tradeWithNotional(5000), market, &volume, nil)
	if signal == nil {
		t.Fatal("expected a signal: notional is 5% of a 100k daily volume, above the 2% threshold")
	}
	if signal.IsNicheMarket {
		t.Error("a 100k daily volume market should not be classified niche")
	}
	want := 0.5 * 0.05 / (3 * 0.02)
	if math.Abs(signal.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", signal.Confidence, want)
	}
	if signal.VolumeImpact != 0.05 {
		t.Errorf("VolumeImpact = %v, want 0.05", signal.VolumeImpact)
	}
}

func TestSizeAnomalyDetector_NicheVolumeBoostsNonZeroScore(t *testing.T) {
	d := NewSizeAnomalyDetector(SizeAnomalyConfig{})
	market := &types.MarketMetadata{Category: types.CategoryPolitics}
	volume := decimal.NewFromInt(10_000) // below NicheVolumeThreshold (50k) -> niche

	signal := d.Detect(tradeWithNotional(2000), market, &volume, nil)
	if signal == nil {
		t.Fatal("expected a signal")
	}
	if !signal.IsNicheMarket {
		t.Error("a 10k daily volume market is below NicheVolumeThreshold and should be niche")
	}
	baseVolumeScore := 0.5 * 0.2 / (3 * 0.02)
	if baseVolumeScore > 0.5 {
		baseVolumeScore = 0.5
	}
	want := baseVolumeScore * 1.5
	if want > 1 {
		want = 1
	}
	if math.Abs(signal.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v (niche multiplier applied)", signal.Confidence, want)
	}
}

func TestSizeAnomalyDetector_BookImpactContributes(t *testing.T) {
	d := NewSizeAnomalyDetector(SizeAnomalyConfig{})
	market := &types.MarketMetadata{Category: types.CategoryPolitics}
	volume := decimal.NewFromInt(1_000_000)
	book := decimal.NewFromInt(1000)

	signal := d.Detect(tradeWithNotional(500), market, &volume, &book)
	if signal == nil {
		t.Fatal("expected a signal: notional is 50% of a 1000 book depth, above the 5% threshold")
	}
	if signal.BookImpact != 0.5 {
		t.Errorf("BookImpact = %v, want 0.5", signal.BookImpact)
	}
	if _, ok := signal.Factors["book_impact"]; !ok {
		t.Errorf("expected book_impact factor, got %+v", signal.Factors)
	}
}
