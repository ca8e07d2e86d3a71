package scorer

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"

	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

func newTestScorer(t *testing.T) (*Scorer, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	store := kv.NewFromClient(rdb, nil)
	return New(store, Config{}), mock
}

func sampleTrade() types.TradeEvent {
	return types.TradeEvent{
		MarketID:      "market-1",
		TradeID:       "trade-1",
		WalletAddress: "0xabc",
		Size:          decimal.NewFromInt(1000),
		Price:         decimal.NewFromFloat(0.5),
		Timestamp:     time.Date(2026, 7, 31, 10, 15, 0, 0, time.UTC),
	}
}

func TestAssess_NoSignals_NoAlert(t *testing.T) {
	s, _ := newTestScorer(t)
	trade := sampleTrade()

	got, err := s.Assess(context.Background(), Bundle{Trade: trade})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ShouldAlert {
		t.Fatalf("expected no alert, got ShouldAlert=true")
	}
	if got.SignalsTriggered != 0 {
		t.Fatalf("expected 0 signals, got %d", got.SignalsTriggered)
	}
}

func TestAssess_SingleSignalBelowThreshold(t *testing.T) {
	s, _ := newTestScorer(t)
	trade := sampleTrade()

	got, err := s.Assess(context.Background(), Bundle{
		Trade:       trade,
		FreshWallet: &types.FreshWalletSignal{Trade: trade, Confidence: 0.5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.5 * 0.40 = 0.20, well under the 0.6 threshold.
	if got.ShouldAlert {
		t.Fatalf("expected no alert at score %.2f", got.WeightedScore)
	}
}

func TestAssess_MultiSignalBonusTriggersAlert(t *testing.T) {
	s, mock := newTestScorer(t)
	trade := sampleTrade()
	hourBucket := trade.Timestamp.Truncate(time.Hour).Unix()
	key := "insider-tracker:dedup:0xabc:market-1:" + strconv.FormatInt(hourBucket, 10)
	mock.ExpectSetNX(key, "1", DefaultDedupWindow).SetVal(true)

	bundle := Bundle{
		Trade:       trade,
		FreshWallet: &types.FreshWalletSignal{Trade: trade, Confidence: 0.9},
		SizeAnomaly: &types.SizeAnomalySignal{Trade: trade, Confidence: 0.8},
	}

	got, err := s.Assess(context.Background(), bundle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.ShouldAlert {
		t.Fatalf("expected alert at score %.2f", got.WeightedScore)
	}
	if got.SignalsTriggered != 2 {
		t.Fatalf("expected 2 signals, got %d", got.SignalsTriggered)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestAssess_DuplicateWithinWindowSuppressesAlert(t *testing.T) {
	s, mock := newTestScorer(t)
	trade := sampleTrade()
	hourBucket := trade.Timestamp.Truncate(time.Hour).Unix()
	key := "insider-tracker:dedup:0xabc:market-1:" + strconv.FormatInt(hourBucket, 10)
	mock.ExpectSetNX(key, "1", DefaultDedupWindow).SetVal(false)

	bundle := Bundle{
		Trade:       trade,
		FreshWallet: &types.FreshWalletSignal{Trade: trade, Confidence: 0.9},
		SizeAnomaly: &types.SizeAnomalySignal{Trade: trade, Confidence: 0.8},
	}

	got, err := s.Assess(context.Background(), bundle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ShouldAlert {
		t.Fatalf("expected duplicate to suppress alert")
	}
}

func TestAssess_SniperClusterSignalParticipatesInScore(t *testing.T) {
	s, _ := newTestScorer(t)
	trade := sampleTrade()

	got, err := s.Assess(context.Background(), Bundle{
		Trade:         trade,
		SniperCluster: &types.SniperClusterSignal{Trade: trade, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.9 * 0.35 = 0.315, below the 0.6 default threshold on its own.
	if got.ShouldAlert {
		t.Fatalf("expected no alert from sniper_cluster alone at score %.2f", got.WeightedScore)
	}
	if got.SignalsTriggered != 1 {
		t.Fatalf("expected 1 signal, got %d", got.SignalsTriggered)
	}
	if got.SniperCluster == nil {
		t.Fatal("expected SniperCluster to be carried through to the assessment")
	}
}

func TestSetWeights_ChangesScoring(t *testing.T) {
	s, _ := newTestScorer(t)
	s.SetWeights(Weights{FreshWallet: 1.0})

	trade := sampleTrade()
	score, triggered := s.calculateWeightedScore(Bundle{
		Trade:       trade,
		FreshWallet: &types.FreshWalletSignal{Trade: trade, Confidence: 0.5},
	})
	if triggered != 1 {
		t.Fatalf("expected 1 signal, got %d", triggered)
	}
	if score != 0.5 {
		t.Fatalf("expected score 0.5 with weight 1.0, got %.3f", score)
	}
}
