package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"insider-tracker/pkg/types"
)

func entryTrade(wallet, market string, delta time.Duration, marketCreated time.Time) types.TradeEvent {
	return types.TradeEvent{
		WalletAddress: wallet,
		MarketID:      market,
		Timestamp:     marketCreated.Add(delta),
		Price:         decimal.NewFromFloat(0.5),
		Size:          decimal.NewFromInt(100),
	}
}

func TestSniperClusterDetector_RecordEntryDropsOutsideThreshold(t *testing.T) {
	d := NewSniperClusterDetector(SniperClusterConfig{EntryThresholdSeconds: 300})
	created := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	d.RecordEntry(entryTrade("0xa", "m1", 10*time.Minute, created), created)
	if len(d.walletEntries["0xa"]) != 0 {
		t.Fatalf("entry 10m after market creation should be dropped at a 300s threshold")
	}

	d.RecordEntry(entryTrade("0xa", "m1", 30*time.Second, created), created)
	if len(d.walletEntries["0xa"]) != 1 {
		t.Fatalf("entry 30s after market creation should be recorded within a 300s threshold")
	}
}

func TestSniperClusterDetector_RecordEntryDropsNegativeDelta(t *testing.T) {
	d := NewSniperClusterDetector(SniperClusterConfig{EntryThresholdSeconds: 300})
	created := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	d.RecordEntry(entryTrade("0xa", "m1", -time.Minute, created), created)
	if len(d.walletEntries["0xa"]) != 0 {
		t.Fatalf("an entry timestamped before market creation should never be recorded")
	}
}

func TestSniperClusterDetector_RunClusteringFindsCoordinatedWallets(t *testing.T) {
	d := NewSniperClusterDetector(SniperClusterConfig{
		EntryThresholdSeconds: 300,
		MinEntriesPerWallet:   2,
		MinClusterSize:        3,
		Eps:                   0.5,
		MinSamples:            2,
	})
	created := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	wallets := []string{"0xa", "0xb", "0xc"}
	markets := []string{"m1", "m2"}
	for _, w := range wallets {
		for _, m := range markets {
			d.RecordEntry(entryTrade(w, m, 5*time.Second, created), created)
		}
	}

	signals := d.RunClustering()
	if len(signals) != len(wallets) {
		t.Fatalf("expected one signal per coordinated wallet, got %d signals", len(signals))
	}
	seen := map[string]bool{}
	for _, sig := range signals {
		seen[sig.Trade.WalletAddress] = true
		if sig.ClusterSize < 3 {
			t.Errorf("ClusterSize = %d, want >= 3", sig.ClusterSize)
		}
		if sig.MarketsInCommon != 2 {
			t.Errorf("MarketsInCommon = %d, want 2 (every wallet traded both markets)", sig.MarketsInCommon)
		}
	}
	for _, w := range wallets {
		if !seen[w] {
			t.Errorf("expected a signal for wallet %s", w)
		}
	}
}

func TestSniperClusterDetector_RunClusteringBelowMinClusterSizeReturnsNil(t *testing.T) {
	d := NewSniperClusterDetector(SniperClusterConfig{
		EntryThresholdSeconds: 300,
		MinEntriesPerWallet:   2,
		MinClusterSize:        3,
	})
	created := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	d.RecordEntry(entryTrade("0xa", "m1", 5*time.Second, created), created)
	d.RecordEntry(entryTrade("0xa", "m2", 5*time.Second, created), created)
	d.RecordEntry(entryTrade("0xb", "m1", 5*time.Second, created), created)
	d.RecordEntry(entryTrade("0xb", "m2", 5*time.Second, created), created)

	if signals := d.RunClustering(); signals != nil {
		t.Fatalf("expected no signals with only 2 eligible wallets below MinClusterSize=3, got %+v", signals)
	}
}

func TestSniperClusterDetector_RunClusteringDoesNotResignalSameWallet(t *testing.T) {
	d := NewSniperClusterDetector(SniperClusterConfig{
		EntryThresholdSeconds: 300,
		MinEntriesPerWallet:   2,
		MinClusterSize:        3,
		Eps:                   0.5,
		MinSamples:            2,
	})
	created := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	wallets := []string{"0xa", "0xb", "0xc"}
	markets := []string{"m1", "m2"}
	for _, w := range wallets {
		for _, m := range markets {
			d.RecordEntry(entryTrade(w, m, 5*time.Second, created), created)
		}
	}

	first := d.RunClustering()
	if len(first) != 3 {
		t.Fatalf("expected 3 signals on first pass, got %d", len(first))
	}

	second := d.RunClustering()
	if len(second) != 0 {
		t.Fatalf("expected no re-signal for already-signaled wallets on a second identical pass, got %d", len(second))
	}
}
