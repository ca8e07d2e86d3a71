package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTradeEventValidate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		price   decimal.Decimal
		size    decimal.Decimal
		ts      time.Time
		wantErr error
	}{
		{"valid", decimal.NewFromFloat(0.5), decimal.NewFromInt(10), now, nil},
		{"price negative", decimal.NewFromFloat(-0.1), decimal.NewFromInt(10), now, ErrInvalidPrice},
		{"price above one", decimal.NewFromFloat(1.1), decimal.NewFromInt(10), now, ErrInvalidPrice},
		{"negative size", decimal.NewFromFloat(0.5), decimal.NewFromInt(-1), now, ErrInvalidSize},
		{"future skew", decimal.NewFromFloat(0.5), decimal.NewFromInt(10), now.Add(10 * time.Second), ErrTimestampSkew},
		{"within skew tolerance", decimal.NewFromFloat(0.5), decimal.NewFromInt(10), now.Add(4 * time.Second), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := TradeEvent{Price: tt.price, Size: tt.size, Timestamp: tt.ts}
			err := trade.Validate(now)
			if err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTradeEventNotional(t *testing.T) {
	trade := TradeEvent{
		Price: decimal.NewFromFloat(0.075),
		Size:  decimal.NewFromInt(200000),
	}
	want := decimal.NewFromFloat(15000)
	if !trade.Notional().Equal(want) {
		t.Errorf("Notional() = %s, want %s", trade.Notional(), want)
	}
}

func TestIsWalletFresh(t *testing.T) {
	age47 := 47.99
	age48 := 48.0
	age49 := 48.01

	tests := []struct {
		name      string
		nonce     int64
		threshold int64
		age       *float64
		want      bool
	}{
		{"fresh: nonce below threshold, no age", 2, 5, nil, true},
		{"nonce equals threshold is not fresh", 5, 5, nil, false},
		{"nonce one below threshold is fresh", 4, 5, nil, true},
		{"age exactly 48 is fresh", 2, 5, &age48, true},
		{"age just above 48 is not fresh", 2, 5, &age49, false},
		{"age just below 48 is fresh", 2, 5, &age47, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsWalletFresh(tt.nonce, tt.threshold, tt.age)
			if got != tt.want {
				t.Errorf("IsWalletFresh(%d, %d, %v) = %v, want %v", tt.nonce, tt.threshold, tt.age, got, tt.want)
			}
		})
	}
}

func TestFreshnessScore(t *testing.T) {
	age := 2.0
	p := WalletProfile{Nonce: 2, FreshThreshold: 5, AgeHours: &age}
	got := p.FreshnessScore()
	// 0.6*(1-2/5) + 0.4*(1-2/48) = 0.6*0.6 + 0.4*0.9583 = 0.36 + 0.38333
	want := 0.36 + 0.4*(1-2.0/48.0)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("FreshnessScore() = %v, want %v", got, want)
	}
}

func TestFundingChainSuspiciousnessScore(t *testing.T) {
	tests := []struct {
		name    string
		chain   FundingChain
		maxHops int
		want    float64
	}{
		{"cex origin", FundingChain{OriginType: "cex_binance"}, 3, 0.1},
		{"bridge origin", FundingChain{OriginType: "bridge_polygon"}, 3, 0.3},
		{"unknown zero hops", FundingChain{OriginType: "unknown", HopCount: 0}, 3, 1.0},
		{"unknown at max hops", FundingChain{OriginType: "unknown", HopCount: 3}, 3, 0.7},
		{"unknown mid chain", FundingChain{OriginType: "unknown", HopCount: 1}, 3, 0.5 + 0.3*(1-1.0/3.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.chain.SuspiciousnessScore(tt.maxHops)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("SuspiciousnessScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRiskAssessmentSignalKinds(t *testing.T) {
	ra := RiskAssessment{
		FreshWallet: &FreshWalletSignal{},
		SizeAnomaly: &SizeAnomalySignal{},
	}
	kinds := ra.SignalKinds()
	if len(kinds) != 2 || kinds[0] != SignalFreshWallet || kinds[1] != SignalSizeAnomaly {
		t.Errorf("SignalKinds() = %v, want [fresh_wallet size_anomaly]", kinds)
	}
}
