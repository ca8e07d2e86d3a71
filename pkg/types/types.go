// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the tracker — trade events,
// market metadata, wallet profiles, funding chains, anomaly signals, and
// the risk assessments and alerts derived from them. It has no dependencies
// on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Category classifies a market by subject matter, derived by keyword
// matching against the market title.
type Category string

const (
	CategoryPolitics      Category = "politics"
	CategoryCrypto        Category = "crypto"
	CategorySports        Category = "sports"
	CategoryEntertainment Category = "entertainment"
	CategoryFinance       Category = "finance"
	CategoryTech          Category = "tech"
	CategoryScience       Category = "science"
	CategoryOther         Category = "other"
)

// OriginType classifies where a funding chain trace terminated.
type OriginType string

const (
	OriginUnknown OriginType = "unknown"
	OriginError   OriginType = "error"
)

// OriginCEXPrefix and OriginBridgePrefix namespace entity-derived origin
// types, e.g. "cex_binance" or "bridge_polygon_pos". Concrete values are
// produced by internal/entities.
const (
	OriginCEXPrefix    = "cex_"
	OriginBridgePrefix = "bridge_"
)

// ————————————————————————————————————————————————————————————————————————
// TradeEvent — the atomic input
// ————————————————————————————————————————————————————————————————————————

// TradeEvent is a single trade on a Polymarket binary market, decoded from
// the market WebSocket feed. It is immutable once constructed: produced by
// the Trade Stream, consumed by detectors and the scorer, then discarded
// (not persisted by the core pipeline).
type TradeEvent struct {
	MarketID      string // condition id
	TradeID       string // transaction hash, unique
	WalletAddress string // lowercased 40-hex EOA address
	Side          Side
	Outcome       string // human-readable outcome, e.g. "Yes"
	OutcomeIndex  int    // 0 or 1
	Price         decimal.Decimal
	Size          decimal.Decimal
	Timestamp     time.Time

	AssetID string // CLOB token id traded

	// Optional display metadata, populated when the feed includes it.
	MarketSlug string
	EventTitle string
	TraderName string

	// TimestampFallback is true when the feed's timestamp field could not be
	// parsed as a number and "now" was substituted. Surfaced as a metric by
	// the health monitor so the substitution is observable.
	TimestampFallback bool
}

// Notional is price × size, the trade's value in quote-asset (USDC) units.
func (t TradeEvent) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Validate checks a TradeEvent's invariants: price in [0,1], size
// non-negative, timestamp not more than 5s in the future.
func (t TradeEvent) Validate(now time.Time) error {
	zero := decimal.Zero
	one := decimal.NewFromInt(1)
	if t.Price.LessThan(zero) || t.Price.GreaterThan(one) {
		return ErrInvalidPrice
	}
	if t.Size.LessThan(zero) {
		return ErrInvalidSize
	}
	if t.Timestamp.After(now.Add(5 * time.Second)) {
		return ErrTimestampSkew
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// MarketMetadata
// ————————————————————————————————————————————————————————————————————————

// MarketMetadata describes a Polymarket binary market, cached with a TTL
// and periodically refreshed by the Metadata Sync worker.
type MarketMetadata struct {
	ConditionID string
	Question    string
	Description string
	Slug        string
	StartDate   time.Time // market creation time, used by the sniper-cluster detector's entry-threshold window
	EndDate     time.Time
	Active      bool
	Closed      bool
	Category    Category

	Volume24h decimal.Decimal
	BookDepth decimal.Decimal // top-of-book depth in quote-asset units
	FetchedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// WalletProfile
// ————————————————————————————————————————————————————————————————————————

// WalletProfile is the result of analyzing an address's on-chain identity.
// Cached by address with a TTL.
type WalletProfile struct {
	Address        string
	Nonce          int64
	FirstSeen      *time.Time // nil when unknown — see profiler package doc
	AgeHours       *float64   // nil when FirstSeen is nil
	IsFresh        bool
	MaticBalance   decimal.Decimal
	USDCBalance    decimal.Decimal
	AnalyzedAt     time.Time
	FreshThreshold int64
}

// FreshnessScore combines nonce and age into a single [0,1] continuous
// measure for explainability:
//
//	0.6·max(0, 1 − nonce/threshold) + 0.4·(age unknown ? 1.0 : max(0, 1 − age/48))
func (p WalletProfile) FreshnessScore() float64 {
	threshold := float64(p.FreshThreshold)
	nonceComponent := 0.0
	if threshold > 0 {
		nonceComponent = 1 - float64(p.Nonce)/threshold
	}
	if nonceComponent < 0 {
		nonceComponent = 0
	}

	ageComponent := 1.0
	if p.AgeHours != nil {
		ageComponent = 1 - *p.AgeHours/48.0
		if ageComponent < 0 {
			ageComponent = 0
		}
	}

	return 0.6*nonceComponent + 0.4*ageComponent
}

// IsWalletFresh implements the freshness rule: fresh iff nonce < threshold
// AND (age unknown OR age <= 48h).
func IsWalletFresh(nonce, threshold int64, ageHours *float64) bool {
	if nonce >= threshold {
		return false
	}
	if ageHours != nil && *ageHours > 48.0 {
		return false
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// FundingChain
// ————————————————————————————————————————————————————————————————————————

// FundingTransfer is a single USDC transfer in a funding chain trace.
type FundingTransfer struct {
	TxHash      string
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber uint64
	Timestamp   time.Time
}

// FundingChain is the ordered list of transfers tracing back from a target
// wallet to its funding origin, built lazily by the funding tracer.
type FundingChain struct {
	Address       string
	Transfers     []FundingTransfer // ordered: nearest-to-target first
	OriginAddress string
	OriginType    string // OriginType constant or an entity-derived "cex_*"/"bridge_*"
	HopCount      int
}

// SuspiciousnessScore assigns a [0,1] score to a funding chain: CEX origin
// 0.1, bridge origin 0.3, unknown-at-zero-hops 1.0, unknown-at-max-hops
// 0.7, unknown mid-chain interpolated.
func (c FundingChain) SuspiciousnessScore(maxHops int) float64 {
	switch {
	case hasPrefix(c.OriginType, OriginCEXPrefix):
		return 0.1
	case hasPrefix(c.OriginType, OriginBridgePrefix):
		return 0.3
	case c.OriginType == string(OriginUnknown):
		if c.HopCount == 0 {
			return 1.0
		}
		if maxHops > 0 && c.HopCount >= maxHops {
			return 0.7
		}
		frac := 0.0
		if maxHops > 0 {
			frac = 1 - float64(c.HopCount)/float64(maxHops)
		}
		return 0.5 + 0.3*frac
	default:
		return 0.5
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// SignalKind identifies which detector produced a signal.
type SignalKind string

const (
	SignalFreshWallet   SignalKind = "fresh_wallet"
	SignalSizeAnomaly   SignalKind = "size_anomaly"
	SignalSniperCluster SignalKind = "sniper_cluster"
)

// FreshWalletSignal fires when the trading wallet is classified as fresh.
type FreshWalletSignal struct {
	Trade      TradeEvent
	Confidence float64
	Factors    map[string]float64
	Profile    WalletProfile
}

func (s FreshWalletSignal) Kind() SignalKind { return SignalFreshWallet }

// SizeAnomalySignal fires when a trade's notional is large relative to
// market volume and/or book depth.
type SizeAnomalySignal struct {
	Trade         TradeEvent
	Confidence    float64
	Factors       map[string]float64
	VolumeImpact  float64
	BookImpact    float64
	IsNicheMarket bool
}

func (s SizeAnomalySignal) Kind() SignalKind { return SignalSizeAnomaly }

// SniperClusterSignal fires when a wallet belongs to a cluster of wallets
// exhibiting coordinated early entries across markets.
type SniperClusterSignal struct {
	Trade                TradeEvent
	Confidence           float64
	Factors              map[string]float64
	ClusterID            string
	ClusterSize          int
	AvgEntryDeltaSeconds float64
	MarketsInCommon      int
}

func (s SniperClusterSignal) Kind() SignalKind { return SignalSniperCluster }

// ————————————————————————————————————————————————————————————————————————
// RiskAssessment — the output entity
// ————————————————————————————————————————————————————————————————————————

// RiskAssessment aggregates any subset of the three signal types for a
// single trade, plus the scorer's weighted combination and alert decision.
type RiskAssessment struct {
	AssessmentID     string
	Trade            TradeEvent
	FreshWallet      *FreshWalletSignal
	SizeAnomaly      *SizeAnomalySignal
	SniperCluster    *SniperClusterSignal
	SignalsTriggered int
	WeightedScore    float64
	ShouldAlert      bool
}

// SignalKinds returns the triggered signals in a stable order (fresh-wallet,
// size-anomaly, sniper-cluster) for formatting and scoring.
func (r RiskAssessment) SignalKinds() []SignalKind {
	var kinds []SignalKind
	if r.FreshWallet != nil {
		kinds = append(kinds, SignalFreshWallet)
	}
	if r.SizeAnomaly != nil {
		kinds = append(kinds, SignalSizeAnomaly)
	}
	if r.SniperCluster != nil {
		kinds = append(kinds, SignalSniperCluster)
	}
	return kinds
}

// ————————————————————————————————————————————————————————————————————————
// FormattedAlert / AlertRecord
// ————————————————————————————————————————————————————————————————————————

// FormattedAlert holds pre-rendered payloads for each channel kind.
type FormattedAlert struct {
	Assessment RiskAssessment
	RichEmbed  AlertEmbed
	Markdown   string
	PlainText  string
	Links      map[string]string
}

// AlertEmbed is the structured representation used by embed-capable
// channels (e.g. a Discord webhook).
type AlertEmbed struct {
	Title       string
	Description string
	Color       int // RGB packed int: red/orange/yellow by risk level
	Fields      []AlertEmbedField
}

// AlertEmbedField is one inline field of a rich embed.
type AlertEmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// AlertRecord is the persisted audit entry for a dispatched (or attempted)
// alert.
type AlertRecord struct {
	AssessmentID      string
	Wallet            string
	Market            string
	Score             float64
	SignalsFired      []SignalKind
	ChannelsAttempted []string
	ChannelsSucceeded []string
	DedupKey          string
	UserFeedback      *bool
	CreatedAt         time.Time
}
