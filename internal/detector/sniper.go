package detector

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"insider-tracker/pkg/types"
)

// SniperClusterConfig tunes the sniper-cluster detector
// defaults.
type SniperClusterConfig struct {
	EntryThresholdSeconds float64 // default 300
	MinEntriesPerWallet   int     // default 2
	MinClusterSize        int     // default 3
	Eps                   float64 // DBSCAN epsilon, default 0.5
	MinSamples            int     // DBSCAN min_samples, default 2
}

type marketEntry struct {
	wallet     string
	marketID   string
	entryDelta float64 // seconds
	notional   float64
	timestamp  time.Time
}

type clusterInfo struct {
	id              string
	wallets         map[string]struct{}
	avgEntryDelta   float64
	marketsInCommon int
}

// SniperClusterDetector tracks early-entry activity per market and, on
// RunClustering, groups wallets exhibiting coordinated timing via a
// from-scratch DBSCAN pass. State is process-local and guarded by mu:
// RecordEntry appends entries, RunClustering updates the cluster state.
type SniperClusterDetector struct {
	cfg SniperClusterConfig

	mu               sync.Mutex
	entries          []marketEntry
	walletEntries    map[string][]marketEntry
	knownClusters    map[string]clusterInfo
	walletClusterMap map[string]string
	signaledWallets  map[string]struct{}
}

// NewSniperClusterDetector applies defaults to zero-valued cfg fields.
func NewSniperClusterDetector(cfg SniperClusterConfig) *SniperClusterDetector {
	if cfg.EntryThresholdSeconds <= 0 {
		cfg.EntryThresholdSeconds = 300
	}
	if cfg.MinEntriesPerWallet <= 0 {
		cfg.MinEntriesPerWallet = 2
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 3
	}
	if cfg.Eps <= 0 {
		cfg.Eps = 0.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 2
	}
	return &SniperClusterDetector{
		cfg:              cfg,
		walletEntries:    make(map[string][]marketEntry),
		knownClusters:    make(map[string]clusterInfo),
		walletClusterMap: make(map[string]string),
		signaledWallets:  make(map[string]struct{}),
	}
}

// RecordEntry tracks trade as a candidate sniper entry if it occurred within
// EntryThresholdSeconds of marketCreatedAt.
func (d *SniperClusterDetector) RecordEntry(trade types.TradeEvent, marketCreatedAt time.Time) {
	delta := trade.Timestamp.Sub(marketCreatedAt).Seconds()
	if delta < 0 || delta > d.cfg.EntryThresholdSeconds {
		return
	}

	notional, _ := trade.Notional().Float64()
	entry := marketEntry{
		wallet:     trade.WalletAddress,
		marketID:   trade.MarketID,
		entryDelta: delta,
		notional:   notional,
		timestamp:  trade.Timestamp,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	d.walletEntries[entry.wallet] = append(d.walletEntries[entry.wallet], entry)
}

// RunClustering executes one clustering pass over accumulated entries and
// returns a SniperClusterSignal for each wallet newly identified as part of
// a qualifying cluster. Designed to run as a
// periodic task — it must not be called concurrently with
// itself, but RecordEntry may run concurrently with it.
func (d *SniperClusterDetector) RunClustering() []types.SniperClusterSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	var eligible []string
	for wallet, entries := range d.walletEntries {
		if len(entries) >= d.cfg.MinEntriesPerWallet {
			eligible = append(eligible, wallet)
		}
	}
	if len(eligible) < d.cfg.MinClusterSize {
		return nil
	}

	points, owner := d.buildFeatureMatrix(eligible)
	if len(points) == 0 {
		return nil
	}

	labels := dbscan(points, d.cfg.Eps, d.cfg.MinSamples)

	rowsByCluster := make(map[int][]int)
	for i, label := range labels {
		if label < 0 {
			continue // noise
		}
		rowsByCluster[label] = append(rowsByCluster[label], i)
	}

	var signals []types.SniperClusterSignal
	for _, rows := range rowsByCluster {
		wallets := make(map[string]struct{})
		for _, row := range rows {
			wallets[owner[row]] = struct{}{}
		}
		if len(wallets) < d.cfg.MinClusterSize {
			continue
		}

		avgDelta, marketsCommon := d.clusterStats(wallets)
		clusterID := d.getOrCreateClusterID(wallets)

		d.knownClusters[clusterID] = clusterInfo{
			id: clusterID, wallets: wallets,
			avgEntryDelta: avgDelta, marketsInCommon: marketsCommon,
		}
		for w := range wallets {
			d.walletClusterMap[w] = clusterID
		}

		for w := range wallets {
			if _, done := d.signaledWallets[w]; done {
				continue
			}
			confidence := sniperConfidence(len(wallets), avgDelta, marketsCommon, d.cfg.EntryThresholdSeconds)

			var trade types.TradeEvent
			if entries := d.walletEntries[w]; len(entries) > 0 {
				last := entries[len(entries)-1]
				trade = types.TradeEvent{WalletAddress: w, MarketID: last.marketID, Timestamp: last.timestamp}
			}

			signals = append(signals, types.SniperClusterSignal{
				Trade:      trade,
				Confidence: confidence,
				Factors: map[string]float64{
					"size":    0.3 * math.Min(1, float64(len(wallets))/10.0),
					"speed":   0.4 * math.Max(0, 1-avgDelta/d.cfg.EntryThresholdSeconds),
					"overlap": 0.3 * math.Min(1, float64(marketsCommon)/5.0),
				},
				ClusterID:            clusterID,
				ClusterSize:          len(wallets),
				AvgEntryDeltaSeconds: avgDelta,
				MarketsInCommon:      marketsCommon,
			})
			d.signaledWallets[w] = struct{}{}
		}
	}
	return signals
}

func sniperConfidence(size int, avgDelta float64, marketsCommon int, threshold float64) float64 {
	sizeFactor := math.Min(1, float64(size)/10.0)
	speedFactor := math.Max(0, 1-avgDelta/threshold)
	overlapFactor := math.Min(1, float64(marketsCommon)/5.0)
	c := 0.3*sizeFactor + 0.4*speedFactor + 0.3*overlapFactor
	if c > 1 {
		c = 1
	}
	return c
}

// clusterStats computes the average entry delta across every entry from the
// cluster's wallets and the number of markets common to all of them.
func (d *SniperClusterDetector) clusterStats(wallets map[string]struct{}) (avgDelta float64, marketsInCommon int) {
	var sum float64
	var n int
	var walletMarkets []map[string]struct{}

	for w := range wallets {
		entries := d.walletEntries[w]
		markets := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			sum += e.entryDelta
			n++
			markets[e.marketID] = struct{}{}
		}
		walletMarkets = append(walletMarkets, markets)
	}
	if n > 0 {
		avgDelta = sum / float64(n)
	}

	if len(walletMarkets) >= 2 {
		common := walletMarkets[0]
		for _, markets := range walletMarkets[1:] {
			next := make(map[string]struct{})
			for m := range common {
				if _, ok := markets[m]; ok {
					next[m] = struct{}{}
				}
			}
			common = next
		}
		marketsInCommon = len(common)
	}
	return avgDelta, marketsInCommon
}

// getOrCreateClusterID reuses an existing cluster id when at least half of
// wallets already belong to it, else mints a new one.
func (d *SniperClusterDetector) getOrCreateClusterID(wallets map[string]struct{}) string {
	counts := make(map[string]int)
	for w := range wallets {
		if cid, ok := d.walletClusterMap[w]; ok {
			counts[cid]++
		}
	}
	var best string
	var bestCount int
	for cid, n := range counts {
		if n > bestCount {
			best, bestCount = cid, n
		}
	}
	if 2*bestCount >= len(wallets) && best != "" {
		return best
	}
	return uuid.NewString()
}

type featurePoint [3]float64

// buildFeatureMatrix builds one row per tracked entry for each eligible
// wallet: [market_hash_normalized, entry_delta_hours, log10(notional)].
func (d *SniperClusterDetector) buildFeatureMatrix(wallets []string) ([]featurePoint, []string) {
	var points []featurePoint
	var owner []string

	for _, w := range wallets {
		for _, e := range d.walletEntries[w] {
			points = append(points, featurePoint{
				normalizedMarketHash(e.marketID),
				e.entryDelta / 3600.0,
				math.Log10(math.Max(e.notional, 1.0)),
			})
			owner = append(owner, w)
		}
	}
	return points, owner
}

func normalizedMarketHash(marketID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(marketID))
	return float64(h.Sum32()%1000) / 1000.0
}

// dbscan is a minimal density-based clustering pass over 3-dimensional
// points using Euclidean distance. Returns a label per point: -1 for noise,
// else a 0-based cluster index. The point sets here are small (one row per
// early entry), so the quadratic neighbor scan is fine.
func dbscan(points []featurePoint, eps float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -2 // unvisited
	}
	visited := make([]bool, n)
	nextCluster := 0

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if euclidean(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neigh := neighbors(i)
		if len(neigh)+1 < minSamples {
			labels[i] = -1
			continue
		}

		labels[i] = nextCluster
		seeds := append([]int{}, neigh...)
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if !visited[j] {
				visited[j] = true
				jNeigh := neighbors(j)
				if len(jNeigh)+1 >= minSamples {
					seeds = append(seeds, jNeigh...)
				}
			}
			if labels[j] == -2 || labels[j] == -1 {
				labels[j] = nextCluster
			}
		}
		nextCluster++
	}

	for i := range labels {
		if labels[i] == -2 {
			labels[i] = -1
		}
	}
	return labels
}

func euclidean(a, b featurePoint) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
