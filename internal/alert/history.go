package alert

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

// Recorder is the interface the pipeline depends on for alert history. A
// single Redis-sorted-set-backed implementation (History below) satisfies
// it; a SQL-backed repository can be swapped in behind the same interface.
type Recorder interface {
	Record(ctx context.Context, assessment types.RiskAssessment, dedupKey string, attempted, succeeded []string) (string, error)
	Get(ctx context.Context, alertID string) (*types.AlertRecord, bool, error)
	Query(ctx context.Context, start, end time.Time, wallet, market string, limit int64) ([]types.AlertRecord, error)
}

const (
	keyPrefixAlert = "alert:record:"
	keyIndexTime   = "alert:index:time"
	keyIndexWallet = "alert:index:wallet:"
	keyIndexMarket = "alert:index:market:"
)

// HistoryConfig tunes retention.
type HistoryConfig struct {
	RetentionDays int // default 30
}

// History persists AlertRecords in Redis sorted sets indexed by time,
// wallet, and market.
type History struct {
	store *kv.Store
	cfg   HistoryConfig
}

// NewHistory constructs a History, applying the 30-day default retention
// when cfg.RetentionDays is zero.
func NewHistory(store *kv.Store, cfg HistoryConfig) *History {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &History{store: store, cfg: cfg}
}

func (h *History) retentionTTL() time.Duration {
	return time.Duration(h.cfg.RetentionDays) * 24 * time.Hour
}

// Record persists one AlertRecord for assessment and indexes it by time,
// wallet, and market. dedupKey is the wallet:market:hourBucket key the
// scorer gated this alert under.
func (h *History) Record(ctx context.Context, assessment types.RiskAssessment, dedupKey string, attempted, succeeded []string) (string, error) {
	alertID := uuid.NewString()
	now := time.Now().UTC()

	record := types.AlertRecord{
		AssessmentID:      assessment.AssessmentID,
		Wallet:            assessment.Trade.WalletAddress,
		Market:            assessment.Trade.MarketID,
		Score:             assessment.WeightedScore,
		SignalsFired:      assessment.SignalKinds(),
		ChannelsAttempted: attempted,
		ChannelsSucceeded: succeeded,
		DedupKey:          dedupKey,
		CreatedAt:         now,
	}

	if err := h.store.Set(ctx, keyPrefixAlert+alertID, encodeRecord(record), h.retentionTTL()); err != nil {
		return "", fmt.Errorf("alert history: store record: %w", err)
	}

	score := float64(now.Unix())
	if err := h.store.ZAdd(ctx, keyIndexTime, score, alertID); err != nil {
		return "", fmt.Errorf("alert history: time index: %w", err)
	}
	if err := h.store.ZAdd(ctx, keyIndexWallet+record.Wallet, score, alertID); err != nil {
		return "", fmt.Errorf("alert history: wallet index: %w", err)
	}
	if err := h.store.ZAdd(ctx, keyIndexMarket+record.Market, score, alertID); err != nil {
		return "", fmt.Errorf("alert history: market index: %w", err)
	}

	return alertID, nil
}

// Get returns a single alert record by id.
func (h *History) Get(ctx context.Context, alertID string) (*types.AlertRecord, bool, error) {
	raw, ok, err := h.store.Get(ctx, keyPrefixAlert+alertID)
	if err != nil || !ok {
		return nil, ok, err
	}
	record, ok := decodeRecord(raw)
	if !ok {
		return nil, false, nil
	}
	return &record, true, nil
}

// SetFeedback marks an existing record with operator feedback on whether
// the alert was useful.
func (h *History) SetFeedback(ctx context.Context, alertID string, useful bool) error {
	raw, ok, err := h.store.Get(ctx, keyPrefixAlert+alertID)
	if err != nil {
		return fmt.Errorf("alert history: fetch record %s: %w", alertID, err)
	}
	if !ok {
		return fmt.Errorf("alert history: record %s not found", alertID)
	}
	record, ok := decodeRecord(raw)
	if !ok {
		return fmt.Errorf("alert history: record %s is malformed", alertID)
	}
	record.UserFeedback = &useful
	if err := h.store.Set(ctx, keyPrefixAlert+alertID, encodeRecord(record), h.retentionTTL()); err != nil {
		return fmt.Errorf("alert history: update record %s: %w", alertID, err)
	}
	return nil
}

// Query returns alert records in [start,end], optionally filtered by wallet
// or market (wallet takes precedence if both are set).
func (h *History) Query(ctx context.Context, start, end time.Time, wallet, market string, limit int64) ([]types.AlertRecord, error) {
	indexKey := keyIndexTime
	switch {
	case wallet != "":
		indexKey = keyIndexWallet + wallet
	case market != "":
		indexKey = keyIndexMarket + market
	}

	ids, err := h.store.ZRangeByScore(ctx, indexKey, float64(start.Unix()), float64(end.Unix()))
	if err != nil {
		return nil, fmt.Errorf("alert history: query index: %w", err)
	}
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}

	records := make([]types.AlertRecord, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := h.store.Get(ctx, keyPrefixAlert+id)
		if err != nil {
			return nil, fmt.Errorf("alert history: fetch record %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if record, ok := decodeRecord(raw); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// encodeRecord/decodeRecord use the delimited-string cache format already
// established by internal/profiler and internal/metadata, rather than JSON.
func encodeRecord(r types.AlertRecord) string {
	signals := make([]string, len(r.SignalsFired))
	for i, s := range r.SignalsFired {
		signals[i] = string(s)
	}
	feedback := ""
	if r.UserFeedback != nil {
		feedback = strconv.FormatBool(*r.UserFeedback)
	}
	fields := []string{
		r.AssessmentID,
		r.Wallet,
		r.Market,
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		strings.Join(signals, ","),
		strings.Join(r.ChannelsAttempted, ","),
		strings.Join(r.ChannelsSucceeded, ","),
		r.DedupKey,
		feedback,
		strconv.FormatInt(r.CreatedAt.Unix(), 10),
	}
	return strings.Join(fields, "\x1f")
}

func decodeRecord(raw string) (types.AlertRecord, bool) {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 10 {
		return types.AlertRecord{}, false
	}
	score, _ := strconv.ParseFloat(parts[3], 64)
	createdUnix, _ := strconv.ParseInt(parts[9], 10, 64)

	var signals []types.SignalKind
	if parts[4] != "" {
		for _, s := range strings.Split(parts[4], ",") {
			signals = append(signals, types.SignalKind(s))
		}
	}
	var attempted, succeeded []string
	if parts[5] != "" {
		attempted = strings.Split(parts[5], ",")
	}
	if parts[6] != "" {
		succeeded = strings.Split(parts[6], ",")
	}
	var feedback *bool
	if parts[8] != "" {
		if v, err := strconv.ParseBool(parts[8]); err == nil {
			feedback = &v
		}
	}

	return types.AlertRecord{
		AssessmentID:      parts[0],
		Wallet:            parts[1],
		Market:            parts[2],
		Score:             score,
		SignalsFired:      signals,
		ChannelsAttempted: attempted,
		ChannelsSucceeded: succeeded,
		DedupKey:          parts[7],
		UserFeedback:      feedback,
		CreatedAt:         time.Unix(createdUnix, 0).UTC(),
	}, true
}
