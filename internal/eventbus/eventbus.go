// Package eventbus implements the Event Bus: a durable, append-only log
// with consumer-group semantics backed by Redis Streams, plus a
// bounded-retry dead-letter mechanism built on XPENDING delivery counts.
package eventbus

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

// Entry is one delivered bus entry paired with its decoded TradeEvent.
type Entry struct {
	ID    string
	Trade types.TradeEvent
}

// Bus wraps a kv.Store's stream primitives with the TradeEvent
// serialization contract.
type Bus struct {
	store      *kv.Store
	stream     string
	maxRetries int64 // deliveries before an entry is moved to the dead-letter log
}

// New constructs a Bus over the given Redis stream name. maxRetries bounds
// how many times an entry is redelivered before Reclaim moves it to the
// dead-letter log, so one poisoned entry cannot block a consumer group.
func New(store *kv.Store, streamName string, maxRetries int64) *Bus {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Bus{store: store, stream: streamName, maxRetries: maxRetries}
}

// Publish appends one trade, returning its assigned entry id.
func (b *Bus) Publish(ctx context.Context, trade types.TradeEvent) (string, error) {
	return b.store.XAdd(ctx, b.stream, encodeTrade(trade))
}

// PublishBatch appends multiple trades atomically via a pipeline.
func (b *Bus) PublishBatch(ctx context.Context, trades []types.TradeEvent) ([]string, error) {
	fields := make([]map[string]string, len(trades))
	for i, tr := range trades {
		fields[i] = encodeTrade(tr)
	}
	return b.store.XAddBatch(ctx, b.stream, fields)
}

// EnsureGroup idempotently creates a consumer group starting at startID
// ("0" for beginning, "$" for only-new).
func (b *Bus) EnsureGroup(ctx context.Context, group, startID string) error {
	return b.store.XGroupCreate(ctx, b.stream, group, startID)
}

// Read delivers up to count never-before-delivered entries to consumer in
// group, blocking up to blockMS milliseconds.
func (b *Bus) Read(ctx context.Context, group, consumer string, count int64, blockMS int64) ([]Entry, error) {
	raw, err := b.store.XReadGroup(ctx, b.stream, group, consumer, count, blockMS)
	if err != nil {
		return nil, err
	}
	return decodeEntries(raw), nil
}

// ReadPending re-reads entries already delivered to consumer but not yet
// acked, for crash recovery.
func (b *Bus) ReadPending(ctx context.Context, group, consumer string, count int64) ([]Entry, error) {
	raw, err := b.store.XReadPending(ctx, b.stream, group, consumer, count)
	if err != nil {
		return nil, err
	}
	return decodeEntries(raw), nil
}

// Ack marks entries as processed.
func (b *Bus) Ack(ctx context.Context, group string, ids ...string) error {
	return b.store.XAck(ctx, b.stream, group, ids...)
}

// Trim bounds the stream to at most maxLen entries.
func (b *Bus) Trim(ctx context.Context, maxLen int64) error {
	return b.store.XTrim(ctx, b.stream, maxLen)
}

// Reclaim finds pending entries idle longer than pendingTimeout, claims
// the ones still under the retry bound for consumer (redelivery), moves
// the rest to the dead-letter log, and returns their ids.
func (b *Bus) Reclaim(ctx context.Context, group, consumer string, pendingTimeout time.Duration, maxScan int64) (redelivered []Entry, deadLettered []string, err error) {
	pending, err := b.store.XPendingExtended(ctx, b.stream, group, maxScan)
	if err != nil {
		return nil, nil, err
	}

	var claimIDs, deadIDs []string
	for _, p := range pending {
		if time.Duration(p.IdleMillis)*time.Millisecond < pendingTimeout {
			continue
		}
		if p.Deliveries >= b.maxRetries {
			deadIDs = append(deadIDs, p.ID)
		} else {
			claimIDs = append(claimIDs, p.ID)
		}
	}

	if len(deadIDs) > 0 {
		if err := b.moveToDeadLetter(ctx, group, deadIDs); err != nil {
			return nil, nil, err
		}
	}

	if len(claimIDs) == 0 {
		return nil, deadIDs, nil
	}
	raw, err := b.store.XClaim(ctx, b.stream, group, consumer, pendingTimeout, claimIDs...)
	if err != nil {
		return nil, deadIDs, err
	}
	return decodeEntries(raw), deadIDs, nil
}

// moveToDeadLetter acks the original entries (so they stop being pending)
// and records their ids in a companion `<stream>:dlq` set.
func (b *Bus) moveToDeadLetter(ctx context.Context, group string, ids []string) error {
	if err := b.store.XAck(ctx, b.stream, group, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.store.ZAdd(ctx, b.stream+":dlq", float64(time.Now().Unix()), id); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the current stream length.
func (b *Bus) Len(ctx context.Context) (int64, error) {
	return b.store.XLen(ctx, b.stream)
}

// encodeTrade stringifies every field; price and size keep their exact
// decimal representation.
func encodeTrade(t types.TradeEvent) map[string]string {
	return map[string]string{
		"market_id":          t.MarketID,
		"trade_id":           t.TradeID,
		"wallet_address":     t.WalletAddress,
		"side":               string(t.Side),
		"outcome":            t.Outcome,
		"outcome_index":      strconv.Itoa(t.OutcomeIndex),
		"price":              t.Price.String(),
		"size":               t.Size.String(),
		"timestamp":          strconv.FormatInt(t.Timestamp.Unix(), 10),
		"asset_id":           t.AssetID,
		"market_slug":        t.MarketSlug,
		"event_title":        t.EventTitle,
		"trader_name":        t.TraderName,
		"timestamp_fallback": strconv.FormatBool(t.TimestampFallback),
	}
}

// decodeTradeFields tolerates missing optional fields with zero-value
// defaults, so a reader never fails on an entry written by an older
// producer.
func decodeTradeFields(f map[string]string) types.TradeEvent {
	price, _ := decimal.NewFromString(f["price"])
	size, _ := decimal.NewFromString(f["size"])
	ts, _ := strconv.ParseInt(f["timestamp"], 10, 64)
	idx, _ := strconv.Atoi(f["outcome_index"])
	fallback, _ := strconv.ParseBool(f["timestamp_fallback"])

	return types.TradeEvent{
		MarketID:          f["market_id"],
		TradeID:           f["trade_id"],
		WalletAddress:     f["wallet_address"],
		Side:              types.Side(f["side"]),
		Outcome:           f["outcome"],
		OutcomeIndex:      idx,
		Price:             price,
		Size:              size,
		Timestamp:         time.Unix(ts, 0).UTC(),
		AssetID:           f["asset_id"],
		MarketSlug:        f["market_slug"],
		EventTitle:        f["event_title"],
		TraderName:        f["trader_name"],
		TimestampFallback: fallback,
	}
}

func decodeEntries(raw []kv.StreamEntry) []Entry {
	out := make([]Entry, len(raw))
	for i, r := range raw {
		out[i] = Entry{ID: r.ID, Trade: decodeTradeFields(r.Fields)}
	}
	return out
}
