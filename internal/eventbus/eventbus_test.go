package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	redismock "github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

func newTestBus(maxRetries int64) (*Bus, redismock.ClientMock) {
	rdb, mock := redismock.NewClientMock()
	store := kv.NewFromClient(rdb, nil)
	return New(store, "trades", maxRetries), mock
}

func sampleTrade() types.TradeEvent {
	return types.TradeEvent{
		MarketID:      "m1",
		TradeID:       "0xabc",
		WalletAddress: "0xdead",
		Side:          types.BUY,
		Price:         decimal.RequireFromString("0.5"),
		Size:          decimal.RequireFromString("100"),
		Timestamp:     time.Unix(1700000000, 0).UTC(),
	}
}

func TestPublishAppendsEncodedFields(t *testing.T) {
	bus, mock := newTestBus(5)
	ctx := context.Background()

	trade := sampleTrade()
	values := make(map[string]interface{})
	for k, v := range encodeTrade(trade) {
		values[k] = v
	}
	mock.ExpectXAdd(&redis.XAddArgs{Stream: "trades", Values: values}).SetVal("1700000000000-0")

	id, err := bus.Publish(ctx, trade)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "1700000000000-0" {
		t.Errorf("Publish() id = %q", id)
	}
}

func TestEnsureGroupIdempotent(t *testing.T) {
	bus, mock := newTestBus(5)
	ctx := context.Background()

	mock.ExpectXGroupCreateMkStream("trades", "consumers", "0").SetVal("OK")
	if err := bus.EnsureGroup(ctx, "consumers", "0"); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	mock.ExpectXGroupCreateMkStream("trades", "consumers", "0").SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	if err := bus.EnsureGroup(ctx, "consumers", "0"); err != nil {
		t.Fatalf("second EnsureGroup() should treat BUSYGROUP as success, got %v", err)
	}
}

func TestAckAndTrim(t *testing.T) {
	bus, mock := newTestBus(5)
	ctx := context.Background()

	mock.ExpectXAck("trades", "consumers", "1-0").SetVal(1)
	if err := bus.Ack(ctx, "consumers", "1-0"); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	mock.ExpectXTrimMaxLen("trades", 10000).SetVal(0)
	if err := bus.Trim(ctx, 10000); err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
}

func TestLen(t *testing.T) {
	bus, mock := newTestBus(5)
	ctx := context.Background()

	mock.ExpectXLen("trades").SetVal(42)
	n, err := bus.Len(ctx)
	if err != nil || n != 42 {
		t.Fatalf("Len() = %d, %v", n, err)
	}
}

func TestEncodeDecodeTradeRoundTrip(t *testing.T) {
	trade := sampleTrade()
	fields := encodeTrade(trade)
	got := decodeTradeFields(fields)

	if got.MarketID != trade.MarketID || got.TradeID != trade.TradeID {
		t.Errorf("round trip identity mismatch: got %+v, want %+v", got, trade)
	}
	if !got.Price.Equal(trade.Price) || !got.Size.Equal(trade.Size) {
		t.Errorf("round trip decimal mismatch: got price=%s size=%s, want price=%s size=%s",
			got.Price, got.Size, trade.Price, trade.Size)
	}
	if got.Timestamp.Unix() != trade.Timestamp.Unix() {
		t.Errorf("round trip timestamp mismatch: got %v, want %v", got.Timestamp, trade.Timestamp)
	}
}

func TestDecodeTradeFieldsTreatsMissingAsZeroValue(t *testing.T) {
	got := decodeTradeFields(map[string]string{"market_id": "m1"})
	if got.MarketID != "m1" {
		t.Errorf("MarketID = %q, want m1", got.MarketID)
	}
	if !got.Price.IsZero() || !got.Size.IsZero() {
		t.Errorf("missing numeric fields should decode to zero, got price=%s size=%s", got.Price, got.Size)
	}
}
