package alert

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

func newTestHistory(t *testing.T) (*History, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	store := kv.NewFromClient(rdb, nil)
	return NewHistory(store, HistoryConfig{}), mock
}

func TestHistory_Get_Found(t *testing.T) {
	h, mock := newTestHistory(t)
	record := types.AlertRecord{
		AssessmentID:      "assess-1",
		Wallet:            "0xabc",
		Market:            "market-1",
		Score:             0.8,
		SignalsFired:      []types.SignalKind{types.SignalFreshWallet},
		ChannelsAttempted: []string{"discord"},
		ChannelsSucceeded: []string{"discord"},
		DedupKey:          "dedup:0xabc:market-1:472222",
		CreatedAt:         time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectGet("alert:record:alert-1").SetVal(encodeRecord(record))

	got, ok, err := h.Get(context.Background(), "alert-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected record found")
	}
	if got.Wallet != "0xabc" || got.Market != "market-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.DedupKey != record.DedupKey {
		t.Fatalf("DedupKey = %q, want %q", got.DedupKey, record.DedupKey)
	}
}

func TestHistory_Get_NotFound(t *testing.T) {
	h, mock := newTestHistory(t)
	mock.ExpectGet("alert:record:missing").RedisNil()

	_, ok, err := h.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestHistory_Query_ByWallet(t *testing.T) {
	h, mock := newTestHistory(t)
	record := types.AlertRecord{AssessmentID: "a1", Wallet: "0xabc", Market: "market-1", CreatedAt: time.Unix(1700000000, 0).UTC()}

	start := time.Unix(1699999000, 0)
	end := time.Unix(1700001000, 0)
	mock.ExpectZRangeByScore("alert:index:wallet:0xabc", &redis.ZRangeBy{
		Min: "1699999000", Max: "1700001000",
	}).SetVal([]string{"a1"})
	mock.ExpectGet("alert:record:a1").SetVal(encodeRecord(record))

	got, err := h.Query(context.Background(), start, end, "0xabc", "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].AssessmentID != "a1" {
		t.Fatalf("unexpected query result: %+v", got)
	}
}

func TestEncodeDecodeRecord_RoundTrips(t *testing.T) {
	useful := true
	record := types.AlertRecord{
		AssessmentID:      "a1",
		Wallet:            "0xabc",
		Market:            "market-1",
		Score:             0.73,
		SignalsFired:      []types.SignalKind{types.SignalFreshWallet, types.SignalSizeAnomaly},
		ChannelsAttempted: []string{"discord", "telegram"},
		ChannelsSucceeded: []string{"discord"},
		DedupKey:          "dedup:0xabc:market-1:472222",
		UserFeedback:      &useful,
		CreatedAt:         time.Unix(1700000000, 0).UTC(),
	}

	encoded := encodeRecord(record)
	decoded, ok := decodeRecord(encoded)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if decoded.AssessmentID != record.AssessmentID || decoded.Wallet != record.Wallet || decoded.Market != record.Market {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, record)
	}
	if decoded.Score != record.Score {
		t.Fatalf("score mismatch: got %f, want %f", decoded.Score, record.Score)
	}
	if len(decoded.SignalsFired) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(decoded.SignalsFired))
	}
	if decoded.DedupKey != record.DedupKey {
		t.Fatalf("DedupKey mismatch: got %q, want %q", decoded.DedupKey, record.DedupKey)
	}
	if decoded.UserFeedback == nil || !*decoded.UserFeedback {
		t.Fatalf("UserFeedback did not round-trip: %v", decoded.UserFeedback)
	}

	record.UserFeedback = nil
	decoded, ok = decodeRecord(encodeRecord(record))
	if !ok || decoded.UserFeedback != nil {
		t.Fatalf("nil UserFeedback should decode as nil, got %v", decoded.UserFeedback)
	}
}

func TestSetFeedback_UpdatesRecord(t *testing.T) {
	h, mock := newTestHistory(t)
	record := types.AlertRecord{
		AssessmentID: "a1",
		Wallet:       "0xabc",
		Market:       "market-1",
		DedupKey:     "dedup:0xabc:market-1:472222",
		CreatedAt:    time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectGet("alert:record:alert-1").SetVal(encodeRecord(record))

	useful := true
	updated := record
	updated.UserFeedback = &useful
	mock.ExpectSet("alert:record:alert-1", encodeRecord(updated), h.retentionTTL()).SetVal("OK")

	if err := h.SetFeedback(context.Background(), "alert-1", true); err != nil {
		t.Fatalf("SetFeedback() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestSetFeedback_MissingRecord(t *testing.T) {
	h, mock := newTestHistory(t)
	mock.ExpectGet("alert:record:missing").RedisNil()

	if err := h.SetFeedback(context.Background(), "missing", true); err == nil {
		t.Fatal("expected error for missing record")
	}
}
