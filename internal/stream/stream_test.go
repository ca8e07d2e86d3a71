package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"insider-tracker/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeTradeValidPayload(t *testing.T) {
	payload := types.WSTradePayload{
		ConditionID:     "m1",
		TransactionHash: "0xabc",
		ProxyWallet:     "0xdead",
		Side:            "BUY",
		Outcome:         "Yes",
		Price:           "0.5",
		Size:            "100",
		Timestamp:       float64(1700000000),
		Asset:           "tok1",
		Slug:            "will-it-rain",
		EventSlug:       "weather",
		Title:           "Will it rain?",
		Name:            "trader1",
	}
	trade, err := decodeTrade(payload)
	if err != nil {
		t.Fatalf("decodeTrade() error = %v", err)
	}
	if trade.MarketID != "m1" || trade.TradeID != "0xabc" || trade.WalletAddress != "0xdead" {
		t.Errorf("unexpected trade: %+v", trade)
	}
	if trade.TimestampFallback {
		t.Error("valid numeric timestamp should not trigger fallback")
	}
	if trade.Price.String() != "0.5" {
		t.Errorf("Price = %s, want 0.5", trade.Price)
	}
}

func TestDecodeTradeNonNumericTimestampFallsBack(t *testing.T) {
	payload := types.WSTradePayload{Side: "SELL", Price: "0.2", Size: "5", Timestamp: "not-a-number"}
	trade, err := decodeTrade(payload)
	if err != nil {
		t.Fatalf("decodeTrade() error = %v", err)
	}
	if !trade.TimestampFallback {
		t.Error("non-numeric timestamp should set TimestampFallback = true")
	}
	if trade.Side != types.SELL {
		t.Errorf("Side = %v, want SELL", trade.Side)
	}
}

func TestDecodeTradeInvalidPriceErrors(t *testing.T) {
	payload := types.WSTradePayload{Price: "not-a-decimal", Size: "5", Timestamp: float64(1)}
	if _, err := decodeTrade(payload); err == nil {
		t.Error("expected error for unparseable price")
	}
}

func TestDispatchRejectsOutOfRangePrice(t *testing.T) {
	s := New(Config{URL: "ws://unused"}, discardLogger())

	called := false
	s.OnTrade(func(types.TradeEvent) { called = true })

	frame := map[string]interface{}{
		"topic": "activity",
		"type":  "trades",
		"payload": map[string]interface{}{
			"conditionId":     "m1",
			"transactionHash": "0xabc",
			"proxyWallet":     "0xDEAD",
			"side":            "BUY",
			"price":           "1.5",
			"size":            "10",
			"timestamp":       float64(time.Now().Unix()),
		},
	}
	b, _ := json.Marshal(frame)
	s.dispatch(b)

	if called {
		t.Error("trade with price > 1 should be rejected by the parser")
	}
}

func TestStreamDeliversTrade(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, _, _ = conn.ReadMessage() // drain the subscription frame

		once.Do(func() {
			frame := map[string]interface{}{
				"topic": "activity",
				"type":  "trades",
				"payload": map[string]interface{}{
					"conditionId":     "m1",
					"transactionHash": "0xabc",
					"proxyWallet":     "0xdead",
					"side":            "BUY",
					"price":           "0.5",
					"size":            "10",
					"timestamp":       float64(time.Now().Unix()),
				},
			}
			b, _ := json.Marshal(frame)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		})

		time.Sleep(150 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	s := New(Config{URL: wsURL, InitialReconnect: 10 * time.Millisecond, MaxReconnect: 20 * time.Millisecond}, discardLogger())

	received := make(chan types.TradeEvent, 1)
	s.OnTrade(func(trade types.TradeEvent) {
		select {
		case received <- trade:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go s.Run(ctx)

	select {
	case trade := <-received:
		if trade.MarketID != "m1" {
			t.Errorf("MarketID = %q, want m1", trade.MarketID)
		}
	case <-time.After(400 * time.Millisecond):
		t.Fatal("expected at least one trade to be delivered")
	}
}
