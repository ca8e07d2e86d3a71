package profiler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"insider-tracker/internal/chain"
	"insider-tracker/internal/entities"
	"insider-tracker/pkg/types"
)

func TestTraceStopsAtTerminalEntity(t *testing.T) {
	binance := "0xF977814e90dA44bFA03b6295A0616a897441aceC"

	registry := entities.Default()
	tr := NewTracer(newTestChainClient(t, methodRouterRPC(t, nil)), registry, TracerConfig{MaxHops: 3}, nil)

	chainResult := tr.Trace(context.Background(), binance)
	if chainResult.HopCount != 0 {
		t.Errorf("HopCount = %d, want 0 (already terminal)", chainResult.HopCount)
	}
	if chainResult.OriginType != "cex_binance" {
		t.Errorf("OriginType = %q, want cex_binance", chainResult.OriginType)
	}
}

func TestTraceStopsOnNoTransferFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "eth_getLogs" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": []interface{}{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": "0x0"})
	}))
	defer srv.Close()

	registry := entities.Default()
	tr := NewTracer(newTestChainClient(t, srv), registry, TracerConfig{MaxHops: 3}, nil)

	result := tr.Trace(context.Background(), "0xabc0000000000000000000000000000000000a")
	if result.OriginType != string(types.OriginUnknown) {
		t.Errorf("OriginType = %q, want unknown", result.OriginType)
	}
	if result.HopCount != 0 {
		t.Errorf("HopCount = %d, want 0", result.HopCount)
	}
}

func TestTraceExhaustsMaxHops(t *testing.T) {
	fromAddr := "0x1111111111111111111111111111111111111d"
	toTopic := chain.PadTopicAddress("0xabc0000000000000000000000000000000000a")
	fromTopic := chain.PadTopicAddress(fromAddr)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "eth_getLogs":
			logs := []map[string]interface{}{
				{
					"address":         "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
					"topics":          []string{chain.TransferEventTopic.Hex(), fromTopic, toTopic},
					"data":            "0x64", // 100
					"blockNumber":     "0x1",
					"transactionHash": "0xdeadbeef",
				},
			}
			raw, _ := json.Marshal(logs)
			_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{"result": raw})
		case "eth_getBlockByNumber":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]string{"timestamp": "0x5f5e1000"},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": "0x0"})
		}
	}))
	defer srv.Close()

	registry := entities.Default()
	tr := NewTracer(newTestChainClient(t, srv), registry, TracerConfig{MaxHops: 2}, nil)

	result := tr.Trace(context.Background(), "0xabc0000000000000000000000000000000000a")
	if result.HopCount != 2 {
		t.Errorf("HopCount = %d, want 2 (max_hops exhausted)", result.HopCount)
	}
	if result.OriginType != string(types.OriginUnknown) {
		t.Errorf("OriginType = %q, want unknown", result.OriginType)
	}
	if len(result.Transfers) != 2 {
		t.Errorf("len(Transfers) = %d, want 2", len(result.Transfers))
	}
}

func TestSuspiciousnessScoreMatchesOriginType(t *testing.T) {
	tests := []struct {
		name string
		c    types.FundingChain
		want float64
	}{
		{"cex", types.FundingChain{OriginType: "cex_binance"}, 0.1},
		{"bridge", types.FundingChain{OriginType: "bridge_polygon_pos"}, 0.3},
		{"unknown zero hops", types.FundingChain{OriginType: string(types.OriginUnknown), HopCount: 0}, 1.0},
		{"unknown at max hops", types.FundingChain{OriginType: string(types.OriginUnknown), HopCount: 3}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.SuspiciousnessScore(3); got != tt.want {
				t.Errorf("SuspiciousnessScore() = %v, want %v", got, tt.want)
			}
		})
	}
}
