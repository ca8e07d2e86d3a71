package profiler

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"insider-tracker/internal/chain"
	"insider-tracker/internal/entities"
	"insider-tracker/pkg/types"
)

// usdcContracts are the token addresses the tracer watches Transfer logs
// on, matching internal/entities' registered USDC contracts.
var usdcContracts = []string{usdcBridged, usdcNative}

// TracerConfig tunes the funding tracer's hop limit.
type TracerConfig struct {
	MaxHops int // default 3
}

// Tracer is the Wallet Profiler's funding-chain trace stage.
type Tracer struct {
	chain    *chain.Client
	entities *entities.Registry
	cfg      TracerConfig
	logger   *slog.Logger
}

// NewTracer constructs a Tracer against registry, applying the default hop
// limit when cfg.MaxHops is zero.
func NewTracer(chainClient *chain.Client, registry *entities.Registry, cfg TracerConfig, logger *slog.Logger) *Tracer {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 3
	}
	return &Tracer{chain: chainClient, entities: registry, cfg: cfg, logger: logger}
}

// Trace walks ERC20 Transfer logs backwards from addr until a terminal
// entity is reached, no further transfer is found, or max_hops iterations
// elapse.
func (t *Tracer) Trace(ctx context.Context, addr string) types.FundingChain {
	fc := types.FundingChain{Address: addr}
	current := addr

	for hop := 0; hop < t.cfg.MaxHops; hop++ {
		if cat, ok := t.entities.Category(current); ok && t.entities.IsTerminal(current) {
			fc.OriginAddress = current
			fc.OriginType = cat
			fc.HopCount = hop
			return fc
		}

		transfer, found := t.earliestInboundTransfer(ctx, current)
		if !found {
			fc.OriginAddress = current
			fc.OriginType = string(types.OriginUnknown)
			fc.HopCount = hop
			return fc
		}

		fc.Transfers = append(fc.Transfers, transfer)
		current = transfer.From
	}

	fc.OriginAddress = current
	fc.OriginType = string(types.OriginUnknown)
	fc.HopCount = t.cfg.MaxHops
	return fc
}

// TraceBatch traces addrs in parallel.
func (t *Tracer) TraceBatch(ctx context.Context, addrs []string) map[string]types.FundingChain {
	out := make(map[string]types.FundingChain, len(addrs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			c := t.Trace(ctx, addr)
			mu.Lock()
			out[addr] = c
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return out
}

// earliestInboundTransfer queries each known USDC contract for Transfer
// logs where `to = padded(addr)`, returning the earliest by block number
// across all contracts.
func (t *Tracer) earliestInboundTransfer(ctx context.Context, addr string) (types.FundingTransfer, bool) {
	toTopic := chain.PadTopicAddress(addr)

	var earliest *types.FundingTransfer
	for _, token := range usdcContracts {
		logs, err := t.chain.GetLogs(ctx, chain.LogFilter{
			FromBlock: "0x0",
			ToBlock:   "latest",
			Address:   []string{token},
			Topics:    []interface{}{chain.TransferEventTopic.Hex(), nil, toTopic},
		})
		if err != nil {
			if t.logger != nil {
				t.logger.Warn("profiler: get_logs failed, skipping token", "token", token, "address", addr, "error", err)
			}
			continue
		}
		for _, l := range logs {
			tr, ok := t.decodeTransfer(ctx, l)
			if !ok {
				continue
			}
			if earliest == nil || tr.BlockNumber < earliest.BlockNumber {
				earliest = &tr
			}
		}
	}
	if earliest == nil {
		return types.FundingTransfer{}, false
	}
	return *earliest, true
}

func (t *Tracer) decodeTransfer(ctx context.Context, l chain.Log) (types.FundingTransfer, bool) {
	if len(l.Topics) < 3 {
		return types.FundingTransfer{}, false
	}
	from := topicToAddress(l.Topics[1])
	to := topicToAddress(l.Topics[2])
	amount, ok := new(big.Int).SetString(strings.TrimPrefix(l.Data, "0x"), 16)
	if !ok {
		amount = big.NewInt(0)
	}

	ts := time.Now().UTC()
	if blk, err := t.chain.Block(ctx, l.BlockNumber); err == nil {
		ts = blk.Timestamp
	}

	return types.FundingTransfer{
		TxHash:      l.TransactionHash,
		From:        from,
		To:          to,
		Amount:      decimal.NewFromBigInt(amount, -6),
		BlockNumber: l.BlockNumber,
		Timestamp:   ts,
	}, true
}

// topicToAddress extracts the 20-byte address from a 32-byte log topic.
func topicToAddress(topic string) string {
	hexPart := strings.TrimPrefix(topic, "0x")
	if len(hexPart) < 40 {
		return "0x" + hexPart
	}
	return "0x" + hexPart[len(hexPart)-40:]
}
