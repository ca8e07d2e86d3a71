// Package chain implements the Chain Client: a rate-limited, cached,
// fail-over JSON-RPC client against the Polygon network. Calls prefer the
// primary endpoint; on retries-exhausted the primary is marked unhealthy
// and traffic shifts to the secondary until a cooldown-based re-probe
// succeeds.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"insider-tracker/internal/kv"
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)"),
// the ERC20 Transfer log topic used by the funding tracer's get_logs calls.
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrRPCExhausted is returned when both the primary and secondary endpoints
// exhaust their retries for a call.
type ErrRPCExhausted struct {
	Method string
	Err    error
}

func (e *ErrRPCExhausted) Error() string {
	return fmt.Sprintf("chain: %s exhausted both endpoints: %v", e.Method, e.Err)
}

func (e *ErrRPCExhausted) Unwrap() error { return e.Err }

// Config tunes the Chain Client's rate limit, cache TTLs, and retry policy.
type Config struct {
	PrimaryURL       string
	SecondaryURL     string
	RatePerSecond    int
	MaxRetries       int
	RetryBackoffBase time.Duration
	BlockCacheTTL    time.Duration
	DefaultTTL       time.Duration
	ProbeCooldown    time.Duration
}

// Client is the Chain Client. One per process; shared across the profiler
// and the funding tracer.
type Client struct {
	http   *resty.Client
	cache  *kv.Store
	rl     *TokenBucket
	logger *slog.Logger

	cfg Config

	mu              sync.Mutex
	primaryHealthy  bool
	lastProbeFailAt time.Time
}

// New constructs a Chain Client. cache may be nil to disable read-through
// caching (used in tests).
func New(cfg Config, cache *kv.Store, logger *slog.Logger) *Client {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	if cfg.BlockCacheTTL <= 0 {
		cfg.BlockCacheTTL = time.Hour
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.ProbeCooldown <= 0 {
		cfg.ProbeCooldown = 60 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:           httpClient,
		cache:          cache,
		rl:             NewTokenBucket(float64(cfg.RatePerSecond), float64(cfg.RatePerSecond)),
		logger:         logger,
		cfg:            cfg,
		primaryHealthy: true,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// call performs one JSON-RPC request, retried with exponential backoff on
// the active endpoint, then failing over to the other endpoint with the
// same retry policy. On retries-exhausted at the primary it is marked
// unhealthy and re-probed no sooner than ProbeCooldown later.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	endpoints := c.endpointOrder()
	var lastErr error
	for _, url := range endpoints {
		if url == "" {
			continue
		}
		result, err := c.callWithRetry(ctx, url, method, params)
		if err == nil {
			c.markHealthy(url)
			return result, nil
		}
		lastErr = err
		c.markUnhealthy(url, err)
	}
	return nil, &ErrRPCExhausted{Method: method, Err: lastErr}
}

func (c *Client) endpointOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primaryHealthy || time.Since(c.lastProbeFailAt) >= c.cfg.ProbeCooldown {
		return []string{c.cfg.PrimaryURL, c.cfg.SecondaryURL}
	}
	return []string{c.cfg.SecondaryURL, c.cfg.PrimaryURL}
}

func (c *Client) markHealthy(url string) {
	if url != c.cfg.PrimaryURL {
		return
	}
	c.mu.Lock()
	c.primaryHealthy = true
	c.mu.Unlock()
}

func (c *Client) markUnhealthy(url string, err error) {
	if url != c.cfg.PrimaryURL {
		return
	}
	c.mu.Lock()
	c.primaryHealthy = false
	c.lastProbeFailAt = time.Now()
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Warn("chain: primary RPC marked unhealthy", "error", err)
	}
}

func (c *Client) callWithRetry(ctx context.Context, url, method string, params []interface{}) (json.RawMessage, error) {
	backoff := c.cfg.RetryBackoffBase
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
		var out rpcResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			ForceContentType("application/json").
			Post(url)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("rpc %s: status %d", method, resp.StatusCode())
			continue
		}
		if out.Error != nil {
			lastErr = out.Error
			continue
		}
		return out.Result, nil
	}
	return nil, lastErr
}

// cacheGet/cacheSet wrap the optional kv.Store with a no-op fallback.

func (c *Client) cacheGet(ctx context.Context, key string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	val, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return val, ok
}

func (c *Client) cacheSet(ctx context.Context, key, val string, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	_ = c.cache.Set(ctx, key, val, ttl)
}

// TransactionCount returns addr's outgoing transaction count (nonce).
func (c *Client) TransactionCount(ctx context.Context, addr string) (int64, error) {
	key := "chain:nonce:" + strings.ToLower(addr)
	if cached, ok := c.cacheGet(ctx, key); ok {
		if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return n, nil
		}
	}

	raw, err := c.call(ctx, "eth_getTransactionCount", []interface{}{addr, "latest"})
	if err != nil {
		return 0, err
	}
	n, err := decodeHexQuantity(raw)
	if err != nil {
		return 0, err
	}
	c.cacheSet(ctx, key, strconv.FormatInt(n, 10), c.cfg.DefaultTTL)
	return n, nil
}

// TransactionCountBatch fans cache hits out synchronously and issues only
// cache misses concurrently.
func (c *Client) TransactionCountBatch(ctx context.Context, addrs []string) map[string]int64 {
	out := make(map[string]int64, len(addrs))
	var misses []string

	for _, addr := range addrs {
		key := "chain:nonce:" + strings.ToLower(addr)
		if cached, ok := c.cacheGet(ctx, key); ok {
			if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
				out[addr] = n
				continue
			}
		}
		misses = append(misses, addr)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, addr := range misses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			n, err := c.TransactionCount(ctx, addr)
			if err != nil {
				return
			}
			mu.Lock()
			out[addr] = n
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return out
}

// Balance returns addr's native MATIC balance in decimal units (18 decimals).
func (c *Client) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	key := "chain:balance:" + strings.ToLower(addr)
	if cached, ok := c.cacheGet(ctx, key); ok {
		if d, err := decimal.NewFromString(cached); err == nil {
			return d, nil
		}
	}

	raw, err := c.call(ctx, "eth_getBalance", []interface{}{addr, "latest"})
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := decodeHexBigInt(raw)
	if err != nil {
		return decimal.Zero, err
	}
	d := weiToDecimal(wei, 18)
	c.cacheSet(ctx, key, d.String(), c.cfg.DefaultTTL)
	return d, nil
}

// TokenBalance returns addr's ERC20 balance of tokenAddr (USDC, 6 decimals)
// via an eth_call to balanceOf(address).
func (c *Client) TokenBalance(ctx context.Context, addr, tokenAddr string) (decimal.Decimal, error) {
	key := fmt.Sprintf("chain:tokenbalance:%s:%s", strings.ToLower(tokenAddr), strings.ToLower(addr))
	if cached, ok := c.cacheGet(ctx, key); ok {
		if d, err := decimal.NewFromString(cached); err == nil {
			return d, nil
		}
	}

	data := balanceOfCallData(addr)
	callObj := map[string]interface{}{"to": tokenAddr, "data": data}
	raw, err := c.call(ctx, "eth_call", []interface{}{callObj, "latest"})
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decodeHexBigInt(raw)
	if err != nil {
		return decimal.Zero, err
	}
	d := weiToDecimal(amount, 6)
	c.cacheSet(ctx, key, d.String(), c.cfg.DefaultTTL)
	return d, nil
}

// Block describes the subset of block fields the profiler/tracer need.
type Block struct {
	Number    uint64
	Timestamp time.Time
}

// Block returns block n's timestamp, cached with the 1h block TTL (blocks
// are immutable once mined).
func (c *Client) Block(ctx context.Context, n uint64) (Block, error) {
	key := fmt.Sprintf("chain:block:%d", n)
	if cached, ok := c.cacheGet(ctx, key); ok {
		if ts, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return Block{Number: n, Timestamp: time.Unix(ts, 0).UTC()}, nil
		}
	}

	raw, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{toHexQuantity(n), false})
	if err != nil {
		return Block{}, err
	}
	var body struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}
	tsInt, err := decodeHexQuantity(json.RawMessage(`"` + body.Timestamp + `"`))
	if err != nil {
		return Block{}, err
	}
	c.cacheSet(ctx, key, strconv.FormatInt(tsInt, 10), c.cfg.BlockCacheTTL)
	return Block{Number: n, Timestamp: time.Unix(tsInt, 0).UTC()}, nil
}

// LogFilter mirrors the eth_getLogs filter object.
type LogFilter struct {
	FromBlock string
	ToBlock   string
	Address   []string
	Topics    []interface{}
}

// Log is one entry of an eth_getLogs result.
type Log struct {
	Address         string
	Topics          []string
	Data            string
	BlockNumber     uint64
	TransactionHash string
}

// GetLogs executes eth_getLogs with filter.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	obj := map[string]interface{}{}
	if filter.FromBlock != "" {
		obj["fromBlock"] = filter.FromBlock
	}
	if filter.ToBlock != "" {
		obj["toBlock"] = filter.ToBlock
	}
	if len(filter.Address) > 0 {
		obj["address"] = filter.Address
	}
	if len(filter.Topics) > 0 {
		obj["topics"] = filter.Topics
	}

	raw, err := c.call(ctx, "eth_getLogs", []interface{}{obj})
	if err != nil {
		return nil, err
	}
	var raws []struct {
		Address         string   `json:"address"`
		Topics          []string `json:"topics"`
		Data            string   `json:"data"`
		BlockNumber     string   `json:"blockNumber"`
		TransactionHash string   `json:"transactionHash"`
	}
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	logs := make([]Log, len(raws))
	for i, l := range raws {
		blockNum, _ := decodeHexQuantity(json.RawMessage(`"` + l.BlockNumber + `"`))
		logs[i] = Log{
			Address:         l.Address,
			Topics:          l.Topics,
			Data:            l.Data,
			BlockNumber:     uint64(blockNum),
			TransactionHash: l.TransactionHash,
		}
	}
	return logs, nil
}

// WalletInfo bundles an address's nonce, native balance, and first-tx time.
type WalletInfo struct {
	Nonce     int64
	Balance   decimal.Decimal
	FirstTxAt *time.Time
}

// WalletInfo returns the combined nonce+balance view of addr. FirstTxAt is
// always nil: no on-chain indexer is wired (see the internal/profiler doc).
func (c *Client) WalletInfo(ctx context.Context, addr string) (WalletInfo, error) {
	nonce, err := c.TransactionCount(ctx, addr)
	if err != nil {
		return WalletInfo{}, err
	}
	bal, err := c.Balance(ctx, addr)
	if err != nil {
		return WalletInfo{}, err
	}
	return WalletInfo{Nonce: nonce, Balance: bal}, nil
}

// Health reports whether at least one endpoint currently answers
// eth_blockNumber. Used by internal/health.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.call(ctx, "eth_blockNumber", nil)
	return err == nil
}

// --- encoding helpers ---

func decodeHexQuantity(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("decode hex quantity %q: %w", s, err)
	}
	return n, nil
}

func decodeHexBigInt(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("decode hex big int %q", s)
	}
	return n, nil
}

func toHexQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func weiToDecimal(amount *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -decimals)
}

// balanceOfCallData builds the calldata for balanceOf(address), function
// selector 0x70a08231 followed by the 32-byte padded address.
func balanceOfCallData(addr string) string {
	selector := "70a08231"
	padded := common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
	return "0x" + selector + common.Bytes2Hex(padded)
}

// PadTopicAddress left-pads addr to a 32-byte log topic, used by the
// funding tracer to filter Transfer logs by `to`.
func PadTopicAddress(addr string) string {
	padded := common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
	return "0x" + common.Bytes2Hex(padded)
}
