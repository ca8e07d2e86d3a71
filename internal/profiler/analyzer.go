// Package profiler implements the Wallet Profiler: the
// Analyzer builds a cached WalletProfile from concurrent on-chain RPC
// fan-out, and the Funding Tracer (funding.go) walks ERC20 Transfer logs
// back to a terminal entity or exhausts its hop limit.
//
// First-seen time is not looked up: chain.Client.WalletInfo has no indexer
// behind it and always returns a nil FirstTxAt, so FirstSeen and AgeHours
// stay nil and freshness reduces to the nonce check.
package profiler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"insider-tracker/internal/chain"
	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

// Config tunes the Analyzer's freshness threshold and cache TTL.
type Config struct {
	FreshWalletNonceThreshold int64
	CacheTTL                  time.Duration // default 30m
}

// Analyzer is the Wallet Profiler's analyzer stage.
type Analyzer struct {
	chain  *chain.Client
	cache  *kv.Store
	cfg    Config
	logger *slog.Logger
}

// New constructs an Analyzer, applying defaults for zero cfg fields.
func New(chainClient *chain.Client, cache *kv.Store, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.FreshWalletNonceThreshold <= 0 {
		cfg.FreshWalletNonceThreshold = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &Analyzer{chain: chainClient, cache: cache, cfg: cfg, logger: logger}
}

// USDC token contracts consulted for balance lookups, matching
// internal/entities' registered contracts.
const (
	usdcBridged = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	usdcNative  = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
)

func cacheKey(addr string) string { return "profile:" + strings.ToLower(addr) }

// Analyze returns addr's WalletProfile, cache-first. On miss it fans out
// concurrent RPC calls for nonce, MATIC balance, and USDC balance
// (summed across both bridged and native contracts); a USDC failure
// degrades to zero, a nonce/MATIC failure surfaces as error.
func (a *Analyzer) Analyze(ctx context.Context, addr string) (types.WalletProfile, error) {
	if a.cache != nil {
		if raw, ok, err := a.cache.Get(ctx, cacheKey(addr)); err == nil && ok {
			if p, ok := decodeProfile(raw); ok {
				return p, nil
			}
		}
	}

	var (
		nonce       int64
		nonceErr    error
		matic       decimal.Decimal
		maticErr    error
		usdcBridge  decimal.Decimal
		usdcNativeB decimal.Decimal
	)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		nonce, nonceErr = a.chain.TransactionCount(ctx, addr)
	}()
	go func() {
		defer wg.Done()
		matic, maticErr = a.chain.Balance(ctx, addr)
	}()
	go func() {
		defer wg.Done()
		if v, err := a.chain.TokenBalance(ctx, addr, usdcBridged); err == nil {
			usdcBridge = v
		}
	}()
	go func() {
		defer wg.Done()
		if v, err := a.chain.TokenBalance(ctx, addr, usdcNative); err == nil {
			usdcNativeB = v
		}
	}()
	wg.Wait()

	if nonceErr != nil {
		return types.WalletProfile{}, nonceErr
	}
	if maticErr != nil {
		return types.WalletProfile{}, maticErr
	}

	info, err := a.chain.WalletInfo(ctx, addr)
	var firstSeen *time.Time
	var ageHours *float64
	if err == nil {
		firstSeen = info.FirstTxAt
	}
	if firstSeen != nil {
		h := time.Since(*firstSeen).Hours()
		ageHours = &h
	}

	profile := types.WalletProfile{
		Address:        addr,
		Nonce:          nonce,
		FirstSeen:      firstSeen,
		AgeHours:       ageHours,
		MaticBalance:   matic,
		USDCBalance:    usdcBridge.Add(usdcNativeB),
		AnalyzedAt:     time.Now().UTC(),
		FreshThreshold: a.cfg.FreshWalletNonceThreshold,
	}
	profile.IsFresh = types.IsWalletFresh(nonce, a.cfg.FreshWalletNonceThreshold, ageHours)

	if a.cache != nil {
		_ = a.cache.Set(ctx, cacheKey(addr), encodeProfile(profile), a.cfg.CacheTTL)
	}
	return profile, nil
}

// AnalyzeBatch analyzes addrs in parallel, dropping failures and returning
// only the surviving profiles.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, addrs []string) map[string]types.WalletProfile {
	out := make(map[string]types.WalletProfile, len(addrs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			p, err := a.Analyze(ctx, addr)
			if err != nil {
				if a.logger != nil {
					a.logger.Warn("profiler: analyze failed, dropping from batch", "address", addr, "error", err)
				}
				return
			}
			mu.Lock()
			out[addr] = p
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return out
}

// encodeProfile/decodeProfile serialize WalletProfile as delimited string
// fields, matching the metadata cache's string-valued convention.
func encodeProfile(p types.WalletProfile) string {
	firstSeenUnix := int64(-1)
	if p.FirstSeen != nil {
		firstSeenUnix = p.FirstSeen.Unix()
	}
	ageStr := ""
	if p.AgeHours != nil {
		ageStr = strconv.FormatFloat(*p.AgeHours, 'f', -1, 64)
	}
	fields := []string{
		p.Address,
		strconv.FormatInt(p.Nonce, 10),
		strconv.FormatInt(firstSeenUnix, 10),
		ageStr,
		strconv.FormatBool(p.IsFresh),
		p.MaticBalance.String(),
		p.USDCBalance.String(),
		strconv.FormatInt(p.AnalyzedAt.Unix(), 10),
		strconv.FormatInt(p.FreshThreshold, 10),
	}
	return strings.Join(fields, "\x1f")
}

func decodeProfile(raw string) (types.WalletProfile, bool) {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 9 {
		return types.WalletProfile{}, false
	}
	nonce, _ := strconv.ParseInt(parts[1], 10, 64)
	firstSeenUnix, _ := strconv.ParseInt(parts[2], 10, 64)
	isFresh, _ := strconv.ParseBool(parts[4])
	matic, _ := decimal.NewFromString(parts[5])
	usdc, _ := decimal.NewFromString(parts[6])
	analyzedUnix, _ := strconv.ParseInt(parts[7], 10, 64)
	freshThreshold, _ := strconv.ParseInt(parts[8], 10, 64)

	var firstSeen *time.Time
	var ageHours *float64
	if firstSeenUnix >= 0 {
		t := time.Unix(firstSeenUnix, 0).UTC()
		firstSeen = &t
	}
	if parts[3] != "" {
		if a, err := strconv.ParseFloat(parts[3], 64); err == nil {
			ageHours = &a
		}
	}

	return types.WalletProfile{
		Address:        parts[0],
		Nonce:          nonce,
		FirstSeen:      firstSeen,
		AgeHours:       ageHours,
		IsFresh:        isFresh,
		MaticBalance:   matic,
		USDCBalance:    usdc,
		AnalyzedAt:     time.Unix(analyzedUnix, 0).UTC(),
		FreshThreshold: freshThreshold,
	}, true
}
