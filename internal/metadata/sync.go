// Package metadata implements the Metadata Sync worker: a background poller
// that keeps the market catalog cache warm. Markets are fetched page by page
// from the upstream REST catalog and written into the shared cache with a
// TTL longer than the sync interval, so a transient sync failure serves
// stale entries rather than none.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"insider-tracker/internal/chain"
	"insider-tracker/internal/kv"
	"insider-tracker/pkg/types"
)

// State is the Metadata Sync worker's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateSyncing  State = "syncing"
	StateIdle     State = "idle"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Config tunes the sync interval, cache TTL, and the client-imposed REST
// rate limit.
type Config struct {
	BaseURL       string
	SyncInterval  time.Duration // default 300s
	CacheTTL      time.Duration // default 600s
	RatePerSecond int           // default 10
}

// Syncer is the Metadata Sync worker.
type Syncer struct {
	http   *resty.Client
	cache  *kv.Store
	rl     *chain.TokenBucket
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state State

	onStateChange func(State)
	onSyncDone    func(count int)

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Syncer against cfg.BaseURL, applying defaults to
// zero-valued cfg fields.
func New(cfg Config, cache *kv.Store, logger *slog.Logger) *Syncer {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 300 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 600 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	return &Syncer{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		cache:  cache,
		rl:     chain.NewTokenBucket(float64(cfg.RatePerSecond), float64(cfg.RatePerSecond)),
		cfg:    cfg,
		logger: logger,
		state:  StateStopped,
	}
}

// OnStateChange registers a callback invoked whenever the worker's state
// transitions.
func (s *Syncer) OnStateChange(fn func(State)) { s.onStateChange = fn }

// OnSyncComplete registers a callback invoked after each successful sync,
// with the number of markets written to cache.
func (s *Syncer) OnSyncComplete(fn func(count int)) { s.onSyncDone = fn }

func (s *Syncer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.onStateChange != nil {
		s.onStateChange(st)
	}
}

// State returns the worker's current lifecycle state.
func (s *Syncer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start performs a synchronous initial sync, then launches the periodic
// poll loop in the background. Failure of the initial sync fails Start.
func (s *Syncer) Start(ctx context.Context) error {
	s.setState(StateStarting)

	if err := s.syncOnce(ctx); err != nil {
		s.setState(StateError)
		return fmt.Errorf("initial metadata sync: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setState(StateIdle)

	go s.loop(runCtx)
	return nil
}

func (s *Syncer) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Warn("metadata sync failed, cache serves stale entries until next tick", "error", err)
				s.setState(StateError)
				continue
			}
			s.setState(StateIdle)
		}
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Syncer) Stop() {
	s.setState(StateStopping)
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.setState(StateStopped)
}

func (s *Syncer) syncOnce(ctx context.Context) error {
	s.setState(StateSyncing)

	markets, err := s.fetchAllMarkets(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, gm := range markets {
		md := fromGammaMarket(gm, now)
		if s.cache != nil {
			_ = s.cache.Set(ctx, cacheKey(md.ConditionID), encode(md), s.cfg.CacheTTL)
		}
	}

	if s.onSyncDone != nil {
		s.onSyncDone(len(markets))
	}
	return nil
}

// fetchAllMarkets walks the cursor-paginated catalog until the pagination
// sentinel "LTE=" is returned.
func (s *Syncer) fetchAllMarkets(ctx context.Context) ([]types.GammaMarket, error) {
	var all []types.GammaMarket
	cursor := ""

	for {
		if err := s.rl.Wait(ctx); err != nil {
			return nil, err
		}
		var page types.GammaMarketPage
		req := s.http.R().SetContext(ctx).SetResult(&page).ForceContentType("application/json")
		if cursor != "" {
			req.SetQueryParam("next_cursor", cursor)
		}
		resp, err := req.Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets: %w", err)
		}
		if resp.StatusCode() >= 400 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		all = append(all, page.Data...)

		if page.NextCursor == "" || page.NextCursor == types.PaginationSentinel {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// Get is the cache-first public lookup: on miss it issues a single REST
// fetch and caches the result.
func (s *Syncer) Get(ctx context.Context, conditionID string) (types.MarketMetadata, error) {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, cacheKey(conditionID)); err == nil && ok {
			if md, ok := decode(raw); ok {
				return md, nil
			}
		}
	}

	if err := s.rl.Wait(ctx); err != nil {
		return types.MarketMetadata{}, err
	}
	var gm types.GammaMarket
	resp, err := s.http.R().SetContext(ctx).SetResult(&gm).Get("/market/" + conditionID)
	if err != nil {
		return types.MarketMetadata{}, fmt.Errorf("fetch market %s: %w", conditionID, err)
	}
	if resp.StatusCode() >= 400 {
		return types.MarketMetadata{}, fmt.Errorf("fetch market %s: status %d", conditionID, resp.StatusCode())
	}

	md := fromGammaMarket(gm, time.Now().UTC())
	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey(conditionID), encode(md), s.cfg.CacheTTL)
	}
	return md, nil
}

func cacheKey(conditionID string) string { return "metadata:market:" + conditionID }

// fromGammaMarket converts the wire shape into the domain MarketMetadata,
// deriving a Category via keyword matching against the market title.
func fromGammaMarket(gm types.GammaMarket, fetchedAt time.Time) types.MarketMetadata {
	startDate, _ := time.Parse(time.RFC3339, gm.StartDate)
	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)
	return types.MarketMetadata{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Description: gm.Description,
		Slug:        gm.Slug,
		StartDate:   startDate,
		EndDate:     endDate,
		Active:      gm.Active,
		Closed:      gm.Closed,
		Category:    deriveCategory(gm.Question + " " + gm.Description),
		Volume24h:   decimal.NewFromFloat(gm.Volume24hr),
		FetchedAt:   fetchedAt,
	}
}

var categoryKeywords = map[types.Category][]string{
	types.CategoryPolitics:      {"election", "president", "senate", "congress", "vote", "governor"},
	types.CategoryCrypto:        {"bitcoin", "ethereum", "crypto", "btc", "eth", "token", "defi"},
	types.CategorySports:        {"nfl", "nba", "mlb", "soccer", "championship", "world cup", "olympics"},
	types.CategoryEntertainment: {"oscar", "grammy", "movie", "album", "celebrity"},
	types.CategoryFinance:       {"fed", "interest rate", "inflation", "recession", "stock", "gdp"},
	types.CategoryTech:          {"ai", "openai", "apple", "google", "microsoft", "spacex"},
	types.CategoryScience:       {"vaccine", "climate", "nasa", "space launch"},
}

// deriveCategory classifies text by keyword match, first match wins in the
// map iteration order stabilized below; falls back to CategoryOther.
func deriveCategory(text string) types.Category {
	lower := strings.ToLower(text)
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return types.CategoryOther
}

var categoryOrder = []types.Category{
	types.CategoryPolitics, types.CategoryCrypto, types.CategorySports,
	types.CategoryEntertainment, types.CategoryFinance, types.CategoryTech, types.CategoryScience,
}

// encode/decode serialize MarketMetadata into the cache as a small
// delimited string rather than JSON, matching the event bus's
// string-valued-field convention used elsewhere in the system.
func encode(md types.MarketMetadata) string {
	fields := []string{
		md.ConditionID, md.Question, md.Slug,
		strconv.FormatBool(md.Active), strconv.FormatBool(md.Closed),
		string(md.Category), md.Volume24h.String(),
		strconv.FormatInt(md.StartDate.Unix(), 10),
		strconv.FormatInt(md.EndDate.Unix(), 10),
		strconv.FormatInt(md.FetchedAt.Unix(), 10),
	}
	return strings.Join(fields, "\x1f")
}

func decode(raw string) (types.MarketMetadata, bool) {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 10 {
		return types.MarketMetadata{}, false
	}
	active, _ := strconv.ParseBool(parts[3])
	closed, _ := strconv.ParseBool(parts[4])
	vol, _ := decimal.NewFromString(parts[6])
	startUnix, _ := strconv.ParseInt(parts[7], 10, 64)
	endUnix, _ := strconv.ParseInt(parts[8], 10, 64)
	fetchedUnix, _ := strconv.ParseInt(parts[9], 10, 64)
	return types.MarketMetadata{
		ConditionID: parts[0],
		Question:    parts[1],
		Slug:        parts[2],
		Active:      active,
		Closed:      closed,
		Category:    types.Category(parts[5]),
		Volume24h:   vol,
		StartDate:   time.Unix(startUnix, 0).UTC(),
		EndDate:     time.Unix(endUnix, 0).UTC(),
		FetchedAt:   time.Unix(fetchedUnix, 0).UTC(),
	}, true
}
