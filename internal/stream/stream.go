// Package stream implements the Trade Stream: a WebSocket client that
// subscribes to the upstream "activity"/"trades" feed and decodes frames
// into TradeEvent. Reconnects use exponential backoff reset on success; a
// ping loop and read deadline keep half-dead connections from hanging the
// reader.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"insider-tracker/pkg/types"
)

// State is the Trade Stream's connection state machine.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config tunes reconnect backoff and heartbeat interval.
type Config struct {
	URL              string
	EventSlugFilter  string
	MarketSlugFilter string
	InitialReconnect time.Duration // default 1s
	MaxReconnect     time.Duration // default 30s
	PingInterval     time.Duration // default 30s
	ReadTimeout      time.Duration // default 90s
}

// Counters is a point-in-time snapshot of the stream's metrics, returned
// by Stream.Counters.
type Counters struct {
	TradesReceived int64
	ReconnectCount int64
	LastTradeUnix  int64
	ConnectedSince int64
}

// liveCounters holds the atomically-updated fields backing Counters; kept
// separate so a Counters value can be copied freely.
type liveCounters struct {
	tradesReceived int64
	reconnectCount int64
	lastTradeUnix  int64
	connectedSince int64
	lastError      atomic.Value // string
}

// Stream is the Trade Stream client.
type Stream struct {
	cfg    Config
	logger *slog.Logger

	state  atomic.Int32
	conn   *websocket.Conn
	connMu sync.Mutex

	onTrade  func(types.TradeEvent)
	counters liveCounters

	dialer *websocket.Dialer
}

// New constructs a Stream, applying defaults for zero-valued cfg fields.
func New(cfg Config, logger *slog.Logger) *Stream {
	if cfg.InitialReconnect <= 0 {
		cfg.InitialReconnect = time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	s := &Stream{cfg: cfg, logger: logger, dialer: websocket.DefaultDialer}
	s.counters.lastError.Store("")
	return s
}

// OnTrade registers the callback invoked for every decoded TradeEvent.
func (s *Stream) OnTrade(fn func(types.TradeEvent)) { s.onTrade = fn }

// State returns the current connection state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Counters returns a snapshot of the stream's metrics.
func (s *Stream) Counters() Counters {
	return Counters{
		TradesReceived: atomic.LoadInt64(&s.counters.tradesReceived),
		ReconnectCount: atomic.LoadInt64(&s.counters.reconnectCount),
		LastTradeUnix:  atomic.LoadInt64(&s.counters.lastTradeUnix),
		ConnectedSince: atomic.LoadInt64(&s.counters.connectedSince),
	}
}

// LastError returns the most recent connection error, if any.
func (s *Stream) LastError() string {
	return s.counters.lastError.Load().(string)
}

// Run connects and maintains the connection with exponential backoff,
// resetting on every successful connect. Blocks until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.cfg.InitialReconnect

	for {
		s.state.Store(int32(Connecting))
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.state.Store(int32(Disconnected))
			return ctx.Err()
		}
		if s.State() == Connected {
			// This attempt got connected, so the backoff starts over.
			backoff = s.cfg.InitialReconnect
		}

		s.counters.lastError.Store(errString(err))
		atomic.AddInt64(&s.counters.reconnectCount, 1)
		s.state.Store(int32(Reconnecting))
		s.logger.Warn("trade stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.cfg.MaxReconnect {
			backoff = s.cfg.MaxReconnect
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.state.Store(int32(Connected))
	atomic.StoreInt64(&s.counters.connectedSince, time.Now().Unix())

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

func (s *Stream) sendSubscription() error {
	sub := types.WSSubscription{Topic: "activity", Type: "trades"}
	if s.cfg.EventSlugFilter != "" || s.cfg.MarketSlugFilter != "" {
		filter, _ := json.Marshal(map[string]string{
			"eventSlug": s.cfg.EventSlugFilter,
			"slug":      s.cfg.MarketSlugFilter,
		})
		sub.Filters = string(filter)
	}
	frame := types.WSSubscribeFrame{Subscriptions: []types.WSSubscription{sub}}
	return s.writeJSON(frame)
}

func (s *Stream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// dispatch decodes one inbound frame, delivering matching trades via
// onTrade. Non-matching or malformed frames are logged at debug.
func (s *Stream) dispatch(data []byte) {
	var frame types.WSServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("ignoring non-json ws frame", "data", string(data))
		return
	}
	if frame.Topic != "activity" || frame.Type != "trades" {
		s.logger.Debug("ignoring frame", "topic", frame.Topic, "type", frame.Type)
		return
	}

	trade, err := decodeTrade(frame.Payload)
	if err != nil {
		s.logger.Warn("malformed trade payload, skipping", "error", err)
		return
	}
	if err := trade.Validate(time.Now().UTC()); err != nil {
		s.logger.Warn("trade violates invariants, skipping", "error", err, "trade_id", trade.TradeID)
		return
	}

	atomic.AddInt64(&s.counters.tradesReceived, 1)
	atomic.StoreInt64(&s.counters.lastTradeUnix, trade.Timestamp.Unix())

	if s.onTrade != nil {
		s.onTrade(trade)
	}
}

// Close releases the active connection, if any.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// decodeTrade converts the wire payload into a TradeEvent, tolerating a
// non-numeric timestamp by falling back to "now" and flagging
// TimestampFallback so the substitution shows up in metrics.
func decodeTrade(p types.WSTradePayload) (types.TradeEvent, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return types.TradeEvent{}, fmt.Errorf("parse price: %w", err)
	}
	size, err := decimal.NewFromString(p.Size)
	if err != nil {
		return types.TradeEvent{}, fmt.Errorf("parse size: %w", err)
	}

	ts, fallback := parseTimestamp(p.Timestamp)

	side := types.BUY
	if p.Side == "SELL" {
		side = types.SELL
	}

	name := p.Name
	if name == "" {
		name = p.Pseudonym
	}

	return types.TradeEvent{
		MarketID:          p.ConditionID,
		TradeID:           p.TransactionHash,
		WalletAddress:     strings.ToLower(p.ProxyWallet),
		Side:              side,
		Outcome:           p.Outcome,
		OutcomeIndex:      p.OutcomeIndex,
		Price:             price,
		Size:              size,
		Timestamp:         ts,
		AssetID:           p.Asset,
		MarketSlug:        p.Slug,
		EventTitle:        p.Title,
		TraderName:        name,
		TimestampFallback: fallback,
	}, nil
}

func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC(), false
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), false
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return time.Unix(int64(f), 0).UTC(), false
		}
	}
	return time.Now().UTC(), true
}
