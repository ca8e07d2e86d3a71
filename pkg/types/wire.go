package types

// This file defines the wire formats for the inbound WebSocket feed and the
// CLOB-style REST catalog. They are intentionally string/float JSON shapes
// (mirroring what the upstream feed actually sends), decoded into the
// exact-decimal TradeEvent/MarketMetadata by internal/stream and
// internal/metadata respectively.

// WSSubscription is one entry of the client's outbound subscription frame:
// {"subscriptions":[{"topic":"activity","type":"trades","filters":"..."}]}.
type WSSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

// WSSubscribeFrame is the frame sent immediately after connecting.
type WSSubscribeFrame struct {
	Subscriptions []WSSubscription `json:"subscriptions"`
}

// WSTradePayload is the payload of a server frame matching
// (topic:"activity", type:"trades"). Field names mirror the upstream feed
// exactly (proxyWallet, outcomeIndex, etc. — not renamed to our vocabulary)
// so the decoder in internal/stream is a pure translation layer.
type WSTradePayload struct {
	ConditionID     string      `json:"conditionId"`
	TransactionHash string      `json:"transactionHash"`
	ProxyWallet     string      `json:"proxyWallet"`
	Side            string      `json:"side"`
	Outcome         string      `json:"outcome"`
	OutcomeIndex    int         `json:"outcomeIndex"`
	Price           string      `json:"price"`
	Size            string      `json:"size"`
	Timestamp       interface{} `json:"timestamp"` // usually unix seconds; the feed occasionally sends non-numeric values
	Asset           string      `json:"asset"`
	Slug            string      `json:"slug"`
	EventSlug       string      `json:"eventSlug"`
	Title           string      `json:"title"`
	Name            string      `json:"name"`
	Pseudonym       string      `json:"pseudonym"`
}

// WSServerFrame is the envelope every inbound WebSocket message is parsed
// into first, to route on (topic, type) before decoding the payload.
type WSServerFrame struct {
	Topic   string         `json:"topic"`
	Type    string         `json:"type"`
	Payload WSTradePayload `json:"payload"`
}

// GammaMarketPage is one page of the paginated market catalog
// (GET /markets?next_cursor=...). The pagination sentinel "LTE=" in NextCursor
// means the catalog fetch is complete.
type GammaMarketPage struct {
	Data       []GammaMarket `json:"data"`
	NextCursor string        `json:"next_cursor"`
}

// PaginationSentinel is the cursor value signaling end-of-catalog.
const PaginationSentinel = "LTE="

// GammaMarket is the JSON shape of a single market in the catalog response.
type GammaMarket struct {
	ConditionID string  `json:"conditionId"`
	Question    string  `json:"question"`
	Description string  `json:"description"`
	Slug        string  `json:"slug"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	Active      bool    `json:"active"`
	Closed      bool    `json:"closed"`
	Volume24hr  float64 `json:"volume24hr"`
}
