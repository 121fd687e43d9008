package kalshi

import (
	"encoding/json"

	"kalshi-agent/internal/domain"
)

// Venue WebSocket and REST wire constants.
const (
	maxRetries   = 10
	baseDelay    = 1 // seconds, exponential base for stream reconnect
	maxDelay     = 60
	pingInterval = 10 // seconds
	readTimeout  = 30 // seconds; not referenced: the silence watchdog timeout is passed to NewStreamClient
)

// subscribeCommand is the wire shape of a channel subscription request.
type subscribeCommand struct {
	ID     int64               `json:"id"`
	Cmd    string              `json:"cmd"`
	Params subscribeCommandArg `json:"params"`
}

type subscribeCommandArg struct {
	Channels       []string `json:"channels"`
	MarketTickers  []string `json:"market_tickers"`
}

// wsEnvelope is the wire shape of every inbound stream message; Type
// discriminates how Msg should be decoded.
type wsEnvelope struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// tickerMsg is the payload of a "ticker_v2" channel message.
type tickerMsg struct {
	MarketTicker string `json:"market_ticker"`
	Bid          int64  `json:"yes_bid"` // integer cents
	Ask          int64  `json:"yes_ask"` // integer cents
	Price        int64  `json:"price"`   // integer cents, last trade
	Volume       int64  `json:"volume"`
	Ts           int64  `json:"ts"`
}

// orderbookSnapshotMsg is the initial full-book payload the
// orderbook_delta channel delivers on subscribe, before any deltas.
type orderbookSnapshotMsg struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"` // [price_cents, count]
	No           [][2]int64 `json:"no"`
	Ts           int64      `json:"ts"`
}

// orderbookDeltaMsg is the payload of an "orderbook_delta" channel message.
type orderbookDeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Side         string `json:"side"` // "yes" or "no"
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Ts           int64  `json:"ts"`
}

// tradeMsg is the payload of a "trade" channel message.
type tradeMsg struct {
	MarketTicker string `json:"market_ticker"`
	YesPrice     int64  `json:"yes_price"` // integer cents
	Count        int64  `json:"count"`
	Ts           int64  `json:"ts"`
}

// fillMsg is the payload of a "fill" or "order_update" channel message.
type fillMsg struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"order_status"`
	FilledCount  int64  `json:"filled_count"`
	AvgPriceCents int64 `json:"avg_price_cents"`
	Ts           int64  `json:"ts"`
}

// restMarket is the REST representation of a single market.
type restMarket struct {
	Ticker      string `json:"ticker"`
	Status      string `json:"status"`
	YesBid      int64  `json:"yes_bid"`
	YesAsk      int64  `json:"yes_ask"`
	LastPrice   int64  `json:"last_price"`
	Volume24h   int64  `json:"volume_24h"`
	CloseTimeS  int64  `json:"close_ts"`
}

func (m restMarket) toDomain(nowMs int64) domain.Market {
	return domain.Market{
		Ticker:     m.Ticker,
		BestBid:    domain.CentsToDollars(m.YesBid),
		BestAsk:    domain.CentsToDollars(m.YesAsk),
		LastPrice:  domain.CentsToDollars(m.LastPrice),
		Volume24h:  m.Volume24h,
		LastUpdate: nowMs,
		CloseTime:  m.CloseTimeS * 1000,
		Status:     normalizeMarketStatus(m.Status),
	}
}

// normalizeMarketStatus maps the venue's market-status vocabulary onto the
// internal three-state model.
func normalizeMarketStatus(venueStatus string) string {
	switch venueStatus {
	case "active", "initialized":
		return domain.MarketStatusOpen
	case "settled":
		return domain.MarketStatusSettled
	default:
		return domain.MarketStatusClosed
	}
}

// restOrder is the REST representation of a single order.
type restOrder struct {
	OrderID       string `json:"order_id"`
	Ticker        string `json:"ticker"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Type          string `json:"type"`
	YesPrice      int64  `json:"yes_price"`
	Count         int64  `json:"count"`
	FilledCount   int64  `json:"filled_count"`
	AvgPriceCents int64  `json:"avg_price_cents"`
	Status        string `json:"status"`
}

// restOrderRequest is the REST request body to submit a new order.
type restOrderRequest struct {
	Ticker   string `json:"ticker"`
	Side     string `json:"side"`
	Action   string `json:"action"`
	Type     string `json:"type"`
	Count    int64  `json:"count"`
	YesPrice int64  `json:"yes_price,omitempty"`
	ClientID string `json:"client_order_id"`
}

// restBalance is the REST representation of the trading account balance.
type restBalance struct {
	BalanceCents int64 `json:"balance"`
}

// restErrorEnvelope is the error body shape the venue returns on non-2xx
// responses.
type restErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
