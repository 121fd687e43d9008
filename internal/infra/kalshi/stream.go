package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/event"
	"kalshi-agent/internal/infra"

	"github.com/gorilla/websocket"
)

// StreamClient maintains the authenticated market-data and order-update
// websocket connection, with auto-reconnect, resubscription, and a
// silence watchdog. Auth headers are generated fresh on every connect;
// the locally tracked subscription set is replayed on every reconnect.
type StreamClient struct {
	wsURL   string
	signer  *Signer
	rest    *Client
	inbox   chan<- event.Event
	log     *slog.Logger
	metrics *infra.Metrics

	silenceTimeout time.Duration

	mu      sync.Mutex
	tickers map[string]bool // locally tracked subscription set, resent on every reconnect

	seq       *event.SeqGen
	lastMsgID atomic.Int64 // last seen venue seq, for monotonicity checks

	cmdID atomic.Int64
}

// NewStreamClient constructs a stream client. silenceTimeout is the
// maximum gap between inbound messages before the connection is
// considered dead and torn down for reconnect. seq is the process-wide
// sequence generator shared with every other event producer feeding the
// same sequencer inbox.
func NewStreamClient(wsURL string, signer *Signer, rest *Client, inbox chan<- event.Event, log *slog.Logger, metrics *infra.Metrics, silenceTimeout time.Duration, seq *event.SeqGen) *StreamClient {
	return &StreamClient{
		wsURL:          wsURL,
		signer:         signer,
		rest:           rest,
		inbox:          inbox,
		log:            log,
		metrics:        metrics,
		silenceTimeout: silenceTimeout,
		tickers:        make(map[string]bool),
		seq:            seq,
	}
}

// Subscribe adds tickers to the locally tracked subscription set. Safe to
// call before Run or while connected; a live connection picks up the
// addition on its next reconnect-driven resubscribe. Callers that need an
// immediate subscribe should call Run after Subscribe.
func (s *StreamClient) Subscribe(tickers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickers {
		s.tickers[t] = true
	}
}

func (s *StreamClient) subscribedTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		out = append(out, t)
	}
	return out
}

// Run drives the reconnect loop until ctx is cancelled: connect,
// subscribe, run read+ping until failure, backoff, repeat.
func (s *StreamClient) Run(ctx context.Context) {
	retryCount := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connect(ctx)
		if err != nil {
			s.log.Error("stream connect failed", "error", err, "retry", retryCount)
			s.emitHealth(false)
			retryCount++
			s.sleepBackoff(ctx, retryCount)
			continue
		}

		s.metrics.IncrementConnections()
		s.emitHealth(true)
		retryCount = 0

		if err := s.runConnection(ctx, conn); err != nil {
			s.log.Warn("stream connection ended", "error", err)
		}
		s.metrics.DecrementConnections()
		s.emitHealth(false)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		retryCount++
		s.sleepBackoff(ctx, retryCount)
	}
}

func (s *StreamClient) sleepBackoff(ctx context.Context, retryCount int) {
	delay := infra.CalculateBackoff(retryCount, maxDelay)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (s *StreamClient) connect(ctx context.Context) (*websocket.Conn, error) {
	headers := s.signer.GenerateWSHeaders()
	header := make(map[string][]string, len(headers))
	for k, v := range headers {
		header[k] = []string{v}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// runConnection subscribes to the tracked ticker set, then blocks reading
// messages until an error, ping failure, or silence-watchdog trip.
func (s *StreamClient) runConnection(ctx context.Context, conn *websocket.Conn) error {
	// Venue seq numbers are monotonic per connection, not per session.
	s.lastMsgID.Store(0)

	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Reconciliation: fetch the venue's resting orders so status and
	// partial fills of those orders missed while disconnected are
	// reflected before new trading decisions rely on stale order state
	// (orders that filled or were cancelled meanwhile are not in that
	// listing), and reseed each subscribed book so the deltas
	// that follow apply to a correct baseline.
	if s.rest != nil {
		if orders, err := s.rest.GetActiveOrders(ctx); err == nil {
			for _, o := range orders {
				s.emitOrderUpdate(o)
			}
		} else {
			s.log.Warn("reconnect reconciliation failed", "error", err)
		}
		for _, ticker := range s.subscribedTickers() {
			book, err := s.rest.GetOrderbook(ctx, ticker)
			if err != nil {
				s.log.Warn("orderbook seed failed", "ticker", ticker, "error", err)
				continue
			}
			s.send(&event.OrderbookSnapshotEvent{
				BaseEvent: event.BaseEvent{Seq: s.seq.Next(), Ts: time.Now().UnixMilli()},
				Ticker:    ticker,
				Bids:      bookToWire(book.Bids),
				Asks:      bookToWire(book.Asks),
			})
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.pingLoop(connCtx, conn)

	lastMsg := time.Now()
	var lastMsgMu sync.Mutex

	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-connCtx.Done():
				return
			}
		}
	}()

	watchdog := time.NewTicker(time.Second)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case data := <-msgCh:
			lastMsgMu.Lock()
			lastMsg = time.Now()
			lastMsgMu.Unlock()
			s.handleMessage(data)
		case <-watchdog.C:
			lastMsgMu.Lock()
			silent := time.Since(lastMsg)
			lastMsgMu.Unlock()
			if silent > s.silenceTimeout {
				return fmt.Errorf("stream silent for %s, exceeding watchdog timeout", silent)
			}
		}
	}
}

func (s *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *StreamClient) subscribe(conn *websocket.Conn) error {
	tickers := s.subscribedTickers()
	if len(tickers) == 0 {
		return nil
	}
	cmd := subscribeCommand{
		ID:  s.cmdID.Add(1),
		Cmd: "subscribe",
		Params: subscribeCommandArg{
			Channels:      []string{"ticker_v2", "orderbook_delta", "trade", "fill", "order_update"},
			MarketTickers: tickers,
		},
	}
	return conn.WriteJSON(cmd)
}

// handleMessage decodes one wire envelope and dispatches it onto the
// sequencer's inbox. A message whose venue sequence number is not above
// the last one seen on this connection is logged and dropped, not fatal --
// the sequencer enforces its own internal sequence.
func (s *StreamClient) handleMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("stream message decode failed", "error", err)
		return
	}

	if env.Seq > 0 {
		prev := s.lastMsgID.Load()
		if prev != 0 && env.Seq <= prev {
			// Duplicate or reordered venue seq: drop rather than replay a
			// message the sequencer has already seen.
			s.log.Warn("stream message out of order, dropping", "prev", prev, "got", env.Seq)
			return
		}
		s.lastMsgID.Store(env.Seq)
	}

	switch env.Type {
	case "ticker_v2":
		var m tickerMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.log.Warn("ticker decode failed", "error", err)
			return
		}
		ev := event.AcquireTickerUpdateEvent()
		ev.Seq = s.seq.Next()
		ev.Ts = m.Ts
		ev.Ticker = m.MarketTicker
		ev.BestBid = int64(domain.CentsToDollars(m.Bid))
		ev.BestAsk = int64(domain.CentsToDollars(m.Ask))
		ev.LastPrice = int64(domain.CentsToDollars(m.Price))
		ev.Volume24h = m.Volume
		s.send(ev)

	case "orderbook_snapshot":
		var m orderbookSnapshotMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.log.Warn("orderbook snapshot decode failed", "error", err)
			return
		}
		bids := make(map[int64]int64, len(m.Yes))
		for _, lvl := range m.Yes {
			bids[int64(domain.CentsToDollars(lvl[0]))] = lvl[1]
		}
		asks := make(map[int64]int64, len(m.No))
		for _, lvl := range m.No {
			asks[int64(domain.CentsToDollars(100-lvl[0]))] = lvl[1]
		}
		s.send(&event.OrderbookSnapshotEvent{
			BaseEvent: event.BaseEvent{Seq: s.seq.Next(), Ts: m.Ts},
			Ticker:    m.MarketTicker,
			Bids:      bids,
			Asks:      asks,
		})

	case "orderbook_delta":
		var m orderbookDeltaMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.log.Warn("orderbook delta decode failed", "error", err)
			return
		}
		ev := event.AcquireOrderbookDeltaEvent()
		ev.Seq = s.seq.Next()
		ev.Ts = m.Ts
		ev.Ticker = m.MarketTicker
		// A "no" level at p cents is a yes ask at 100-p, the same
		// convention the REST orderbook fetch applies.
		if m.Side == "yes" {
			ev.IsBid = true
			ev.Price = int64(domain.CentsToDollars(m.Price))
		} else {
			ev.Price = int64(domain.CentsToDollars(100 - m.Price))
		}
		ev.Delta = m.Delta
		s.send(ev)

	case "trade":
		var m tradeMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.log.Warn("trade decode failed", "error", err)
			return
		}
		s.send(&event.TradeEvent{
			BaseEvent: event.BaseEvent{Seq: s.seq.Next(), Ts: m.Ts},
			Ticker:    m.MarketTicker,
			Price:     int64(domain.CentsToDollars(m.YesPrice)),
			Count:     m.Count,
		})

	case "fill", "order_update":
		var m fillMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.log.Warn("fill decode failed", "error", err)
			return
		}
		ev := event.AcquireOrderUpdateEvent()
		ev.Seq = s.seq.Next()
		ev.Ts = m.Ts
		ev.OrderID = m.OrderID
		ev.VenueStatus = m.Status
		ev.FilledSize = m.FilledCount
		ev.AvgFillPrice = int64(domain.CentsToDollars(m.AvgPriceCents))
		s.send(ev)

	default:
		// unrecognized channel types (e.g. subscription acks) are ignored
	}
}

func bookToWire(book map[domain.Dollars]int64) map[int64]int64 {
	out := make(map[int64]int64, len(book))
	for p, sz := range book {
		out[int64(p)] = sz
	}
	return out
}

func (s *StreamClient) emitOrderUpdate(o *domain.Order) {
	ev := event.AcquireOrderUpdateEvent()
	ev.Seq = s.seq.Next()
	ev.Ts = time.Now().UnixMilli()
	ev.OrderID = o.ID
	ev.VenueStatus = o.Status
	ev.FilledSize = o.FilledSize
	ev.AvgFillPrice = int64(o.AvgFillPrice)
	s.send(ev)
}

func (s *StreamClient) emitHealth(connected bool) {
	s.send(&event.StreamHealthEvent{
		BaseEvent: event.BaseEvent{Seq: s.seq.Next(), Ts: time.Now().UnixMilli()},
		Connected: connected,
	})
}

func (s *StreamClient) send(ev event.Event) {
	select {
	case s.inbox <- ev:
	default:
		s.log.Error("sequencer inbox full, dropping event", "type", ev.GetType())
		s.metrics.RecordError()
	}
}
