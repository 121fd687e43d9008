package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"kalshi-agent/internal/account"
	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/event"
	"kalshi-agent/internal/executor"
	"kalshi-agent/internal/infra"
	"kalshi-agent/internal/infra/storage"
	"kalshi-agent/internal/position"
	"kalshi-agent/internal/risk"
	"kalshi-agent/internal/strategy"
)

// Sequencer is the core single-threaded event processor: every market
// update, order update, timer tick and control command is dispatched here
// and nowhere else touches trading state. Events carry a strictly
// monotonic sequence number; a gap means the WAL and the in-memory state
// have diverged, and the process halts rather than trade on it.
type Sequencer struct {
	inbox   chan event.Event
	markets map[string]*domain.Market
	nextSeq uint64
	wal     *storage.EventStore

	strategyEngine strategy.Engine
	executor       *executor.Executor
	riskEngine     *risk.Engine
	accounts       *account.Manager
	positions      *position.Tracker
	metrics        *infra.Metrics
	log            *slog.Logger
	store          *storage.Storage
	notifier       domain.Notifier

	lastSnapshotMs    int64
	lastBreakerActive bool

	// paperUpdater, when running in paper mode, receives every ticker
	// update so the simulated matching engine can re-check resting orders.
	paperUpdater func(ticker string, bestBid, bestAsk domain.Dollars, tsMs int64)

	streamDownSinceMs int64 // 0 while connected

	mu sync.RWMutex // guards markets for external reads only; the hotpath never takes it

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	recentSignals []domain.Signal // bounded ring, most recent last
}

// maxRecentSignals bounds the read-only "last N signals" status surface.
const maxRecentSignals = 20

// Config bundles the Sequencer's collaborators, constructed once at
// startup in dependency order.
type Config struct {
	InboxSize      int
	WAL            *storage.EventStore
	StrategyEngine strategy.Engine
	Executor       *executor.Executor
	RiskEngine     *risk.Engine
	Accounts       *account.Manager
	Positions      *position.Tracker
	Metrics        *infra.Metrics
	Log            *slog.Logger
	Store          *storage.Storage
	Notifier       domain.Notifier
	PaperUpdater   func(ticker string, bestBid, bestAsk domain.Dollars, tsMs int64)
}

// NewSequencer constructs a Sequencer from its wired collaborators.
func NewSequencer(cfg Config) *Sequencer {
	return &Sequencer{
		inbox:          make(chan event.Event, cfg.InboxSize),
		markets:        make(map[string]*domain.Market),
		nextSeq:        1,
		wal:            cfg.WAL,
		strategyEngine: cfg.StrategyEngine,
		executor:       cfg.Executor,
		riskEngine:     cfg.RiskEngine,
		accounts:       cfg.Accounts,
		positions:      cfg.Positions,
		metrics:        cfg.Metrics,
		log:            cfg.Log,
		store:          cfg.Store,
		notifier:       cfg.Notifier,
		paperUpdater:   cfg.PaperUpdater,
		shutdownCh:     make(chan struct{}),
	}
}

// snapshotIntervalMs is the cadence of the account-snapshot persistence,
// per the snapshot_timer's 5-minute period.
const snapshotIntervalMs = 5 * 60 * 1000

// ShutdownSignal is closed once a breaker requiring a full process halt
// trips (daily-loss, manual), per RequiresShutdown. main selects on it
// alongside ctx.Done() to initiate the same graceful-stop path as an OS
// signal.
func (s *Sequencer) ShutdownSignal() <-chan struct{} {
	return s.shutdownCh
}

// Inbox returns the event channel. External workers (stream reader, REST
// poller, timers, control surface) only ever send into it.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Run drives the main event loop. Must run in exactly one goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.log.Info("sequencer started")

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sequencer panic, halting", "panic", r)
			s.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sequencer stopping")
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}

	// WAL-first persistence. Per this agent's durability policy a write
	// failure is logged and counted, never fatal -- the WAL is a forensic
	// aid, not a gate on the hot path, unlike the sequence-gap check above
	// which signals genuine state corruption.
	if s.wal != nil {
		if err := s.wal.SaveEvent(ev.GetSeq(), ev.GetType(), ev); err != nil {
			s.log.Error("WAL write failed", "seq", ev.GetSeq(), "error", err)
			s.metrics.RecordWALDrop()
		}
	}

	s.dispatch(ev)
	s.metrics.RecordEvent(0)
	s.nextSeq++
}

func (s *Sequencer) dispatch(ev event.Event) {
	switch e := ev.(type) {
	case *event.TickerUpdateEvent:
		s.handleTickerUpdate(e)
		event.ReleaseTickerUpdateEvent(e)
	case *event.OrderbookDeltaEvent:
		s.handleOrderbookDelta(e)
		event.ReleaseOrderbookDeltaEvent(e)
	case *event.OrderbookSnapshotEvent:
		s.handleOrderbookSnapshot(e)
	case *event.TradeEvent:
		s.handleTrade(e)
	case *event.OrderUpdateEvent:
		s.handleOrderUpdate(e)
		event.ReleaseOrderUpdateEvent(e)
	case *event.TickEvent:
		s.handleTick(e)
	case *event.StreamHealthEvent:
		s.handleStreamHealth(e)
	case *event.ControlEvent:
		s.handleControl(e)
	default:
		s.log.Warn("unknown event type", "type", ev.GetType())
	}
}

func (s *Sequencer) handleTickerUpdate(e *event.TickerUpdateEvent) {
	s.mu.Lock()
	m, ok := s.markets[e.Ticker]
	if !ok {
		m = &domain.Market{Ticker: e.Ticker, Status: domain.MarketStatusOpen}
		s.markets[e.Ticker] = m
	}
	if e.Ts < m.LastUpdate {
		s.mu.Unlock()
		return // stale update reordered in transit, drop
	}
	m.BestBid = domain.Dollars(e.BestBid)
	m.BestAsk = domain.Dollars(e.BestAsk)
	m.LastPrice = domain.Dollars(e.LastPrice)
	if e.Volume24h != 0 {
		m.Volume24h = e.Volume24h
	}
	if e.CloseTime != 0 {
		m.CloseTime = e.CloseTime
	}
	m.LastUpdate = e.Ts
	s.mu.Unlock()

	if s.paperUpdater != nil {
		s.paperUpdater(e.Ticker, m.BestBid, m.BestAsk, e.Ts)
	}

	for _, p := range s.positions.OpenPositions() {
		if p.Ticker == e.Ticker && p.Status == domain.PositionStatusEntered {
			s.positions.UpdateExtremes(p.ID, m.Mid())
		}
	}

	if s.strategyEngine == nil || s.executor == nil {
		return
	}
	_, alreadyPositioned := s.positions.ByTicker(e.Ticker)
	signal := s.strategyEngine.OnMarketUpdate(*m, alreadyPositioned)
	if signal == nil {
		return
	}
	s.recordSignal(*signal)
	if _, err := s.executor.OnSignal(context.Background(), *signal, e.Ts); err != nil {
		s.log.Debug("entry signal not taken", "ticker", e.Ticker, "error", err)
	}
}

func (s *Sequencer) handleOrderbookDelta(e *event.OrderbookDeltaEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[e.Ticker]
	if !ok {
		m = &domain.Market{Ticker: e.Ticker, Status: domain.MarketStatusOpen}
		s.markets[e.Ticker] = m
	}
	m.ApplyDepthDelta(e.IsBid, domain.Dollars(e.Price), e.Delta)
}

// handleOrderbookSnapshot replaces a market's full ladder with the
// REST-fetched state, establishing a correct baseline for the deltas that
// follow on the stream.
func (s *Sequencer) handleOrderbookSnapshot(e *event.OrderbookSnapshotEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[e.Ticker]
	if !ok {
		m = &domain.Market{Ticker: e.Ticker, Status: domain.MarketStatusOpen}
		s.markets[e.Ticker] = m
	}
	bids := make(map[domain.Dollars]int64, len(e.Bids))
	for p, sz := range e.Bids {
		bids[domain.Dollars(p)] = sz
	}
	asks := make(map[domain.Dollars]int64, len(e.Asks))
	for p, sz := range e.Asks {
		asks[domain.Dollars(p)] = sz
	}
	m.ReplaceBook(bids, asks)
}

// handleTrade applies a public trade print: last price and rolling
// volume. It never touches the touch prices, so no strategy evaluation
// runs here.
func (s *Sequencer) handleTrade(e *event.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[e.Ticker]
	if !ok {
		m = &domain.Market{Ticker: e.Ticker, Status: domain.MarketStatusOpen}
		s.markets[e.Ticker] = m
	}
	if e.Ts < m.LastUpdate {
		return // out-of-order print, drop
	}
	m.LastPrice = domain.Dollars(e.Price)
	m.Volume24h += e.Count
	m.LastUpdate = e.Ts
}

func (s *Sequencer) handleOrderUpdate(e *event.OrderUpdateEvent) {
	if s.executor == nil {
		return
	}
	s.executor.OnOrderUpdate(context.Background(), e.OrderID, e.VenueStatus, e.FilledSize, domain.Dollars(e.AvgFillPrice), e.Ts)
}

// handleTick runs the periodic sweep: strategy timeout/close-buffer exits,
// circuit-breaker re-evaluation, and the daily-reset check. Driven by a
// timer goroutine that only ever sends TickEvent into the inbox.
func (s *Sequencer) handleTick(e *event.TickEvent) {
	wasStart := s.accounts.Snapshot().LastResetUnixMs
	s.accounts.MaybeResetDaily(e.Ts)
	if s.riskEngine != nil && s.accounts.Snapshot().LastResetUnixMs != wasStart {
		// UTC-midnight daily reset also clears the daily-loss breaker, per
		// the risk table's reset condition for that breaker.
		s.riskEngine.Breakers.Reset(domain.BreakerDailyLoss)
	}

	if s.strategyEngine != nil && s.executor != nil {
		snapshotMarkets := make(map[string]domain.Market, len(s.markets))
		for k, v := range s.markets {
			snapshotMarkets[k] = *v
		}
		decisions := s.strategyEngine.OnTick(e.Ts, s.positions.OpenPositions(), snapshotMarkets)
		for _, d := range decisions {
			if err := s.executor.ExecuteExit(context.Background(), d, e.Ts); err != nil {
				s.log.Warn("tick-driven exit failed", "position_id", d.PositionID, "error", err)
			}
		}

		s.executor.CheckEntryTimeouts(context.Background(), e.Ts)

		var unrealized domain.Dollars
		for _, p := range s.positions.OpenPositions() {
			if p.Status != domain.PositionStatusEntered {
				continue
			}
			if m, ok := s.markets[p.Ticker]; ok && m.Mid() != 0 {
				unrealized += p.UnrealizedPnL(m.Mid())
			}
		}
		s.accounts.SetUnrealizedPnL(unrealized)
	}

	if s.riskEngine != nil {
		disconnectSeconds := 0
		if s.streamDownSinceMs != 0 {
			disconnectSeconds = int((e.Ts - s.streamDownSinceMs) / 1000)
		}
		s.riskEngine.CheckBreakers(s.accounts.Snapshot(), s.metrics.RESTErrorRate(), disconnectSeconds, e.Ts)
		nowActive := s.riskEngine.Breakers.IsActive()
		s.metrics.SetCircuitState(nowActive)
		if nowActive && !s.lastBreakerActive {
			state := s.riskEngine.Breakers.State()
			s.log.Error("circuit breaker tripped", "reason", state.Reason)
			if s.notifier != nil {
				go func() {
					if err := s.notifier.Notify(context.Background(), "circuit breaker tripped", string(state.Reason)); err != nil {
						s.log.Warn("breaker notification failed", "error", err)
					}
				}()
			}
		}
		s.lastBreakerActive = nowActive

		if s.riskEngine.ShouldForceExit(disconnectSeconds) {
			s.forceExitAll(e.Ts, domain.ExitReasonManual)
		}

		if s.riskEngine.Breakers.State().RequiresShutdown() {
			s.shutdownOnce.Do(func() {
				s.log.Error("breaker requires full shutdown", "reason", s.riskEngine.Breakers.State().Reason)
				close(s.shutdownCh)
			})
		}
	}

	s.maybeSnapshot(e.Ts)
}

// maybeSnapshot persists a point-in-time account snapshot every
// snapshotIntervalMs, driven by the same tick the strategy/risk sweeps
// use rather than a separate timer goroutine -- Account and PositionTracker
// are owned exclusively by this goroutine, so reading them for a snapshot
// here needs no synchronization. A write failure is logged and dropped,
// never allowed to block trading, matching the WAL's own drop policy.
func (s *Sequencer) maybeSnapshot(nowMs int64) {
	if s.store == nil {
		return
	}
	if s.lastSnapshotMs != 0 && nowMs-s.lastSnapshotMs < snapshotIntervalMs {
		return
	}
	s.lastSnapshotMs = nowMs

	acct := s.accounts.Snapshot()
	snap := &storage.AccountSnapshot{
		TakenUnixMs:      nowMs,
		AvailableBalance: int64(acct.AvailableBalance),
		LockedBalance:    int64(acct.LockedBalance),
		TotalExposure:    int64(acct.TotalExposure),
		RealizedPnLToday: int64(acct.RealizedPnLToday),
		UnrealizedPnL:    int64(acct.UnrealizedPnL),
		OpenPositions:    len(s.positions.OpenPositions()),
	}
	if err := s.store.SaveSnapshot(snap); err != nil {
		s.log.Error("account snapshot persistence failed", "error", err)
		s.metrics.RecordWALDrop()
	}
}

func (s *Sequencer) handleStreamHealth(e *event.StreamHealthEvent) {
	if e.Connected {
		s.streamDownSinceMs = 0
		if s.riskEngine != nil {
			s.riskEngine.Breakers.Reset(domain.BreakerStreamDisconnect)
		}
	} else if s.streamDownSinceMs == 0 {
		s.streamDownSinceMs = e.Ts
	}
	s.metrics.SetActiveConnections(boolToInt32(e.Connected))
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (s *Sequencer) handleControl(e *event.ControlEvent) {
	switch e.Command {
	case "stop":
		if s.riskEngine != nil {
			s.riskEngine.Breakers.Trip(domain.BreakerManual, e.Ts)
		}
	case "emergency_stop":
		if s.riskEngine != nil {
			s.riskEngine.Breakers.Trip(domain.BreakerManual, e.Ts)
		}
		s.forceExitAll(e.Ts, domain.ExitReasonManual)
	case "resume":
		if s.riskEngine != nil {
			s.riskEngine.Breakers.Reset(domain.BreakerManual)
		}
	default:
		s.log.Warn("unknown control command", "command", e.Command)
	}
}

func (s *Sequencer) forceExitAll(nowMs int64, reason string) {
	if s.executor == nil {
		return
	}
	for _, p := range s.positions.OpenPositions() {
		if p.Status != domain.PositionStatusEntered {
			continue
		}
		m := s.markets[p.Ticker]
		price := domain.Dollars(0)
		if m != nil {
			price = m.BestBid
		}
		decision := domain.ExitDecision{PositionID: p.ID, Reason: reason, Price: price}
		if err := s.executor.ExecuteExit(context.Background(), decision, nowMs); err != nil {
			s.log.Error("forced exit failed", "position_id", p.ID, "error", err)
		}
	}
}

// ReplayEvent processes an event synchronously without WAL logging, used
// exclusively by crash-recovery replay from a prior run's WAL file.
func (s *Sequencer) ReplayEvent(ev event.Event) {
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}
	s.dispatch(ev)
	s.nextSeq++
}

// GetMarket returns a snapshot of a single market's state for external
// (control surface, health) reads.
func (s *Sequencer) GetMarket(ticker string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[ticker]
	if !ok {
		return domain.Market{}, false
	}
	return *m, true
}

// recordSignal appends to the bounded recent-signals ring, dropping the
// oldest entry once maxRecentSignals is reached. Called only from the
// sequencer goroutine.
func (s *Sequencer) recordSignal(sig domain.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentSignals = append(s.recentSignals, sig)
	if len(s.recentSignals) > maxRecentSignals {
		s.recentSignals = s.recentSignals[len(s.recentSignals)-maxRecentSignals:]
	}
}

// RecentSignals returns a copy of the last N generated signals, newest
// last, for the read-only control surface.
func (s *Sequencer) RecentSignals() []domain.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Signal, len(s.recentSignals))
	copy(out, s.recentSignals)
	return out
}

// DumpState writes the entire internal market state to a file, called from
// the panic recovery path in Run for post-mortem diagnosis.
func (s *Sequencer) DumpState(filename string) {
	s.log.Info("dumping internal state", "file", filename)

	data := struct {
		NextSeq uint64                     `json:"next_seq"`
		Markets map[string]*domain.Market `json:"markets"`
	}{
		NextSeq: s.nextSeq,
		Markets: s.markets,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.log.Error("failed to marshal state", "error", err)
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.log.Error("failed to write state dump", "error", err)
	}
}
