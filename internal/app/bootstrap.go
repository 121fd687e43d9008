package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"kalshi-agent/internal/account"
	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/engine"
	"kalshi-agent/internal/event"
	"kalshi-agent/internal/executor"
	"kalshi-agent/internal/infra"
	"kalshi-agent/internal/infra/kalshi"
	"kalshi-agent/internal/infra/storage"
	"kalshi-agent/internal/order"
	"kalshi-agent/internal/position"
	"kalshi-agent/internal/risk"
	"kalshi-agent/internal/strategy"
)

// Bootstrap orchestrates application startup in two phases: Initialize
// loads configuration and logging, Build wires every collaborator in
// dependency order -- storage, risk engine, executor, sequencer, venue
// clients -- and hands back a fully-formed System ready to run.
type Bootstrap struct {
	Config *infra.Config
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// System bundles every long-lived component main needs to start and stop
// the trading loop.
type System struct {
	Config     *infra.Config
	Log        *slog.Logger
	Metrics    *infra.Metrics
	Storage    *storage.Storage
	WAL        *storage.EventStore
	Sequencer  *engine.Sequencer
	Executor   *executor.Executor
	Accounts   *account.Manager
	Positions  *position.Tracker
	Orders     *order.Manager
	Risk       *risk.Engine
	Notifier   domain.Notifier
	SeqGen     *event.SeqGen

	// RESTClient is nil when PaperMode is set; StreamClient is built in
	// both modes.
	RESTClient   *kalshi.Client
	StreamClient *kalshi.StreamClient

	// Paper-mode-only collaborator; nil in live mode.
	Paper *executor.PaperExecutor
}

// Initialize loads configuration and logging, the two things every later
// step depends on.
func (b *Bootstrap) Initialize(configPath string) (*slog.Logger, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	return logger, nil
}

// Build wires every collaborator into a runnable System. Initialize must
// be called first. ctx is used only for the synchronous startup calls
// (balance fetch, initial market listing), not retained.
func (b *Bootstrap) Build(ctx context.Context, log *slog.Logger) (*System, error) {
	cfg := b.Config
	metrics := &infra.Metrics{}
	nowMs := time.Now().UnixMilli()

	store, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	wal, err := storage.NewEventStore(cfg.Storage.WALPath)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	notifier := infra.NewEmailNotifier(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort, cfg.Notify.Username, cfg.Notify.Password, cfg.Notify.From, cfg.Notify.To)

	orders := order.NewManager()
	positions := position.NewTracker()

	riskEngine := risk.NewEngine(risk.Config{
		MaxPositionPct:       cfg.Trading.MaxPositionPct,
		MaxExposurePct:       cfg.Trading.MaxExposurePct,
		MaxPositions:         cfg.Trading.MaxPositions,
		MinPositionDollars:   domain.Dollars(cfg.Trading.MinPositionDollars * float64(domain.DollarsScale)),
		DailyLossLimitPct:    cfg.Risk.DailyLossLimit,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		APIErrorRateLimit:    cfg.Risk.APIErrorRateLimit,
		StreamSilenceS:       cfg.Risk.StreamSilenceS,
		StreamForceExitS:     cfg.Risk.StreamForceExitS,
	})

	filterCfg := strategy.FilterConfig{
		EntryThreshold: domain.Dollars(cfg.Trading.EntryThreshold * float64(domain.DollarsScale)),
		MinLiquidity:   cfg.Trading.MinLiquidity,
		MinVolume:      cfg.Trading.MinVolume,
		MaxSpread:      cfg.Trading.MaxSpread,
		MaxStaleMs:     30_000,
	}
	strategyEngine := strategy.NewEntryEngine(filterCfg, cfg.Trading.ProfitTarget, cfg.Trading.StopLoss, cfg.Trading.MaxHoldHours, cfg.Trading.CloseBufferMinutes)

	seqGen := event.NewSeqGen()

	sys := &System{
		Config:    cfg,
		Log:       log,
		Metrics:   metrics,
		Storage:   store,
		WAL:       wal,
		Accounts:  nil, // set below once the starting balance is known
		Positions: positions,
		Orders:    orders,
		Risk:      riskEngine,
		Notifier:  notifier,
		SeqGen:    seqGen,
	}

	var capability executor.Capability
	var paper *executor.PaperExecutor
	var restClient *kalshi.Client
	var signer *kalshi.Signer

	if cfg.PaperMode {
		startingBalance := domain.Dollars(cfg.Trading.PaperStartingBalance * float64(domain.DollarsScale))
		sys.Accounts = account.NewManager(startingBalance, nowMs)

		var inboxRef chan<- event.Event // wired once the sequencer exists, below
		paper = executor.NewPaperExecutor(startingBalance, func(orderID, status string, filledSize int64, avgFillPrice domain.Dollars, tsMs int64) {
			if inboxRef == nil {
				return
			}
			ev := event.AcquireOrderUpdateEvent()
			ev.Seq = seqGen.Next()
			ev.Ts = tsMs
			ev.OrderID = orderID
			ev.VenueStatus = status
			ev.FilledSize = filledSize
			ev.AvgFillPrice = int64(avgFillPrice)
			inboxRef <- ev
		})
		sys.Paper = paper
		capability = paper
		sys.Executor = executor.New(capability, orders, positions, sys.Accounts, riskEngine, store, metrics, notifier, log)
		sys.Executor.SetEntryTimeout(int64(cfg.Trading.EntryTimeoutS) * 1000)

		seq := engine.NewSequencer(engine.Config{
			InboxSize:      4096,
			WAL:            wal,
			StrategyEngine: strategyEngine,
			Executor:       sys.Executor,
			RiskEngine:     riskEngine,
			Accounts:       sys.Accounts,
			Positions:      positions,
			Metrics:        metrics,
			Log:            log,
			Store:          store,
			Notifier:       notifier,
			PaperUpdater:   paper.UpdateMarket,
		})
		inboxRef = seq.Inbox()
		sys.Sequencer = seq

		// Paper mode still consumes the real market-data stream; only
		// order execution is simulated. Orders channels are subscribed but
		// carry nothing for a paper account, so the simulator's echoes are
		// the sole source of order updates.
		pemBytes, err := os.ReadFile(cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			return nil, domain.NewFatalError("read_private_key", err)
		}
		signer, err = kalshi.NewSigner(cfg.Kalshi.KeyID, pemBytes)
		if err != nil {
			return nil, err
		}
		streamClient := kalshi.NewStreamClient(cfg.Kalshi.WSURL, signer, nil, seq.Inbox(), log, metrics, streamSilence(cfg), seqGen)
		streamClient.Subscribe(cfg.Trading.Tickers...)
		sys.StreamClient = streamClient
	} else {
		pemBytes, err := os.ReadFile(cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			return nil, domain.NewFatalError("read_private_key", err)
		}
		signer, err = kalshi.NewSigner(cfg.Kalshi.KeyID, pemBytes)
		if err != nil {
			return nil, err
		}
		limiter := kalshi.NewRateLimiter(cfg.RateLimit.ReadPerSec, cfg.RateLimit.WritePerSec, int(cfg.RateLimit.ReadPerSec), int(cfg.RateLimit.WritePerSec))
		restClient = kalshi.NewClient(cfg.Kalshi.RestURL, signer, limiter, metrics)

		balance, err := restClient.GetBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch starting balance: %w", err)
		}
		sys.Accounts = account.NewManager(balance, nowMs)

		capability = executor.NewLiveExecution(restClient)
		sys.Executor = executor.New(capability, orders, positions, sys.Accounts, riskEngine, store, metrics, notifier, log)
		sys.Executor.SetEntryTimeout(int64(cfg.Trading.EntryTimeoutS) * 1000)

		seq := engine.NewSequencer(engine.Config{
			InboxSize:      4096,
			WAL:            wal,
			StrategyEngine: strategyEngine,
			Executor:       sys.Executor,
			RiskEngine:     riskEngine,
			Accounts:       sys.Accounts,
			Positions:      positions,
			Metrics:        metrics,
			Log:            log,
			Store:          store,
			Notifier:       notifier,
		})
		sys.Sequencer = seq

		streamClient := kalshi.NewStreamClient(cfg.Kalshi.WSURL, signer, restClient, seq.Inbox(), log, metrics, streamSilence(cfg), seqGen)
		streamClient.Subscribe(cfg.Trading.Tickers...)

		// Seed the market map from REST before the stream starts, so close
		// times (which the ticker channel doesn't carry) and initial touch
		// prices are known from the first tick. The events queue in the
		// inbox and are drained once the sequencer runs.
		seedMarkets(ctx, restClient, cfg.Trading.Tickers, seq.Inbox(), seqGen, log)

		sys.RESTClient = restClient
		sys.StreamClient = streamClient
	}

	return sys, nil
}

// seedMarkets fetches the full market listing and enqueues a ticker
// update for each configured ticker. A listing failure is non-fatal: the
// stream will populate the same state, minus close times, once connected.
func seedMarkets(ctx context.Context, client *kalshi.Client, tickers []string, inbox chan<- event.Event, seqGen *event.SeqGen, log *slog.Logger) {
	markets, err := client.ListMarkets(ctx)
	if err != nil {
		log.Warn("initial market listing failed", "error", err)
		return
	}
	wanted := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		wanted[t] = true
	}
	for _, m := range markets {
		if !wanted[m.Ticker] {
			continue
		}
		ev := event.AcquireTickerUpdateEvent()
		ev.Seq = seqGen.Next()
		ev.Ts = m.LastUpdate
		ev.Ticker = m.Ticker
		ev.BestBid = int64(m.BestBid)
		ev.BestAsk = int64(m.BestAsk)
		ev.LastPrice = int64(m.LastPrice)
		ev.Volume24h = m.Volume24h
		ev.CloseTime = m.CloseTime
		inbox <- ev
	}
}

// streamSilence derives the stream watchdog timeout: twice the breaker's
// silence threshold so the breaker always observes the gap before the
// watchdog tears the connection down, with a 30s floor for an unset
// config.
func streamSilence(cfg *infra.Config) time.Duration {
	silence := time.Duration(cfg.Risk.StreamSilenceS) * 2 * time.Second
	if silence <= 0 {
		silence = 30 * time.Second
	}
	return silence
}

// RecoverOnStartup reconciles in-flight orders with the venue (live mode
// only) before the executor accepts new signals.
func (s *System) RecoverOnStartup(ctx context.Context) error {
	if s.Paper != nil {
		return nil // nothing to reconcile against a fresh in-memory simulator
	}
	return s.Executor.RecoverOnStartup(ctx)
}

// Close releases every resource acquired during Build, in reverse
// dependency order. Safe to call on a partially-built System.
func (s *System) Close() {
	if s.WAL != nil {
		if err := s.WAL.Close(); err != nil {
			s.Log.Warn("WAL close failed", "error", err)
		}
	}
	if s.Storage != nil {
		if err := s.Storage.Close(); err != nil {
			s.Log.Warn("storage close failed", "error", err)
		}
	}
}
