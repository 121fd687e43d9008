package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kalshi-agent/internal/app"
	"kalshi-agent/internal/event"

	_ "net/http/pprof"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	// Pprof server, localhost only.
	go func() {
		slog.Info("pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	log, err := bootstrap.Initialize(*configPath)
	if err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := bootstrap.Build(ctx, log)
	if err != nil {
		log.Error("system build failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer sys.Close()

	if err := sys.RecoverOnStartup(ctx); err != nil {
		log.Error("startup recovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	go sys.Sequencer.Run(ctx)
	log.Info("sequencer started")

	if sys.StreamClient != nil {
		go sys.StreamClient.Run(ctx)
		log.Info("stream client started", slog.Bool("paper_mode", sys.Config.PaperMode))
	}

	go runTickTimer(ctx, sys.Sequencer.Inbox(), sys.SeqGen, 3*time.Second)

	if addr := sys.Config.Health.ListenAddr; addr != "" {
		go serveHealth(ctx, addr, sys)
	}

	log.Info("kalshi-agent operational, press Ctrl+C to exit",
		slog.String("mode", modeLabel(sys.Config.PaperMode)),
		slog.Any("tickers", sys.Config.Trading.Tickers))

	select {
	case <-ctx.Done():
	case <-sys.Sequencer.ShutdownSignal():
		log.Error("circuit breaker requires shutdown, stopping")
		stop()
	}
	log.Info("shutting down gracefully")
}

func modeLabel(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}

// runTickTimer feeds TickEvents into the sequencer at a fixed cadence,
// driving the strategy engine's timeout/close-buffer sweep and the risk
// engine's time-based breaker checks.
func runTickTimer(ctx context.Context, inbox chan<- event.Event, seq *event.SeqGen, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ev := &event.TickEvent{BaseEvent: event.BaseEvent{Seq: seq.Next(), Ts: now.UnixMilli()}}
			select {
			case inbox <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// statusResponse is the read-only control-surface snapshot: current
// account state, open positions, breaker state, stream health and the
// last few generated signals, per the control surface's read-only status
// surface.
type statusResponse struct {
	Mode          string      `json:"mode"`
	Account       interface{} `json:"account"`
	OpenPositions interface{} `json:"open_positions"`
	Breaker       interface{} `json:"breaker"`
	StreamHealthy bool        `json:"stream_healthy"`
	RecentSignals interface{} `json:"recent_signals"`
	Metrics       interface{} `json:"metrics"`
}

// controlRequest is the POST /control body: one lifecycle command
// forwarded onto the sequencer inbox as a ControlEvent.
type controlRequest struct {
	Command string `json:"command"`
}

// serveHealth exposes the control surface (§6): a liveness probe, a
// read-only status snapshot, and an operator lifecycle-command endpoint.
// Plain net/http per the existing pprof-over-stdlib pattern -- no new
// dependency earns its keep for a handful of small JSON handlers.
func serveHealth(ctx context.Context, addr string, sys *app.System) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		active := sys.Risk.Breakers.IsActive()
		w.Header().Set("Content-Type", "application/json")
		if active {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"circuit_open": active})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Mode:          modeLabel(sys.Config.PaperMode),
			Account:       sys.Accounts.Snapshot(),
			OpenPositions: sys.Positions.OpenPositions(),
			Breaker:       sys.Risk.Breakers.State(),
			StreamHealthy: sys.Metrics.Snapshot().ActiveConnections > 0,
			RecentSignals: sys.Sequencer.RecentSignals(),
			Metrics:       sys.Metrics.Snapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/control", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.Command {
		case "stop", "emergency_stop", "resume":
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown command"})
			return
		}
		ev := &event.ControlEvent{
			BaseEvent: event.BaseEvent{Seq: sys.SeqGen.Next(), Ts: time.Now().UnixMilli()},
			Command:   req.Command,
		}
		select {
		case sys.Sequencer.Inbox() <- ev:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"accepted": req.Command})
		case <-ctx.Done():
			w.WriteHeader(http.StatusServiceUnavailable)
		case <-time.After(2 * time.Second):
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "inbox full"})
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sys.Log.Info("control surface started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sys.Log.Error("health server failed", slog.Any("error", err))
	}
}
