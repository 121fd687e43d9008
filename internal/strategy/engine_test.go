package strategy_test

import (
	"testing"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/strategy"
)

func newTestEngine() *strategy.EntryEngine {
	return strategy.NewEntryEngine(defaultFilter(), 0.02, 0.01, 2.0, 30)
}

func TestOnMarketUpdateEmitsSignal(t *testing.T) {
	e := newTestEngine()
	sig := e.OnMarketUpdate(passingMarket(), false)
	if sig == nil {
		t.Fatal("expected a signal for a passing market")
	}
	if sig.Price != 9100 {
		t.Fatalf("entry price = %s, want 0.9100 (best ask)", sig.Price)
	}
	// stop = 0.91 * (1 - 0.01) = 0.9009, target = 0.91 * 1.02 = 0.9282
	if sig.StopLoss != 9009 {
		t.Fatalf("stop loss = %s, want 0.9009", sig.StopLoss)
	}
	if sig.TakeProfit != 9282 {
		t.Fatalf("take profit = %s, want 0.9282", sig.TakeProfit)
	}
	// (9282-9100)/(9100-9009) = 182/91 = 2.0
	if sig.RiskReward < 2.0 {
		t.Fatalf("risk/reward = %f, want >= 2.0", sig.RiskReward)
	}
}

func TestOnMarketUpdateSuppressedWhenPositioned(t *testing.T) {
	e := newTestEngine()
	if sig := e.OnMarketUpdate(passingMarket(), true); sig != nil {
		t.Fatal("a ticker with an open position must not generate another signal")
	}
}

func TestOnMarketUpdateNilForFailingFilter(t *testing.T) {
	e := newTestEngine()
	m := passingMarket()
	m.BestBid = 8000
	if sig := e.OnMarketUpdate(m, false); sig != nil {
		t.Fatal("expected no signal below the entry threshold")
	}
}

func TestOnTickTimeoutExit(t *testing.T) {
	e := newTestEngine()
	pos := domain.Position{
		ID:            "pos-1",
		Ticker:        "KXTEST-24",
		Status:        domain.PositionStatusEntered,
		EnteredUnixMs: 1000,
	}
	markets := map[string]domain.Market{"KXTEST-24": passingMarket()}

	// 2h - 1s: still inside max hold.
	decisions := e.OnTick(1000+2*60*60*1000-1000, []domain.Position{pos}, markets)
	if len(decisions) != 0 {
		t.Fatalf("expected no exit before max hold, got %v", decisions)
	}

	// 2h 1s: timeout fires.
	decisions = e.OnTick(1000+2*60*60*1000+1000, []domain.Position{pos}, markets)
	if len(decisions) != 1 {
		t.Fatalf("expected one exit decision, got %d", len(decisions))
	}
	if decisions[0].Reason != domain.ExitReasonTimeout {
		t.Fatalf("exit reason = %s, want TIMEOUT", decisions[0].Reason)
	}
}

func TestOnTickCloseBufferExit(t *testing.T) {
	e := newTestEngine()
	pos := domain.Position{
		ID:            "pos-1",
		Ticker:        "KXTEST-24",
		Status:        domain.PositionStatusEntered,
		EnteredUnixMs: 1000,
	}
	m := passingMarket()
	m.CloseTime = 1000 + 29*60*1000 // closes in 29 minutes, inside the 30-minute buffer
	markets := map[string]domain.Market{"KXTEST-24": m}

	decisions := e.OnTick(1000, []domain.Position{pos}, markets)
	if len(decisions) != 1 {
		t.Fatalf("expected one exit decision, got %d", len(decisions))
	}
	if decisions[0].Reason != domain.ExitReasonMarketClose {
		t.Fatalf("exit reason = %s, want MARKET_CLOSED", decisions[0].Reason)
	}
}

func TestOnTickIgnoresNonEnteredPositions(t *testing.T) {
	e := newTestEngine()
	pos := domain.Position{
		ID:     "pos-1",
		Ticker: "KXTEST-24",
		Status: domain.PositionStatusExiting,
	}
	markets := map[string]domain.Market{"KXTEST-24": passingMarket()}
	if decisions := e.OnTick(10*60*60*1000, []domain.Position{pos}, markets); len(decisions) != 0 {
		t.Fatalf("EXITING position should be skipped, got %v", decisions)
	}
}
