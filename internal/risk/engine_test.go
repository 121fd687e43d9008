package risk_test

import (
	"testing"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/risk"
)

func newTestEngine() *risk.Engine {
	return risk.NewEngine(risk.Config{
		MaxPositionPct:       0.10,
		MaxExposurePct:       0.50,
		MaxPositions:         5,
		MinPositionDollars:   domain.Dollars(10_0000),
		DailyLossLimitPct:    0.05,
		MaxConsecutiveLosses: 3,
		APIErrorRateLimit:    0.10,
		StreamSilenceS:       30,
		StreamForceExitS:     120,
	})
}

func baseSignal() domain.Signal {
	return domain.Signal{
		Ticker:     "KXTEST-24",
		Price:      domain.Dollars(4000),
		StopLoss:   domain.Dollars(3000),
		TakeProfit: domain.Dollars(8000),
		BestAsk:    domain.Dollars(4000),
		RiskReward: 4.0,
	}
}

func TestEvaluateAcceptsWellFormedSignal(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{AvailableBalance: domain.Dollars(1_000_0000)}
	size, err := e.Evaluate(baseSignal(), acct, 0)
	if err != nil {
		t.Fatalf("expected approval, got error: %v", err)
	}
	if size <= 0 {
		t.Fatalf("expected positive size, got %s", size)
	}
}

func TestEvaluateRejectsWhenCircuitOpen(t *testing.T) {
	e := newTestEngine()
	e.Breakers.Trip(domain.BreakerManual, 1)
	acct := domain.Account{AvailableBalance: domain.Dollars(1_000_0000)}
	if _, err := e.Evaluate(baseSignal(), acct, 0); err != domain.ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestEvaluateRejectsAtMaxPositions(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{AvailableBalance: domain.Dollars(1_000_0000)}
	if _, err := e.Evaluate(baseSignal(), acct, 5); err == nil {
		t.Fatal("expected rejection at max open positions")
	}
}

func TestEvaluateRejectsBadPriceOrdering(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{AvailableBalance: domain.Dollars(1_000_0000)}
	sig := baseSignal()
	sig.StopLoss = domain.Dollars(5000) // stop above entry, invalid
	if _, err := e.Evaluate(sig, acct, 0); err == nil {
		t.Fatal("expected rejection for invalid stop/entry/take-profit ordering")
	}
}

func TestEvaluateRejectsLowRiskReward(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{AvailableBalance: domain.Dollars(1_000_0000)}
	sig := baseSignal()
	sig.RiskReward = 1.0
	if _, err := e.Evaluate(sig, acct, 0); err == nil {
		t.Fatal("expected rejection for risk/reward below minimum")
	}
}

func TestEvaluateRejectsSlippageBeyondCap(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{AvailableBalance: domain.Dollars(1_000_0000)}
	sig := baseSignal()
	sig.BestAsk = domain.Dollars(2000) // entry of 0.40 is way past 1.02x of 0.20
	if _, err := e.Evaluate(sig, acct, 0); err == nil {
		t.Fatal("expected rejection for slippage beyond cap")
	}
}

func TestCheckBreakersTripsOnConsecutiveLosses(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{ConsecutiveLosses: 3}
	e.CheckBreakers(acct, 0, 0, 1000)
	if !e.Breakers.IsActive() {
		t.Fatal("expected consecutive-losses breaker to trip")
	}
	if e.Breakers.State().Reason != domain.BreakerConsecutiveLosses {
		t.Fatalf("reason = %q, want consecutive_losses", e.Breakers.State().Reason)
	}
}

func TestCheckBreakersTripsOnDailyLoss(t *testing.T) {
	e := newTestEngine()
	acct := domain.Account{
		DailyStartBalance: domain.Dollars(1_000_0000),
		RealizedPnLToday:  domain.Dollars(-60_0000), // -6%, beyond the 5% limit
	}
	e.CheckBreakers(acct, 0, 0, 1000)
	if !e.Breakers.IsActive() {
		t.Fatal("expected daily-loss breaker to trip")
	}
}

func TestCheckBreakersTripsOnAPIErrorRate(t *testing.T) {
	e := newTestEngine()
	e.CheckBreakers(domain.Account{}, 0.25, 0, 1000)
	if e.Breakers.State().Reason != domain.BreakerAPIErrorRate {
		t.Fatalf("reason = %q, want api_error_rate", e.Breakers.State().Reason)
	}
}

func TestCheckBreakersTripsOnStreamDisconnect(t *testing.T) {
	e := newTestEngine()
	e.CheckBreakers(domain.Account{}, 0, 45, 1000)
	if e.Breakers.State().Reason != domain.BreakerStreamDisconnect {
		t.Fatalf("reason = %q, want websocket_disconnect", e.Breakers.State().Reason)
	}
}

func TestShouldForceExit(t *testing.T) {
	e := newTestEngine()
	if e.ShouldForceExit(60) {
		t.Fatal("60s disconnect should not force-exit (threshold is 120s)")
	}
	if !e.ShouldForceExit(120) {
		t.Fatal("120s disconnect should force-exit")
	}
}
