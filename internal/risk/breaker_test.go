package risk_test

import (
	"testing"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/risk"
)

func TestTableTripAndReset(t *testing.T) {
	table := risk.NewTable()
	if table.IsActive() {
		t.Fatal("fresh table should not be active")
	}

	table.Trip(domain.BreakerConsecutiveLosses, 1000)
	if !table.IsActive() {
		t.Fatal("table should be active after trip")
	}
	state := table.State()
	if state.Reason != domain.BreakerConsecutiveLosses {
		t.Fatalf("reason = %q, want %q", state.Reason, domain.BreakerConsecutiveLosses)
	}
	if state.TriggeredUnixMs != 1000 {
		t.Fatalf("triggered_unix_ms = %d, want 1000", state.TriggeredUnixMs)
	}

	table.Reset(domain.BreakerConsecutiveLosses)
	if table.IsActive() {
		t.Fatal("table should be inactive after reset")
	}
}

func TestTableIndependentBreakersDoNotInterfere(t *testing.T) {
	table := risk.NewTable()
	table.Trip(domain.BreakerAPIErrorRate, 500)
	table.Reset(domain.BreakerDailyLoss) // resetting an untripped breaker is a no-op

	if !table.IsActive() {
		t.Fatal("api_error_rate trip should still be active")
	}
	if table.State().Reason != domain.BreakerAPIErrorRate {
		t.Fatalf("reason = %q, want api_error_rate", table.State().Reason)
	}
}

func TestTableResetAllClearsEveryBreaker(t *testing.T) {
	table := risk.NewTable()
	table.Trip(domain.BreakerDailyLoss, 1)
	table.Trip(domain.BreakerManual, 2)
	table.ResetAll()
	if table.IsActive() {
		t.Fatal("ResetAll should clear every tripped breaker")
	}
}

func TestRequiresShutdown(t *testing.T) {
	cases := []struct {
		reason domain.CircuitBreakerReason
		active bool
		want   bool
	}{
		{domain.BreakerDailyLoss, true, true},
		{domain.BreakerManual, true, true},
		{domain.BreakerConsecutiveLosses, true, false},
		{domain.BreakerAPIErrorRate, true, false},
		{domain.BreakerStreamDisconnect, true, false},
		{domain.BreakerDailyLoss, false, false},
	}
	for _, c := range cases {
		state := domain.CircuitBreakerState{Active: c.active, Reason: c.reason}
		if got := state.RequiresShutdown(); got != c.want {
			t.Errorf("RequiresShutdown(reason=%s, active=%v) = %v, want %v", c.reason, c.active, got, c.want)
		}
	}
}
