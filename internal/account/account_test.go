package account_test

import (
	"testing"

	"kalshi-agent/internal/account"
	"kalshi-agent/internal/domain"
)

func TestReserveAndRelease(t *testing.T) {
	m := account.NewManager(domain.Dollars(1_000_0000), 1000)

	m.Reserve(domain.Dollars(400_0000))
	snap := m.Snapshot()
	if snap.AvailableBalance != domain.Dollars(600_0000) {
		t.Fatalf("available after reserve = %s, want 600.0000", snap.AvailableBalance)
	}
	if snap.LockedBalance != domain.Dollars(400_0000) {
		t.Fatalf("locked after reserve = %s, want 400.0000", snap.LockedBalance)
	}

	m.Release(domain.Dollars(400_0000))
	snap = m.Snapshot()
	if snap.AvailableBalance != domain.Dollars(1_000_0000) {
		t.Fatalf("available after release = %s, want 1000.0000", snap.AvailableBalance)
	}
	if snap.LockedBalance != 0 {
		t.Fatalf("locked after release = %s, want 0", snap.LockedBalance)
	}
}

func TestReserveInsufficientPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic reserving more than available balance")
		}
	}()
	m := account.NewManager(domain.Dollars(100_0000), 1000)
	m.Reserve(domain.Dollars(200_0000))
}

func TestSettlePositionTracksConsecutiveLosses(t *testing.T) {
	m := account.NewManager(domain.Dollars(1_000_0000), 1000)
	m.Reserve(domain.Dollars(100_0000))
	m.SettlePosition(domain.Dollars(100_0000), domain.Dollars(-10_0000))

	snap := m.Snapshot()
	if snap.ConsecutiveLosses != 1 {
		t.Fatalf("consecutive losses after one loss = %d, want 1", snap.ConsecutiveLosses)
	}
	if snap.RealizedPnLToday != domain.Dollars(-10_0000) {
		t.Fatalf("realized pnl = %s, want -10.0000", snap.RealizedPnLToday)
	}

	m.Reserve(domain.Dollars(100_0000))
	m.SettlePosition(domain.Dollars(100_0000), domain.Dollars(5_0000))
	snap = m.Snapshot()
	if snap.ConsecutiveLosses != 0 {
		t.Fatalf("consecutive losses after a win should reset to 0, got %d", snap.ConsecutiveLosses)
	}
}

func TestMaybeResetDailyFiresAtUTCMidnight(t *testing.T) {
	const dayMs = int64(24 * 60 * 60 * 1000)
	// Process starts midday UTC on an arbitrary day.
	start := 20_000*dayMs + 12*60*60*1000
	m := account.NewManager(domain.Dollars(1_000_0000), start)
	m.Reserve(domain.Dollars(100_0000))
	m.SettlePosition(domain.Dollars(100_0000), domain.Dollars(-50_0000))

	// One millisecond before the next UTC midnight: same calendar day, no
	// reset, even though nearly 12 hours have elapsed.
	m.MaybeResetDaily(20_001*dayMs - 1)
	if m.Snapshot().RealizedPnLToday == 0 {
		t.Fatal("reset fired before the UTC day changed")
	}

	// At midnight the calendar day flips and the counters clear.
	midnight := 20_001 * dayMs
	m.MaybeResetDaily(midnight)
	snap := m.Snapshot()
	if snap.RealizedPnLToday != 0 {
		t.Fatalf("realized pnl after daily reset = %s, want 0", snap.RealizedPnLToday)
	}
	if snap.LastResetUnixMs != midnight {
		t.Fatalf("last reset ts = %d, want %d", snap.LastResetUnixMs, midnight)
	}

	// The rest of the new day never re-fires.
	m.Reserve(domain.Dollars(100_0000))
	m.SettlePosition(domain.Dollars(100_0000), domain.Dollars(-50_0000))
	m.MaybeResetDaily(midnight + dayMs - 1)
	if m.Snapshot().RealizedPnLToday == 0 {
		t.Fatal("reset fired twice within one UTC day")
	}
}

func TestPositionSizeCapsAtHardCeilingAndAvailableBalance(t *testing.T) {
	m := account.NewManager(domain.Dollars(1_000_0000), 1000)

	// 50% requested but hard cap is 10% of balance.
	snap := m.Snapshot()
	size := snap.PositionSize(0.50)
	if size != domain.Dollars(100_0000) {
		t.Fatalf("position size = %s, want 100.0000 (10%% hard cap)", size)
	}

	m.Reserve(domain.Dollars(950_0000))
	snap = m.Snapshot()
	size = snap.PositionSize(0.50)
	if size != domain.Dollars(50_0000) {
		t.Fatalf("position size after reserve = %s, want 50.0000 (available balance cap)", size)
	}
}
