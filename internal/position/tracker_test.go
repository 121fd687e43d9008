package position_test

import (
	"testing"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/position"
)

func openTestPosition(t *position.Tracker) *domain.Position {
	p := &domain.Position{
		ID:     "pos-1",
		Ticker: "KXTEST-24",
		Side:   domain.SideBuy,
		Size:   110,
	}
	t.Open(p)
	return p
}

func TestLifecycle(t *testing.T) {
	tr := position.NewTracker()
	openTestPosition(tr)

	p, ok := tr.Get("pos-1")
	if !ok || p.Status != domain.PositionStatusEntering {
		t.Fatalf("open position status = %s, want ENTERING", p.Status)
	}

	tr.MarkEntered("pos-1", 9100, 100, 1000)
	p, _ = tr.Get("pos-1")
	if p.Status != domain.PositionStatusEntered {
		t.Fatalf("status = %s, want ENTERED", p.Status)
	}
	if p.Size != 100 {
		t.Fatalf("size after partial fill = %d, want 100", p.Size)
	}
	if p.EntryPrice != 9100 {
		t.Fatalf("entry price = %s, want 0.9100", p.EntryPrice)
	}

	tr.AttachExits("pos-1", "sl-1", "tp-1", 9009, 9282)
	p, _ = tr.Get("pos-1")
	if p.StopLossOrderID != "sl-1" || p.TakeProfitOrderID != "tp-1" {
		t.Fatal("exit order ids not recorded")
	}

	closed := tr.Close("pos-1", domain.ExitReasonTakeProfit, 9282, domain.Dollars(182*100), 2000)
	if closed == nil || closed.Status != domain.PositionStatusClosed {
		t.Fatal("close should finalize the position")
	}
	if closed.RealizedPnL != domain.Dollars(182*100) {
		t.Fatalf("realized pnl = %s, want %s", closed.RealizedPnL, domain.Dollars(182*100))
	}
}

func TestAttachExitsVerifiesInvariant(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic attaching inverted exit prices")
		}
	}()
	tr := position.NewTracker()
	openTestPosition(tr)
	tr.MarkEntered("pos-1", 9100, 110, 1000)
	tr.AttachExits("pos-1", "sl-1", "tp-1", 9282, 9009) // stop above entry
}

func TestByTickerExcludesClosed(t *testing.T) {
	tr := position.NewTracker()
	openTestPosition(tr)

	if _, ok := tr.ByTicker("KXTEST-24"); !ok {
		t.Fatal("open position should be found by ticker")
	}

	tr.Close("pos-1", domain.ExitReasonManual, 0, 0, 1000)
	if _, ok := tr.ByTicker("KXTEST-24"); ok {
		t.Fatal("closed position should not be found by ticker")
	}
	if len(tr.OpenPositions()) != 0 {
		t.Fatal("closed position should not be listed as open")
	}
}

func TestTotalNotional(t *testing.T) {
	tr := position.NewTracker()
	openTestPosition(tr)

	// ENTERING positions carry no exposure yet.
	if got := tr.TotalNotional(); got != 0 {
		t.Fatalf("notional while entering = %s, want 0", got)
	}

	tr.MarkEntered("pos-1", 9100, 110, 1000)
	want := domain.Dollars(9100 * 110)
	if got := tr.TotalNotional(); got != want {
		t.Fatalf("notional = %s, want %s", got, want)
	}

	tr.Close("pos-1", domain.ExitReasonManual, 9100, 0, 2000)
	if got := tr.TotalNotional(); got != 0 {
		t.Fatalf("notional after close = %s, want 0", got)
	}
}
