package order_test

import (
	"testing"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/order"
)

func newOrder(id string) *domain.Order {
	return &domain.Order{
		ID:      id,
		Ticker:  "KXTEST-24",
		Side:    domain.SideBuy,
		Purpose: domain.OrderPurposeEntry,
		Price:   9100,
		Size:    110,
		Status:  domain.OrderStatusOpen,
	}
}

func TestApplyUpdateNormalizesVenueStatus(t *testing.T) {
	m := order.NewManager()
	m.Add(newOrder("o1"))

	if !m.ApplyUpdate("o1", "resting", 0, 0, 1000) {
		t.Fatal("update for tracked order should apply")
	}
	o, _ := m.Get("o1")
	if o.Status != domain.OrderStatusOpen {
		t.Fatalf("status = %s, want OPEN", o.Status)
	}

	m.ApplyUpdate("o1", "executed", 110, 9100, 2000)
	o, _ = m.Get("o1")
	if o.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED", o.Status)
	}
	if o.FilledSize != 110 {
		t.Fatalf("filled size = %d, want 110", o.FilledSize)
	}
}

func TestTerminalOrderMovesToCompleted(t *testing.T) {
	m := order.NewManager()
	m.Add(newOrder("o1"))
	m.ApplyUpdate("o1", "canceled", 0, 0, 1000)

	if m.ActiveCount() != 0 {
		t.Fatalf("active count = %d, want 0 after cancel", m.ActiveCount())
	}
	o, ok := m.Get("o1")
	if !ok {
		t.Fatal("terminal order should still be retrievable")
	}
	if o.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", o.Status)
	}
}

func TestFilledSizeNeverDecreases(t *testing.T) {
	m := order.NewManager()
	m.Add(newOrder("o1"))
	m.ApplyUpdate("o1", "resting", 50, 9100, 1000)
	m.ApplyUpdate("o1", "resting", 30, 9100, 2000) // stale echo with lower fill
	o, _ := m.Get("o1")
	if o.FilledSize != 50 {
		t.Fatalf("filled size = %d, want 50 (monotonic)", o.FilledSize)
	}
}

func TestUntrackedOrderUpdateRejected(t *testing.T) {
	m := order.NewManager()
	if m.ApplyUpdate("ghost", "executed", 10, 9100, 1000) {
		t.Fatal("update for untracked order should return false")
	}
}

func TestActiveForTicker(t *testing.T) {
	m := order.NewManager()
	m.Add(newOrder("o1"))
	o2 := newOrder("o2")
	o2.Ticker = "KXOTHER-24"
	m.Add(o2)

	got := m.ActiveForTicker("KXTEST-24")
	if len(got) != 1 || got[0].ID != "o1" {
		t.Fatalf("ActiveForTicker = %v, want just o1", got)
	}
}
