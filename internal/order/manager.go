package order

import (
	"log/slog"

	"kalshi-agent/internal/domain"
)

// Manager tracks every order's lifecycle by observation: it is updated by
// venue fills/status changes and consulted by the executor, but it never
// submits or cancels anything itself -- that stays the executor's sole
// responsibility so fill/cancel races resolve in exactly one place.
type Manager struct {
	active    map[string]*domain.Order
	completed map[string]*domain.Order
}

// NewManager constructs an empty order manager.
func NewManager() *Manager {
	return &Manager{
		active:    make(map[string]*domain.Order),
		completed: make(map[string]*domain.Order),
	}
}

// Add starts tracking a newly-created order.
func (m *Manager) Add(o *domain.Order) {
	m.active[o.ID] = o
	slog.Debug("order tracked", slog.String("order_id", o.ID), slog.String("ticker", o.Ticker), slog.String("side", o.Side), slog.String("purpose", o.Purpose))
}

// ApplyUpdate applies a venue-reported status/fill update to a tracked
// order, moving it to the completed set once it reaches a terminal state.
// Returns false if the order id is not tracked or the order is already
// terminal.
func (m *Manager) ApplyUpdate(orderID, venueStatus string, filledSize int64, avgFillPrice domain.Dollars, tsMs int64) bool {
	o, ok := m.active[orderID]
	if !ok {
		o, ok = m.completed[orderID]
		if !ok {
			slog.Warn("order update for untracked order", slog.String("order_id", orderID))
			return false
		}
	}

	// Terminal states are absorbing: a late echo (e.g. a fill racing the
	// sibling-cancel ack) must not resurrect a completed order.
	if o.IsTerminal() {
		return false
	}

	o.Status = domain.NormalizeVenueStatus(o.Status, venueStatus)
	if filledSize > o.FilledSize {
		o.FilledSize = filledSize
	}
	if avgFillPrice != 0 {
		o.AvgFillPrice = avgFillPrice
	}
	o.UpdatedUnixMs = tsMs

	if o.IsTerminal() {
		m.completed[orderID] = o
		delete(m.active, orderID)
		slog.Info("order completed", slog.String("order_id", orderID), slog.String("status", o.Status), slog.Int64("filled_size", o.FilledSize))
	}
	return true
}

// Get returns a tracked order by id, checking active then completed.
func (m *Manager) Get(orderID string) (*domain.Order, bool) {
	if o, ok := m.active[orderID]; ok {
		return o, true
	}
	o, ok := m.completed[orderID]
	return o, ok
}

// ActiveForTicker returns every active order for a ticker.
func (m *Manager) ActiveForTicker(ticker string) []*domain.Order {
	var out []*domain.Order
	for _, o := range m.active {
		if o.Ticker == ticker {
			out = append(out, o)
		}
	}
	return out
}

// ActiveCount returns the number of currently-open orders.
func (m *Manager) ActiveCount() int {
	return len(m.active)
}

// All returns every order, active then completed, for state snapshots.
func (m *Manager) All() []*domain.Order {
	out := make([]*domain.Order, 0, len(m.active)+len(m.completed))
	for _, o := range m.active {
		out = append(out, o)
	}
	for _, o := range m.completed {
		out = append(out, o)
	}
	return out
}
