package position

import (
	"log/slog"
	"sync"

	"kalshi-agent/internal/domain"
)

// Tracker owns every position by id and verifies the paired-exit
// invariants when exits are attached and on VerifyAll. Mutations happen only on the sequencer
// goroutine; the mutex exists for the read-only control surface, which
// snapshots positions from HTTP handler goroutines.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// NewTracker constructs an empty position tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*domain.Position)}
}

// Open begins tracking a new position in the ENTERING state.
func (t *Tracker) Open(p *domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.Status = domain.PositionStatusEntering
	t.positions[p.ID] = p
}

// MarkEntered transitions a position to ENTERED once its entry order
// fills, recording the actual fill price and filled size, which may be
// smaller than the size requested at open.
func (t *Tracker) MarkEntered(id string, entryPrice domain.Dollars, fillSize, enteredUnixMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return
	}
	p.EntryPrice = entryPrice
	if fillSize > 0 {
		p.Size = fillSize
	}
	p.EnteredUnixMs = enteredUnixMs
	p.Status = domain.PositionStatusEntered
}

// AttachExits records the paired stop-loss/take-profit order ids once both
// have been submitted, then verifies the invariant.
func (t *Tracker) AttachExits(id, slOrderID, tpOrderID string, slPrice, tpPrice domain.Dollars) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return
	}
	p.StopLossOrderID = slOrderID
	p.TakeProfitOrderID = tpOrderID
	p.StopLossPrice = slPrice
	p.TakeProfitPrice = tpPrice
	p.VerifyInvariant()
}

// BeginExit transitions an entered position to EXITING. A no-op for any
// other state so a racing second exit fill cannot reopen a closed
// position.
func (t *Tracker) BeginExit(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.positions[id]; ok && p.Status == domain.PositionStatusEntered {
		p.Status = domain.PositionStatusExiting
	}
}

// Close finalizes a position as CLOSED with its realized P&L. Returns nil
// if the position is unknown or already closed, so settlement happens
// exactly once however many exit fills race in.
func (t *Tracker) Close(id, reason string, exitPrice, realizedPnL domain.Dollars, closedUnixMs int64) *domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok || p.Status == domain.PositionStatusClosed {
		return nil
	}
	p.Status = domain.PositionStatusClosed
	p.ExitReason = reason
	p.ExitPrice = exitPrice
	p.RealizedPnL = realizedPnL
	p.ClosedUnixMs = closedUnixMs
	slog.Info("position closed", slog.String("position_id", id), slog.String("reason", reason), slog.String("pnl", realizedPnL.String()))
	return p
}

// Get returns a tracked position by id. The returned pointer must only
// be used from the sequencer goroutine.
func (t *Tracker) Get(id string) (*domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[id]
	return p, ok
}

// UpdateExtremes records max-profit/max-drawdown for a position at the
// given mark price.
func (t *Tracker) UpdateExtremes(id string, mark domain.Dollars) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.positions[id]; ok {
		p.UpdateExtremes(mark)
	}
}

// ByTicker returns the open (non-CLOSED) position for a ticker, if any.
func (t *Tracker) ByTicker(ticker string) (*domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.positions {
		if p.Ticker == ticker && p.Status != domain.PositionStatusClosed {
			return p, true
		}
	}
	return nil, false
}

// OpenPositions returns a copy of every non-CLOSED position.
func (t *Tracker) OpenPositions() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Position
	for _, p := range t.positions {
		if p.Status != domain.PositionStatusClosed {
			out = append(out, *p)
		}
	}
	return out
}

// TotalNotional returns the summed entry notional (entry price times size)
// across every entered or exiting position, the account's total exposure.
func (t *Tracker) TotalNotional() domain.Dollars {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total domain.Dollars
	for _, p := range t.positions {
		switch p.Status {
		case domain.PositionStatusEntered, domain.PositionStatusExiting:
			total += p.EntryPrice * domain.Dollars(p.Size)
		}
	}
	return total
}

// VerifyAll checks invariants on every ENTERED position.
func (t *Tracker) VerifyAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.positions {
		p.VerifyInvariant()
	}
}

// Snapshot returns a copy of every tracked position, for state dumps.
func (t *Tracker) Snapshot() map[string]domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]domain.Position, len(t.positions))
	for k, v := range t.positions {
		out[k] = *v
	}
	return out
}
