package strategy

import "kalshi-agent/internal/domain"

// Engine is the interface the sequencer calls synchronously, with two
// triggers: a reactive call on every market update for entry signals, and
// a periodic call for the timeout/close-buffer exit sweep that no market
// update can be relied on to drive.
type Engine interface {
	// OnMarketUpdate is called on every ticker update for a market.
	// alreadyPositioned reports whether this ticker already has an open or
	// pending position, which suppresses a duplicate signal. Returns a
	// signal whenever the market passes the entry filter, or nil
	// otherwise.
	OnMarketUpdate(market domain.Market, alreadyPositioned bool) *domain.Signal

	// OnTick is called periodically (every few seconds) to evaluate open
	// positions for timeout and close-buffer exits that don't depend on a
	// market update to trigger.
	OnTick(nowMs int64, positions []domain.Position, markets map[string]domain.Market) []domain.ExitDecision
}
