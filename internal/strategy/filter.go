package strategy

import "kalshi-agent/internal/domain"

// FilterConfig holds the static entry-filter thresholds, loaded from
// configuration. All price fields are Dollars (ten-thousandths of a
// dollar); percentages are fractions (0.20 means 20%).
type FilterConfig struct {
	EntryThreshold  domain.Dollars // min best_bid probability required to consider an entry
	MinLiquidity    int64          // min contracts on the shallower side of top-of-book
	MinVolume       int64          // min 24h volume
	MaxSpread       float64        // fraction, e.g. 0.02 for (ask-bid)/bid <= 2%
	MaxStaleMs      int64
	ProfitTargetPct float64 // used for the take-profit headroom ceiling check
}

// Passes reports whether market clears every entry-filter gate. Pure
// function, no side effects.
func Passes(market domain.Market, cfg FilterConfig, nowMs int64) bool {
	if market.Status != domain.MarketStatusOpen {
		return false
	}
	if market.BestBid == 0 || market.BestAsk == 0 {
		return false
	}
	if market.IsStale(nowMs, cfg.MaxStaleMs) {
		return false
	}
	if market.BestBid < cfg.EntryThreshold {
		return false
	}
	if market.MinDepth() < cfg.MinLiquidity {
		return false
	}
	if market.Volume24h < cfg.MinVolume {
		return false
	}
	if market.SpreadPct() > cfg.MaxSpread {
		return false
	}
	// Headroom: the take-profit price derived from best_bid must leave room
	// below the 0.99 cap, otherwise the position has nowhere to run.
	// Integer basis points, same as the stop/target derivation.
	targetBps := domain.Dollars(cfg.ProfitTargetPct*10000 + 0.5)
	headroom := market.BestBid + market.BestBid*targetBps/10000
	if headroom > 9500 {
		return false
	}
	return true
}
