package strategy

import "kalshi-agent/internal/domain"

// EntryEngine is the concrete Engine implementation: a static-predicate
// entry filter plus a periodic timeout/close-buffer sweep. Both entry
// points are pure functions of the state passed in and return nil when no
// condition fires.
type EntryEngine struct {
	filter          FilterConfig
	profitTargetPct float64
	stopLossPct     float64
	maxHoldHours    float64
	closeBufferMin  float64
}

// NewEntryEngine constructs an EntryEngine from configuration.
func NewEntryEngine(filter FilterConfig, profitTargetPct, stopLossPct, maxHoldHours, closeBufferMin float64) *EntryEngine {
	return &EntryEngine{
		filter:          filter,
		profitTargetPct: profitTargetPct,
		stopLossPct:     stopLossPct,
		maxHoldHours:    maxHoldHours,
		closeBufferMin:  closeBufferMin,
	}
}

// OnMarketUpdate implements Engine.
func (e *EntryEngine) OnMarketUpdate(market domain.Market, alreadyPositioned bool) *domain.Signal {
	if alreadyPositioned {
		return nil
	}
	now := market.LastUpdate
	e.filter.ProfitTargetPct = e.profitTargetPct
	if !Passes(market, e.filter, now) {
		return nil
	}

	// Stop/target are derived in integer basis points: float64 scaling of
	// a fixed-point price can land one unit low (9100 * 0.99 truncates to
	// 9008, not 9009), which would silently fail the 2.0 risk/reward gate.
	entry := market.BestAsk
	stopBps := domain.Dollars(e.stopLossPct*10000 + 0.5)
	targetBps := domain.Dollars(e.profitTargetPct*10000 + 0.5)
	stop := entry - entry*stopBps/10000
	target := entry + entry*targetBps/10000
	if stop <= 0 {
		stop = 1
	}
	if target >= domain.DollarsScale {
		target = domain.DollarsScale - 1
	}

	riskReward := 0.0
	if entry > stop {
		riskReward = float64(target-entry) / float64(entry-stop)
	}

	return &domain.Signal{
		Ticker:          market.Ticker,
		Side:            domain.SideBuy,
		Price:           entry,
		StopLoss:        stop,
		TakeProfit:      target,
		RiskReward:      riskReward,
		BestAsk:         market.BestAsk,
		GeneratedUnixMs: now,
	}
}

// OnTick implements Engine: evaluate every open position for timeout and
// close-buffer exits. Stop-loss/take-profit crossings are handled by the
// resting protective orders themselves, not here -- this sweep only
// catches the time-based conditions those orders can't express.
func (e *EntryEngine) OnTick(nowMs int64, positions []domain.Position, markets map[string]domain.Market) []domain.ExitDecision {
	var decisions []domain.ExitDecision
	for _, p := range positions {
		if p.Status != domain.PositionStatusEntered {
			continue
		}
		market, ok := markets[p.Ticker]
		if !ok {
			continue
		}

		closingMs := float64(e.closeBufferMin) * 60 * 1000
		if market.CloseTime != 0 && float64(market.CloseTime-nowMs) <= closingMs {
			decisions = append(decisions, domain.ExitDecision{
				PositionID: p.ID,
				Reason:     domain.ExitReasonMarketClose,
				Price:      market.BestBid,
			})
			continue
		}

		if p.HoursOpen(nowMs) >= e.maxHoldHours {
			decisions = append(decisions, domain.ExitDecision{
				PositionID: p.ID,
				Reason:     domain.ExitReasonTimeout,
				Price:      market.BestBid,
			})
		}
	}
	return decisions
}
