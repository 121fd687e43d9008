package risk

import "kalshi-agent/internal/domain"

// Config holds the risk limits loaded from configuration.
type Config struct {
	MaxPositionPct      float64
	MaxExposurePct      float64
	MaxPositions        int
	MinPositionDollars  domain.Dollars
	DailyLossLimitPct   float64 // fraction, e.g. 0.05 for 5%
	MaxConsecutiveLosses int
	APIErrorRateLimit    float64 // fraction, e.g. 0.10 for 10%
	StreamSilenceS       int
	StreamForceExitS     int
}

// Engine validates candidate entries against account and exposure limits
// and owns the circuit-breaker table. A rejection here is expected
// traffic, not corruption, so Evaluate returns an error; panics stay
// reserved for states that upstream validation makes impossible.
type Engine struct {
	cfg     Config
	Breakers *Table
}

// NewEngine constructs a risk engine with a fresh breaker table.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, Breakers: NewTable()}
}

// Evaluate checks a candidate signal against the current account and open
// position count, returning the approved size, ErrCircuitOpen while a
// breaker is active, or a ValidationError explaining the rejection. Never mutates account or position state.
func (e *Engine) Evaluate(signal domain.Signal, account domain.Account, openPositions int) (domain.Dollars, error) {
	if e.Breakers.IsActive() {
		return 0, domain.ErrCircuitOpen
	}
	if openPositions >= e.cfg.MaxPositions {
		return 0, domain.NewValidationError("max_positions", errPositionLimit)
	}

	size := account.PositionSize(e.cfg.MaxPositionPct)
	if size < e.cfg.MinPositionDollars {
		return 0, domain.NewValidationError("size", errBelowMinimum)
	}

	// Limit fractions convert to integer basis points once; the gate
	// arithmetic itself never touches float64.
	projectedExposure := account.TotalExposure + size
	exposureBps := domain.Dollars(e.cfg.MaxExposurePct*10000 + 0.5)
	maxExposure := (account.AvailableBalance + account.LockedBalance) * exposureBps / 10000
	if projectedExposure > maxExposure {
		return 0, domain.NewValidationError("max_exposure", errExposureLimit)
	}

	if signal.StopLoss >= signal.Price || signal.Price >= signal.TakeProfit {
		return 0, domain.NewValidationError("price_order", errBadPriceOrder)
	}

	if signal.Price < 100 || signal.Price > 9500 {
		return 0, domain.NewValidationError("entry_bounds", errEntryBounds)
	}

	if signal.BestAsk > 0 {
		slippageCap := signal.BestAsk * 10200 / 10000
		if signal.Price > slippageCap {
			return 0, domain.NewValidationError("slippage", errSlippageCap)
		}
	}

	if signal.RiskReward < 2.0 {
		return 0, domain.NewValidationError("risk_reward", errRiskReward)
	}

	return size, nil
}

// CheckBreakers runs every breaker condition and trips any that fire.
// Called on every sequencer tick.
func (e *Engine) CheckBreakers(account domain.Account, apiErrorRate float64, streamDisconnectSeconds int, nowMs int64) {
	// loss*10000 >= start*limit_bps is the integer form of
	// loss/start >= limit; no float64 on the breaker's accounting path.
	lossBps := int64(e.cfg.DailyLossLimitPct*10000 + 0.5)
	if account.RealizedPnLToday < 0 &&
		int64(-account.RealizedPnLToday)*10000 >= int64(account.DailyStartBalance)*lossBps {
		e.Breakers.Trip(domain.BreakerDailyLoss, nowMs)
	}
	if account.ConsecutiveLosses >= e.cfg.MaxConsecutiveLosses {
		e.Breakers.Trip(domain.BreakerConsecutiveLosses, nowMs)
	}
	if apiErrorRate >= e.cfg.APIErrorRateLimit {
		e.Breakers.Trip(domain.BreakerAPIErrorRate, nowMs)
	}
	if streamDisconnectSeconds >= e.cfg.StreamSilenceS {
		e.Breakers.Trip(domain.BreakerStreamDisconnect, nowMs)
	}
}

// ShouldForceExit reports whether a stream disconnect has lasted long
// enough that open positions should be force-exited regardless of breaker
// state, per the stream-disconnect force-exit threshold.
func (e *Engine) ShouldForceExit(streamDisconnectSeconds int) bool {
	return streamDisconnectSeconds >= e.cfg.StreamForceExitS
}

var (
	errPositionLimit = simpleErr("max open positions reached")
	errBelowMinimum  = simpleErr("computed size below minimum position size")
	errExposureLimit = simpleErr("projected exposure exceeds max exposure limit")
	errBadPriceOrder = simpleErr("stop_loss/entry/take_profit price ordering invalid")
	errEntryBounds   = simpleErr("entry price outside [0.01, 0.95] bounds")
	errSlippageCap   = simpleErr("entry price exceeds 1.02x best ask slippage cap")
	errRiskReward    = simpleErr("risk/reward ratio below minimum of 2.0")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
