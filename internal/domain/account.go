package domain

import "fmt"

// Account tracks available/locked capital and the running P&L counters
// the risk manager's circuit breakers watch: available/locked/exposure
// plus daily and consecutive-loss counters that reset on their own
// schedules.
type Account struct {
	AvailableBalance Dollars `json:"available_balance"`
	LockedBalance    Dollars `json:"locked_balance"`
	TotalExposure    Dollars `json:"total_exposure"`
	RealizedPnLToday Dollars `json:"realized_pnl_today"`
	UnrealizedPnL    Dollars `json:"unrealized_pnl"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
	DailyStartBalance Dollars `json:"daily_start_balance"`
	LastResetUnixMs   int64   `json:"last_reset_unix_ms"`
}

// Equity returns available + locked + unrealized, the total account value.
func (a *Account) Equity() Dollars {
	return a.AvailableBalance + a.LockedBalance + a.UnrealizedPnL
}

// DailyPnLPct returns today's realized P&L as a percentage of the balance
// recorded at the start of the trading day. Zero if no starting balance is
// recorded yet.
func (a *Account) DailyPnLPct() float64 {
	if a.DailyStartBalance == 0 {
		return 0
	}
	return float64(a.RealizedPnLToday) / float64(a.DailyStartBalance) * 100
}

// Reserve locks funds for a pending entry order. Panics if funds are
// unavailable -- by the time Reserve is called, RiskManager has already
// validated availability, so failure here means the two have drifted.
func (a *Account) Reserve(amount Dollars) {
	if amount > a.AvailableBalance {
		panic(fmt.Sprintf("ACCOUNT_RESERVE_INSUFFICIENT: need %s, available %s", amount, a.AvailableBalance))
	}
	a.AvailableBalance -= amount
	a.LockedBalance += amount
}

// Release returns previously reserved funds to available balance, e.g. on
// order cancellation or rejection.
func (a *Account) Release(amount Dollars) {
	if amount > a.LockedBalance {
		panic(fmt.Sprintf("ACCOUNT_RELEASE_EXCEEDS_LOCKED: release %s, locked %s", amount, a.LockedBalance))
	}
	a.LockedBalance -= amount
	a.AvailableBalance += amount
}

// SettlePosition releases the locked capital for a closed position and
// applies its realized P&L, updating the consecutive-loss counter.
func (a *Account) SettlePosition(locked, realizedPnL Dollars) {
	a.Release(locked)
	a.AvailableBalance += realizedPnL
	a.RealizedPnLToday += realizedPnL
	if realizedPnL < 0 {
		a.ConsecutiveLosses++
	} else {
		a.ConsecutiveLosses = 0
	}
}

// VerifyInvariant checks that the account's funds remain non-negative and
// consistent. Panics on violation.
func (a *Account) VerifyInvariant() {
	if a.AvailableBalance < 0 {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_AVAILABLE: %s", a.AvailableBalance))
	}
	if a.LockedBalance < 0 {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_LOCKED: %s", a.LockedBalance))
	}
}

// ResetDaily resets the daily P&L counters. Called once per UTC day by the
// risk timer.
func (a *Account) ResetDaily(nowMs int64) {
	a.DailyStartBalance = a.AvailableBalance + a.LockedBalance
	a.RealizedPnLToday = 0
	a.LastResetUnixMs = nowMs
}

// PositionSize computes the half-Kelly fixed-fraction entry size: the
// smaller of maxPositionPct of the account balance and a hard 10% cap,
// further capped by available balance. Integer basis points throughout:
// the fraction only touches float64 at the config boundary, never in the
// sizing arithmetic itself.
func (a *Account) PositionSize(maxPositionPct float64) Dollars {
	balance := a.AvailableBalance + a.LockedBalance
	bps := Dollars(maxPositionPct*10000 + 0.5)
	byPct := balance * bps / 10000
	hardCap := balance * 1000 / 10000
	size := byPct
	if hardCap < size {
		size = hardCap
	}
	if size > a.AvailableBalance {
		size = a.AvailableBalance
	}
	return size
}
