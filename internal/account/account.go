package account

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"kalshi-agent/internal/domain"
)

// Manager owns the single account the executor trades against and mints
// position ids. A thin wrapper over domain.Account's invariant-checked
// mutators, adding the logging and daily-reset scheduling the executor
// needs around them. Mutations happen only on the sequencer goroutine;
// the mutex serves the read-only control surface's Snapshot calls.
type Manager struct {
	mu      sync.RWMutex
	account domain.Account
}

// NewManager constructs an account manager seeded with the given starting
// balance.
func NewManager(startingBalance domain.Dollars, nowMs int64) *Manager {
	a := domain.Account{
		AvailableBalance:  startingBalance,
		DailyStartBalance: startingBalance,
		LastResetUnixMs:   nowMs,
	}
	return &Manager{account: a}
}

// NewPositionID mints a fresh position identifier.
func NewPositionID() string {
	return uuid.NewString()
}

// Snapshot returns a copy of the current account state.
func (m *Manager) Snapshot() domain.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// Reserve locks funds for a pending entry, logging and re-verifying
// invariants afterward.
func (m *Manager) Reserve(amount domain.Dollars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.Reserve(amount)
	m.account.VerifyInvariant()
	slog.Debug("account reserve", slog.String("amount", amount.String()), slog.String("available", m.account.AvailableBalance.String()))
}

// Release returns reserved funds, e.g. on order rejection or cancellation.
func (m *Manager) Release(amount domain.Dollars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.Release(amount)
	m.account.VerifyInvariant()
}

// SettlePosition applies a closed position's outcome to the account.
func (m *Manager) SettlePosition(locked, realizedPnL domain.Dollars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.SettlePosition(locked, realizedPnL)
	m.account.VerifyInvariant()
	slog.Info("position settled", slog.String("realized_pnl", realizedPnL.String()), slog.Int("consecutive_losses", m.account.ConsecutiveLosses))
}

// SetExposure updates the aggregate notional exposure across open
// positions, recomputed by the executor after every open/close.
func (m *Manager) SetExposure(exposure domain.Dollars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.TotalExposure = exposure
}

// SetUnrealizedPnL updates the mark-to-market P&L across open positions.
func (m *Manager) SetUnrealizedPnL(pnl domain.Dollars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.UnrealizedPnL = pnl
}

// MaybeResetDaily resets the daily P&L counters when the UTC calendar day
// changes. The unix epoch is UTC-midnight aligned, so the day number is
// just the millisecond timestamp divided by a day's span.
func (m *Manager) MaybeResetDaily(nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const dayMs = 24 * 60 * 60 * 1000
	if nowMs/dayMs != m.account.LastResetUnixMs/dayMs {
		m.account.ResetDaily(nowMs)
		slog.Info("daily account counters reset", slog.String("start_balance", m.account.DailyStartBalance.String()))
	}
}
