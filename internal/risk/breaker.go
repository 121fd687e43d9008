package risk

import "kalshi-agent/internal/domain"

// Breaker tracks a single circuit-breaker condition in isolation; any
// tripped breaker sets the shared active gate via Table.
type Breaker struct {
	reason          domain.CircuitBreakerReason
	active          bool
	triggeredUnixMs int64
}

func (b *Breaker) trip(reason domain.CircuitBreakerReason, nowMs int64) {
	b.active = true
	b.reason = reason
	b.triggeredUnixMs = nowMs
}

func (b *Breaker) reset() {
	b.active = false
	b.reason = ""
	b.triggeredUnixMs = 0
}

// Table holds every independently-tracked breaker. Exactly one global
// state is observable externally: active if any breaker in the table is
// active, with Reason reporting the first active breaker in table order
// (daily loss, consecutive losses, API error rate, stream disconnect,
// manual).
type Table struct {
	breakers []*Breaker
}

// NewTable constructs an empty breaker table with one slot per reason.
func NewTable() *Table {
	return &Table{breakers: []*Breaker{
		{reason: domain.BreakerDailyLoss},
		{reason: domain.BreakerConsecutiveLosses},
		{reason: domain.BreakerAPIErrorRate},
		{reason: domain.BreakerStreamDisconnect},
		{reason: domain.BreakerManual},
	}}
}

func (t *Table) find(reason domain.CircuitBreakerReason) *Breaker {
	for _, b := range t.breakers {
		if b.reason == reason {
			return b
		}
	}
	return nil
}

// Trip activates the named breaker.
func (t *Table) Trip(reason domain.CircuitBreakerReason, nowMs int64) {
	if b := t.find(reason); b != nil {
		b.trip(reason, nowMs)
	}
}

// Reset deactivates the named breaker.
func (t *Table) Reset(reason domain.CircuitBreakerReason) {
	if b := t.find(reason); b != nil {
		b.reset()
	}
}

// ResetAll deactivates every breaker (manual operator override).
func (t *Table) ResetAll() {
	for _, b := range t.breakers {
		b.reset()
	}
}

// State returns the externally-observable snapshot: active if any breaker
// is tripped, reporting the first active one found.
func (t *Table) State() domain.CircuitBreakerState {
	for _, b := range t.breakers {
		if b.active {
			return domain.CircuitBreakerState{Active: true, Reason: b.reason, TriggeredUnixMs: b.triggeredUnixMs}
		}
	}
	return domain.CircuitBreakerState{Active: false}
}

// IsActive reports whether any breaker is currently tripped.
func (t *Table) IsActive() bool {
	return t.State().Active
}
