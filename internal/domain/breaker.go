package domain

// CircuitBreakerReason identifies which condition tripped a breaker.
type CircuitBreakerReason string

const (
	BreakerDailyLoss         CircuitBreakerReason = "daily_loss"
	BreakerConsecutiveLosses CircuitBreakerReason = "consecutive_losses"
	BreakerAPIErrorRate      CircuitBreakerReason = "api_error_rate"
	BreakerStreamDisconnect  CircuitBreakerReason = "websocket_disconnect"
	BreakerManual            CircuitBreakerReason = "manual"
)

// CircuitBreakerState is the externally-observable snapshot of the risk
// manager's breaker table, exposed on the read-only control surface.
type CircuitBreakerState struct {
	Active        bool                 `json:"active"`
	Reason        CircuitBreakerReason `json:"reason,omitempty"`
	TriggeredUnixMs int64              `json:"triggered_unix_ms,omitempty"`
}

// RequiresShutdown reports whether this breaker reason demands the
// process halt entirely rather than merely pause new entries: daily-loss
// and manual stops end the session, the recoverable breakers pause until
// their reset condition clears.
func (s CircuitBreakerState) RequiresShutdown() bool {
	if !s.Active {
		return false
	}
	return s.Reason == BreakerDailyLoss || s.Reason == BreakerManual
}
