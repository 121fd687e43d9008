package domain

// Signal is an entry recommendation emitted by the strategy engine when a
// market passes the entry filter.
type Signal struct {
	Ticker      string  `json:"ticker"`
	Side        string  `json:"side"`
	Price       Dollars `json:"price"`
	Size        int64   `json:"size"`
	StopLoss    Dollars `json:"stop_loss"`
	TakeProfit  Dollars `json:"take_profit"`
	RiskReward  float64 `json:"risk_reward"`
	// BestAsk is the market's best ask at signal-generation time, carried
	// through for the risk manager's slippage-cap check (entry <= 1.02 *
	// best_ask); it is not itself tradeable.
	BestAsk     Dollars `json:"best_ask"`
	GeneratedUnixMs int64 `json:"generated_unix_ms"`
}

// ExitDecision is emitted by the strategy engine's periodic sweep when an
// open position should be closed.
type ExitDecision struct {
	PositionID string  `json:"position_id"`
	Reason     string  `json:"reason"`
	Price      Dollars `json:"price"`
}
