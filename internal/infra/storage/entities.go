package storage

// Trade is the persisted record of one closed position, written once a
// position reaches CLOSED.
type Trade struct {
	ID              string `gorm:"primaryKey"`
	Ticker          string `gorm:"index"`
	Side            string
	EntryPrice      int64 // Dollars
	ExitPrice       int64 // Dollars
	StopLossPrice   int64
	TakeProfitPrice int64
	Size            int64
	ExitReason      string
	RealizedPnL     int64
	MaxProfitPct    float64
	MaxDrawdownPct  float64
	EnteredUnixMs   int64
	ClosedUnixMs    int64
}

// AccountSnapshot is a periodic (snapshot_timer-driven) persisted point-in-
// time view of account state, used for post-mortem and daily reporting.
type AccountSnapshot struct {
	ID               uint `gorm:"primaryKey;autoIncrement"`
	TakenUnixMs      int64 `gorm:"index"`
	AvailableBalance int64
	LockedBalance    int64
	TotalExposure    int64
	RealizedPnLToday int64
	UnrealizedPnL    int64
	OpenPositions    int
}

// LogEntry is a persisted structured-log record for events the operator
// needs queryable after the fact (circuit breaker trips, fatal errors),
// separate from the rolling slog/lumberjack file output.
type LogEntry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Ts        int64  `gorm:"index"`
	Level     string
	Message   string
	Fields    string // JSON-encoded
}
