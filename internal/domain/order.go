package domain

// Order represents a single resting or completed order at the venue.
type Order struct {
	ID             string  `json:"id"`
	ExchangeID     string  `json:"exchange_id"`
	PositionID     string  `json:"position_id"`
	Ticker         string  `json:"ticker"`
	Side           string  `json:"side"`  // BUY, SELL
	Purpose        string  `json:"purpose"` // ENTRY, STOP_LOSS, TAKE_PROFIT, TIMEOUT_EXIT, MANUAL_EXIT
	Type           string  `json:"type"`  // LIMIT, MARKET
	Price          Dollars `json:"price"`
	Size           int64   `json:"size"` // contracts
	FilledSize     int64   `json:"filled_size"`
	AvgFillPrice   Dollars `json:"avg_fill_price"`
	Status         string  `json:"status"`
	CreatedUnixMs  int64   `json:"created_unix_ms"`
	UpdatedUnixMs  int64   `json:"updated_unix_ms"`
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderPurposeEntry       = "ENTRY"
	OrderPurposeStopLoss    = "STOP_LOSS"
	OrderPurposeTakeProfit  = "TAKE_PROFIT"
	OrderPurposeTimeoutExit = "TIMEOUT_EXIT"
	OrderPurposeManualExit  = "MANUAL_EXIT"

	OrderStatusCreated         = "CREATED"
	OrderStatusPending         = "PENDING"
	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// IsOpen reports whether the order can still receive fills or be cancelled.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// RemainingSize returns the unfilled portion of the order.
func (o *Order) RemainingSize() int64 {
	return o.Size - o.FilledSize
}

// NormalizeVenueStatus maps a venue-reported order status string onto the
// internal lifecycle. Unknown statuses map to the current status unchanged
// so a typo in a venue payload never silently terminates tracking.
func NormalizeVenueStatus(current, venueStatus string) string {
	switch venueStatus {
	case "resting":
		return OrderStatusOpen
	case "executed":
		return OrderStatusFilled
	case "canceled", "cancelled":
		return OrderStatusCancelled
	case "pending":
		return OrderStatusPending
	default:
		return current
	}
}
