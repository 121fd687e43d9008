package event

import "sync"

// Pools provide sync.Pool allocation for the highest-frequency event
// types to reduce GC pressure in the sequencer hotpath. Usage:
//
//	ev := AcquireTickerUpdateEvent()
//	ev.Ticker = "INXD-24JUN-B5000"
//	// ... send on inbox, processed, then ...
//	ReleaseTickerUpdateEvent(ev)
var tickerUpdatePool = sync.Pool{
	New: func() interface{} { return &TickerUpdateEvent{} },
}

func AcquireTickerUpdateEvent() *TickerUpdateEvent {
	return tickerUpdatePool.Get().(*TickerUpdateEvent)
}

func ReleaseTickerUpdateEvent(ev *TickerUpdateEvent) {
	if ev == nil {
		return
	}
	*ev = TickerUpdateEvent{}
	tickerUpdatePool.Put(ev)
}

var orderbookDeltaPool = sync.Pool{
	New: func() interface{} { return &OrderbookDeltaEvent{} },
}

func AcquireOrderbookDeltaEvent() *OrderbookDeltaEvent {
	return orderbookDeltaPool.Get().(*OrderbookDeltaEvent)
}

func ReleaseOrderbookDeltaEvent(ev *OrderbookDeltaEvent) {
	if ev == nil {
		return
	}
	*ev = OrderbookDeltaEvent{}
	orderbookDeltaPool.Put(ev)
}

var orderUpdatePool = sync.Pool{
	New: func() interface{} { return &OrderUpdateEvent{} },
}

func AcquireOrderUpdateEvent() *OrderUpdateEvent {
	return orderUpdatePool.Get().(*OrderUpdateEvent)
}

func ReleaseOrderUpdateEvent(ev *OrderUpdateEvent) {
	if ev == nil {
		return
	}
	*ev = OrderUpdateEvent{}
	orderUpdatePool.Put(ev)
}

// Warmup pre-allocates a batch of each pooled event type at startup so the
// first burst of stream traffic doesn't pay allocation cost.
func Warmup() {
	const batchSize = 1000

	tickers := make([]*TickerUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		tickers = append(tickers, AcquireTickerUpdateEvent())
	}
	for _, ev := range tickers {
		ReleaseTickerUpdateEvent(ev)
	}

	deltas := make([]*OrderbookDeltaEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		deltas = append(deltas, AcquireOrderbookDeltaEvent())
	}
	for _, ev := range deltas {
		ReleaseOrderbookDeltaEvent(ev)
	}

	orders := make([]*OrderUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		orders = append(orders, AcquireOrderUpdateEvent())
	}
	for _, ev := range orders {
		ReleaseOrderUpdateEvent(ev)
	}
}
