package executor

import (
	"context"
	"sync"
	"time"

	"kalshi-agent/internal/domain"
)

// FillCallback is invoked whenever the paper matching engine fills or
// cancels an order, mirroring the shape of a venue fill message so the
// same Sequencer/Executor order-update path drives both paper and live
// trading.
type FillCallback func(orderID, status string, filledSize int64, avgFillPrice domain.Dollars, tsMs int64)

// PaperExecutor simulates the venue against a locally tracked balance.
// A BUY limit rests until best_ask <= limit price; a SELL limit rests
// until best_bid >= limit price; a protective stop rests until the bid
// falls to the stop level; market orders fill immediately against the
// current touch.
type PaperExecutor struct {
	mu       sync.Mutex
	balance  domain.Dollars
	locked   domain.Dollars
	bestBid  map[string]domain.Dollars
	bestAsk  map[string]domain.Dollars
	orders   map[string]*domain.Order
	onFill   FillCallback
}

// NewPaperExecutor constructs a simulator seeded with a starting balance.
func NewPaperExecutor(startingBalance domain.Dollars, onFill FillCallback) *PaperExecutor {
	return &PaperExecutor{
		balance: startingBalance,
		bestBid: make(map[string]domain.Dollars),
		bestAsk: make(map[string]domain.Dollars),
		orders:  make(map[string]*domain.Order),
		onFill:  onFill,
	}
}

var _ Capability = (*PaperExecutor)(nil)

// UpdateMarket feeds the simulator the latest top-of-book for a ticker and
// re-checks every resting order against it. Called by the sequencer on
// every ticker update while running in paper mode.
func (p *PaperExecutor) UpdateMarket(ticker string, bestBid, bestAsk domain.Dollars, tsMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bestBid[ticker] = bestBid
	p.bestAsk[ticker] = bestAsk

	for _, o := range p.orders {
		if o.Ticker != ticker || !o.IsOpen() {
			continue
		}
		p.tryFillLocked(o, tsMs)
	}
}

func (p *PaperExecutor) SubmitOrder(ctx context.Context, o *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := o.Price * domain.Dollars(o.Size)
	if cost > p.balance {
		o.Status = domain.OrderStatusRejected
		return domain.NewValidationError("insufficient_balance", domain.ErrInsufficientBalance)
	}
	p.balance -= cost
	p.locked += cost

	o.Status = domain.OrderStatusOpen
	o.ExchangeID = o.ID

	// The simulator keeps its own copy: fills and cancels reach the
	// caller's order only through the fill callback, the same observation
	// path venue stream echoes take in live mode.
	cp := *o
	p.orders[cp.ID] = &cp

	// A protective stop rests at placement and is evaluated only against
	// subsequent market updates; everything else may cross immediately.
	if cp.Purpose != domain.OrderPurposeStopLoss {
		p.tryFillLocked(&cp, time.Now().UnixMilli())
	}
	return nil
}

// tryFillLocked checks a single order against the current touch and fills
// it fully if crossable. Must be called with p.mu held.
func (p *PaperExecutor) tryFillLocked(o *domain.Order, tsMs int64) {
	if !o.IsOpen() {
		return
	}

	var crosses bool
	var fillPrice domain.Dollars
	switch o.Side {
	case domain.SideBuy:
		ask, ok := p.bestAsk[o.Ticker]
		crosses = ok && (o.Type == domain.OrderTypeMarket || ask <= o.Price)
		fillPrice = ask
	case domain.SideSell:
		bid, ok := p.bestBid[o.Ticker]
		if o.Purpose == domain.OrderPurposeStopLoss {
			// Stop semantics: fires when the bid falls to the stop level,
			// filling at the stop price.
			crosses = ok && bid <= o.Price
			fillPrice = o.Price
		} else {
			crosses = ok && (o.Type == domain.OrderTypeMarket || bid >= o.Price)
			fillPrice = bid
		}
	}
	if !crosses {
		return
	}

	remaining := o.RemainingSize()
	o.FilledSize = o.Size
	o.AvgFillPrice = fillPrice
	o.Status = domain.OrderStatusFilled
	o.UpdatedUnixMs = tsMs

	// release the locked cost computed at submit time, now settled at the
	// actual fill price (credit/debit the difference)
	submittedCost := o.Price * domain.Dollars(remaining)
	actualCost := fillPrice * domain.Dollars(remaining)
	p.locked -= submittedCost
	p.balance += submittedCost - actualCost

	if p.onFill != nil {
		p.onFill(o.ID, "executed", o.FilledSize, o.AvgFillPrice, tsMs)
	}
}

func (p *PaperExecutor) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil
	}
	if !o.IsOpen() {
		return nil
	}
	remaining := o.RemainingSize()
	p.locked -= o.Price * domain.Dollars(remaining)
	p.balance += o.Price * domain.Dollars(remaining)
	o.Status = domain.OrderStatusCancelled

	if p.onFill != nil {
		p.onFill(o.ID, "canceled", o.FilledSize, o.AvgFillPrice, time.Now().UnixMilli())
	}
	return nil
}

func (p *PaperExecutor) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (p *PaperExecutor) GetActiveOrders(ctx context.Context) ([]*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.Order
	for _, o := range p.orders {
		if o.IsOpen() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *PaperExecutor) GetBalance(ctx context.Context) (*domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &domain.Account{AvailableBalance: p.balance, LockedBalance: p.locked}, nil
}
