package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kalshi-agent/internal/account"
	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/infra"
	"kalshi-agent/internal/infra/storage"
	"kalshi-agent/internal/order"
	"kalshi-agent/internal/position"
	"kalshi-agent/internal/risk"
)

// Executor is the central trading state machine: reserve funds, submit an
// entry, await its fill, submit the paired stop-loss/take-profit exits,
// then track the position through to close. It is also the only component
// that submits or cancels orders, so every fill/cancel race resolves in
// one place.
type Executor struct {
	capability Capability
	orders     *order.Manager
	positions  *position.Tracker
	accounts   *account.Manager
	risk       *risk.Engine
	store      *storage.Storage
	metrics    *infra.Metrics
	notifier   domain.Notifier
	log        *slog.Logger

	// entryTimeoutMs bounds how long an entry order may rest unfilled (or
	// partially filled) before the remainder is cancelled.
	entryTimeoutMs int64

	// pendingExits maps a resting exit order id back to its owning position
	// and which side it is, so a fill on either protective order can cancel
	// the sibling without a linear scan over all positions.
	pendingExits map[string]exitRef

	// pendingStopTarget remembers the stop/target prices a signal carried
	// between OnSignal and the entry fill, so onEntryFilled can submit the
	// paired exits at the right levels without re-deriving them.
	pendingStopTarget []pendingEntry

	// forcedExitReasons carries the strategy's exit reason (TIMEOUT,
	// MARKET_CLOSED, MANUAL) from ExecuteExit to the aggressive order's
	// fill, which the order purpose alone cannot distinguish.
	forcedExitReasons map[string]string
}

type exitRef struct {
	positionID string
	isSL       bool
}

// DefaultEntryTimeoutMs is the wall-clock budget an entry order gets to
// fill before its remainder is cancelled.
const DefaultEntryTimeoutMs = 60_000

// New constructs an Executor wired to its collaborators.
func New(capability Capability, orders *order.Manager, positions *position.Tracker, accounts *account.Manager, riskEngine *risk.Engine, store *storage.Storage, metrics *infra.Metrics, notifier domain.Notifier, log *slog.Logger) *Executor {
	return &Executor{
		capability:     capability,
		orders:         orders,
		positions:      positions,
		accounts:       accounts,
		risk:           riskEngine,
		store:          store,
		metrics:        metrics,
		notifier:       notifier,
		log:            log,
		entryTimeoutMs:    DefaultEntryTimeoutMs,
		pendingExits:      make(map[string]exitRef),
		forcedExitReasons: make(map[string]string),
	}
}

// SetEntryTimeout overrides the default entry-fill budget.
func (e *Executor) SetEntryTimeout(ms int64) {
	if ms > 0 {
		e.entryTimeoutMs = ms
	}
}

// notify fires an operator alert without blocking the trading loop.
func (e *Executor) notify(subject, body string) {
	if e.notifier == nil {
		return
	}
	go func() {
		if err := e.notifier.Notify(context.Background(), subject, body); err != nil {
			e.log.Warn("notification send failed", "subject", subject, "error", err)
		}
	}()
}

// OnSignal handles a strategy entry signal: validates against risk limits,
// reserves capital, and submits the entry order. Returns the new position
// id, or an error if the signal was rejected.
func (e *Executor) OnSignal(ctx context.Context, signal domain.Signal, nowMs int64) (string, error) {
	acct := e.accounts.Snapshot()
	size, err := e.risk.Evaluate(signal, acct, len(e.positions.OpenPositions()))
	if err != nil {
		e.log.Debug("signal rejected", "ticker", signal.Ticker, "error", err)
		return "", err
	}

	// Integer floor division: count = floor(dollars / price).
	contracts := int64(size) / int64(signal.Price)
	if contracts <= 0 {
		return "", domain.NewValidationError("contracts", fmt.Errorf("computed size rounds to zero contracts"))
	}
	notional := signal.Price * domain.Dollars(contracts)

	posID := account.NewPositionID()
	pos := &domain.Position{
		ID:     posID,
		Ticker: signal.Ticker,
		Side:   domain.SideBuy,
		Size:   contracts,
	}
	e.positions.Open(pos)
	e.accounts.Reserve(notional)

	entryOrder := &domain.Order{
		ID:            posID + "-entry",
		PositionID:    posID,
		Ticker:        signal.Ticker,
		Side:          domain.SideBuy,
		Purpose:       domain.OrderPurposeEntry,
		Type:          domain.OrderTypeLimit,
		Price:         signal.Price,
		Size:          contracts,
		Status:        domain.OrderStatusCreated,
		CreatedUnixMs: nowMs,
	}
	e.orders.Add(entryOrder)

	if err := e.capability.SubmitOrder(ctx, entryOrder); err != nil {
		e.log.Error("entry submission failed", "position_id", posID, "error", err)
		e.accounts.Release(notional)
		e.positions.Close(posID, domain.ExitReasonManual, 0, 0, nowMs)
		return "", err
	}

	e.log.Info("entry submitted", "position_id", posID, "ticker", signal.Ticker, "price", signal.Price.String(), "size", contracts)
	e.pendingStopTarget = append(e.pendingStopTarget, pendingEntry{
		positionID:   posID,
		entryOrderID: entryOrder.ID,
		stopLoss:     signal.StopLoss,
		takeProfit:   signal.TakeProfit,
		reserved:     notional,
		createdMs:    nowMs,
	})
	return posID, nil
}

// pendingEntry remembers the stop/target prices a signal carried and the
// funds reserved for it, so once the entry order resolves the paired exits
// can be submitted at the right levels and any unused reservation
// released, without re-deriving either from the strategy.
type pendingEntry struct {
	positionID   string
	entryOrderID string
	stopLoss     domain.Dollars
	takeProfit   domain.Dollars
	reserved     domain.Dollars
	createdMs    int64
}

// takePending removes and returns the pendingEntry for a position id.
func (e *Executor) takePending(positionID string) (pendingEntry, bool) {
	for i := range e.pendingStopTarget {
		if e.pendingStopTarget[i].positionID == positionID {
			pe := e.pendingStopTarget[i]
			e.pendingStopTarget = append(e.pendingStopTarget[:i], e.pendingStopTarget[i+1:]...)
			return pe, true
		}
	}
	return pendingEntry{}, false
}

// OnOrderUpdate applies a venue (or paper-simulator) order update to the
// tracked order, then advances the owning position's state machine:
// entry fills trigger paired-exit submission, an exit fill settles the
// position and releases capital, and a fill on either protective order
// cancels its sibling to prevent a double exit.
func (e *Executor) OnOrderUpdate(ctx context.Context, orderID, venueStatus string, filledSize int64, avgFillPrice domain.Dollars, tsMs int64) {
	o, ok := e.orders.Get(orderID)
	wasOpen := ok && o.IsOpen()
	if !e.orders.ApplyUpdate(orderID, venueStatus, filledSize, avgFillPrice, tsMs) {
		return
	}
	o, _ = e.orders.Get(orderID)
	if !wasOpen || !o.IsTerminal() {
		return
	}

	switch o.Status {
	case domain.OrderStatusFilled:
		switch o.Purpose {
		case domain.OrderPurposeEntry:
			e.onEntryFilled(ctx, o, tsMs)
		default:
			e.onExitFilled(ctx, o, tsMs)
		}
	case domain.OrderStatusCancelled, domain.OrderStatusRejected:
		if o.Purpose == domain.OrderPurposeEntry {
			e.onEntryTerminatedUnfilled(ctx, o, tsMs)
		}
		// A cancelled exit is either a sibling-cancel ack or the precursor
		// to a forced exit; both were already handled where the cancel was
		// issued.
	}
}

// onEntryTerminatedUnfilled handles an entry order that reached a terminal
// state other than FILLED. A partial fill that was cancelled at the entry
// timeout is promoted to a fill of the partial amount; a wholly-unfilled
// entry releases its reservation and discards the position.
func (e *Executor) onEntryTerminatedUnfilled(ctx context.Context, entryOrder *domain.Order, tsMs int64) {
	if entryOrder.FilledSize > 0 {
		e.onEntryFilled(ctx, entryOrder, tsMs)
		return
	}
	pe, ok := e.takePending(entryOrder.PositionID)
	if !ok {
		return
	}
	e.accounts.Release(pe.reserved)
	e.positions.Close(entryOrder.PositionID, domain.ExitReasonManual, 0, 0, tsMs)
	e.log.Info("entry terminated unfilled, reservation released",
		"position_id", entryOrder.PositionID, "status", entryOrder.Status)
}

// CheckEntryTimeouts cancels entry orders that have rested past the entry
// timeout. The resulting cancel ack (possibly carrying a partial fill)
// flows back through OnOrderUpdate, which settles the reservation.
func (e *Executor) CheckEntryTimeouts(ctx context.Context, nowMs int64) {
	for _, pe := range e.pendingStopTarget {
		if nowMs-pe.createdMs < e.entryTimeoutMs {
			continue
		}
		o, ok := e.orders.Get(pe.entryOrderID)
		if !ok || !o.IsOpen() {
			continue
		}
		e.log.Info("entry timeout, cancelling remainder",
			"position_id", pe.positionID, "order_id", pe.entryOrderID, "filled", o.FilledSize)
		if err := e.capability.CancelOrder(ctx, pe.entryOrderID); err != nil {
			e.log.Warn("entry timeout cancel failed", "order_id", pe.entryOrderID, "error", err)
		}
	}
}

func (e *Executor) onEntryFilled(ctx context.Context, entryOrder *domain.Order, tsMs int64) {
	posID := entryOrder.PositionID
	pe, ok := e.takePending(posID)
	if !ok {
		e.log.Error("entry filled with no pending stop/target recorded", "position_id", posID)
		return
	}

	fillPrice := entryOrder.AvgFillPrice
	if fillPrice == 0 {
		fillPrice = entryOrder.Price
	}
	e.positions.MarkEntered(posID, fillPrice, entryOrder.FilledSize, tsMs)

	// A limit BUY fills at or below its limit, so the actual cost never
	// exceeds the reservation; the unused remainder (price improvement or
	// a partial fill's dust) goes back to available balance now.
	actualCost := fillPrice * domain.Dollars(entryOrder.FilledSize)
	if pe.reserved > actualCost {
		e.accounts.Release(pe.reserved - actualCost)
	}

	slOrder := &domain.Order{
		ID:            posID + "-sl",
		PositionID:    posID,
		Ticker:        entryOrder.Ticker,
		Side:          domain.SideSell,
		Purpose:       domain.OrderPurposeStopLoss,
		Type:          domain.OrderTypeLimit,
		Price:         pe.stopLoss,
		Size:          entryOrder.FilledSize,
		Status:        domain.OrderStatusCreated,
		CreatedUnixMs: tsMs,
	}
	tpOrder := &domain.Order{
		ID:            posID + "-tp",
		PositionID:    posID,
		Ticker:        entryOrder.Ticker,
		Side:          domain.SideSell,
		Purpose:       domain.OrderPurposeTakeProfit,
		Type:          domain.OrderTypeLimit,
		Price:         pe.takeProfit,
		Size:          entryOrder.FilledSize,
		Status:        domain.OrderStatusCreated,
		CreatedUnixMs: tsMs,
	}

	e.orders.Add(slOrder)
	e.orders.Add(tpOrder)

	if err := e.capability.SubmitOrder(ctx, slOrder); err != nil {
		e.log.Error("stop-loss submission failed", "position_id", posID, "error", err)
	}
	if err := e.capability.SubmitOrder(ctx, tpOrder); err != nil {
		e.log.Error("take-profit submission failed", "position_id", posID, "error", err)
	}

	e.pendingExits[slOrder.ID] = exitRef{positionID: posID, isSL: true}
	e.pendingExits[tpOrder.ID] = exitRef{positionID: posID, isSL: false}
	e.positions.AttachExits(posID, slOrder.ID, tpOrder.ID, pe.stopLoss, pe.takeProfit)
	e.accounts.SetExposure(e.positions.TotalNotional())

	e.log.Info("paired exits submitted", "position_id", posID, "stop_loss", pe.stopLoss.String(), "take_profit", pe.takeProfit.String())
	e.notify("position opened",
		fmt.Sprintf("%s: entered %d contracts at %s, stop %s, target %s",
			entryOrder.Ticker, entryOrder.FilledSize, fillPrice, pe.stopLoss, pe.takeProfit))
}

func (e *Executor) onExitFilled(ctx context.Context, exitOrder *domain.Order, tsMs int64) {
	posID := exitOrder.PositionID
	pos, ok := e.positions.Get(posID)
	if !ok {
		return
	}

	ref, tracked := e.pendingExits[exitOrder.ID]
	if tracked {
		var siblingID string
		if ref.isSL {
			siblingID = pos.TakeProfitOrderID
		} else {
			siblingID = pos.StopLossOrderID
		}
		if siblingID != "" && siblingID != exitOrder.ID {
			if err := e.capability.CancelOrder(ctx, siblingID); err != nil {
				e.log.Warn("sibling exit cancel failed", "order_id", siblingID, "error", err)
			}
			delete(e.pendingExits, siblingID)
		}
		delete(e.pendingExits, exitOrder.ID)
	}

	reason := domain.ExitReasonManual
	if r, forced := e.forcedExitReasons[exitOrder.ID]; forced {
		reason = r
		delete(e.forcedExitReasons, exitOrder.ID)
	} else {
		switch exitOrder.Purpose {
		case domain.OrderPurposeStopLoss:
			reason = domain.ExitReasonStopLoss
		case domain.OrderPurposeTakeProfit:
			reason = domain.ExitReasonTakeProfit
		case domain.OrderPurposeTimeoutExit:
			reason = domain.ExitReasonTimeout
		}
	}

	realizedPnL := (exitOrder.AvgFillPrice - pos.EntryPrice) * domain.Dollars(pos.Size)
	notional := pos.EntryPrice * domain.Dollars(pos.Size)

	e.positions.BeginExit(posID)
	closed := e.positions.Close(posID, reason, exitOrder.AvgFillPrice, realizedPnL, tsMs)
	if closed == nil {
		return
	}
	e.accounts.SettlePosition(notional, realizedPnL)
	e.accounts.SetExposure(e.positions.TotalNotional())
	e.metrics.RecordOrderFilled()
	e.notify("position closed",
		fmt.Sprintf("%s: closed %d contracts at %s (%s), realized P&L %s",
			closed.Ticker, closed.Size, closed.ExitPrice, closed.ExitReason, closed.RealizedPnL))
	if realizedPnL >= 0 {
		// A winning close resets the consecutive-loss breaker per the risk
		// table's reset condition; the account's own streak counter already
		// zeroed in SettlePosition, this just releases the breaker gate.
		e.risk.Breakers.Reset(domain.BreakerConsecutiveLosses)
	}

	if e.store != nil {
		trade := &storage.Trade{
			ID:              posID,
			Ticker:          closed.Ticker,
			Side:            closed.Side,
			EntryPrice:      int64(closed.EntryPrice),
			ExitPrice:       int64(closed.ExitPrice),
			StopLossPrice:   int64(closed.StopLossPrice),
			TakeProfitPrice: int64(closed.TakeProfitPrice),
			Size:            closed.Size,
			ExitReason:      closed.ExitReason,
			RealizedPnL:     int64(closed.RealizedPnL),
			MaxProfitPct:    closed.MaxProfitPct,
			MaxDrawdownPct:  closed.MaxDrawdownPct,
			EnteredUnixMs:   closed.EnteredUnixMs,
			ClosedUnixMs:    closed.ClosedUnixMs,
		}
		if err := e.store.SaveTrade(trade); err != nil {
			e.log.Error("trade persistence failed", "position_id", posID, "error", err)
		}
	}
}

// ExecuteExit submits a manual/timeout/close-buffer exit for an open
// position, cancelling both resting protective orders first so exactly
// one exit order is live at a time.
func (e *Executor) ExecuteExit(ctx context.Context, decision domain.ExitDecision, nowMs int64) error {
	pos, ok := e.positions.Get(decision.PositionID)
	if !ok {
		return domain.ErrPositionNotFound
	}
	if pos.Status != domain.PositionStatusEntered {
		return nil
	}

	for _, id := range []string{pos.StopLossOrderID, pos.TakeProfitOrderID} {
		if id == "" {
			continue
		}
		if err := e.capability.CancelOrder(ctx, id); err != nil {
			e.log.Warn("exit-precursor cancel failed", "order_id", id, "error", err)
		}
		delete(e.pendingExits, id)
	}

	purpose := domain.OrderPurposeManualExit
	if decision.Reason == domain.ExitReasonTimeout || decision.Reason == domain.ExitReasonMarketClose {
		purpose = domain.OrderPurposeTimeoutExit
	}

	// The venue is limit-only, so an immediate exit is an aggressive
	// limit: 95% of the current bid, floored at the 1-cent minimum, deep
	// enough through the book to fill at once. decision.Price carries the
	// bid observed when the exit was decided.
	aggressive := decision.Price * 95 / 100
	if aggressive < 100 {
		aggressive = 100
	}

	exitOrder := &domain.Order{
		ID:            decision.PositionID + "-exit-" + purpose,
		PositionID:    decision.PositionID,
		Ticker:        pos.Ticker,
		Side:          domain.SideSell,
		Purpose:       purpose,
		Type:          domain.OrderTypeLimit,
		Price:         aggressive,
		Size:          pos.Size,
		Status:        domain.OrderStatusCreated,
		CreatedUnixMs: nowMs,
	}
	e.orders.Add(exitOrder)
	e.forcedExitReasons[exitOrder.ID] = decision.Reason
	e.positions.BeginExit(decision.PositionID)

	if err := e.capability.SubmitOrder(ctx, exitOrder); err != nil {
		e.log.Error("forced exit submission failed", "position_id", decision.PositionID, "error", err)
		return err
	}
	return nil
}

// RecoverOnStartup fetches the venue's resting orders after a restart and
// applies each one's status and fill count to the matching order the
// order manager already tracks; resting orders it does not track are
// skipped. Orders that filled or were cancelled while the process was
// down are not in that listing and are not queried, and no orphaned order
// is cancelled or missing exit order recreated here.
func (e *Executor) RecoverOnStartup(ctx context.Context) error {
	active, err := e.capability.GetActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("recovery: fetch active orders: %w", err)
	}
	for _, o := range active {
		e.OnOrderUpdate(ctx, o.ID, o.Status, o.FilledSize, o.AvgFillPrice, time.Now().UnixMilli())
	}
	e.log.Info("startup recovery complete", "active_orders", len(active))
	return nil
}
