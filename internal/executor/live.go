package executor

import (
	"context"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/infra/kalshi"
)

// LiveExecution adapts *kalshi.Client to the Capability interface, the
// thin seam between the venue's id-returning SubmitOrder and the
// mutate-in-place Execution contract the Executor drives.
type LiveExecution struct {
	client *kalshi.Client
}

// NewLiveExecution wraps a venue REST client as an execution capability.
func NewLiveExecution(client *kalshi.Client) *LiveExecution {
	return &LiveExecution{client: client}
}

var _ Capability = (*LiveExecution)(nil)

func (l *LiveExecution) SubmitOrder(ctx context.Context, o *domain.Order) error {
	exchangeID, err := l.client.SubmitOrder(ctx, o)
	if err != nil {
		o.Status = domain.OrderStatusRejected
		return err
	}
	o.ExchangeID = exchangeID
	o.Status = domain.OrderStatusPending
	return nil
}

func (l *LiveExecution) CancelOrder(ctx context.Context, orderID string) error {
	return l.client.CancelOrder(ctx, orderID)
}

func (l *LiveExecution) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return l.client.GetOrder(ctx, orderID)
}

func (l *LiveExecution) GetActiveOrders(ctx context.Context) ([]*domain.Order, error) {
	return l.client.GetActiveOrders(ctx)
}

func (l *LiveExecution) GetBalance(ctx context.Context) (*domain.Account, error) {
	bal, err := l.client.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.Account{AvailableBalance: bal}, nil
}
