package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/infra"

	"github.com/google/uuid"
)

// Client is the venue REST client. Every call passes through the rate
// limiter, is signed per request, retried on transient failure, and
// counted into the metrics the API-error-rate breaker watches.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	limiter    *RateLimiter
	metrics    *infra.Metrics
}

// NewClient constructs a REST client bound to a signer and rate limiter.
func NewClient(baseURL string, signer *Signer, limiter *RateLimiter, metrics *infra.Metrics) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		signer:     signer,
		limiter:    limiter,
		metrics:    metrics,
	}
}

// ListMarkets returns the current state of every listed market, following
// the pagination cursor until exhausted.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	cursor := ""
	for {
		path := "/trade-api/v2/markets?limit=200"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		var resp struct {
			Markets []restMarket `json:"markets"`
			Cursor  string       `json:"cursor"`
		}
		if err := c.doRead(ctx, path, &resp); err != nil {
			return nil, err
		}
		now := time.Now().UnixMilli()
		for _, m := range resp.Markets {
			out = append(out, m.toDomain(now))
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return out, nil
}

// GetOrderbook returns the full resting ladder for a ticker. The venue
// reports both sides as bids: "yes" levels are yes bids, "no" levels are
// no bids, and a no bid at p cents is a yes ask at 100-p.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (*domain.OrderBook, error) {
	path := fmt.Sprintf("/trade-api/v2/markets/%s/orderbook", ticker)
	var resp struct {
		Yes [][2]int64 `json:"yes"` // [price_cents, count]
		No  [][2]int64 `json:"no"`
	}
	if err := c.doRead(ctx, path, &resp); err != nil {
		return nil, err
	}
	book := &domain.OrderBook{
		Bids: make(map[domain.Dollars]int64, len(resp.Yes)),
		Asks: make(map[domain.Dollars]int64, len(resp.No)),
	}
	for _, lvl := range resp.Yes {
		book.Bids[domain.CentsToDollars(lvl[0])] = lvl[1]
	}
	for _, lvl := range resp.No {
		book.Asks[domain.CentsToDollars(100-lvl[0])] = lvl[1]
	}
	return book, nil
}

// SubmitOrder places an order and returns its venue-assigned id. The
// price is clamped to the venue's tradeable [1, 99] cent range; a
// non-positive contract count is rejected before any request is made.
func (c *Client) SubmitOrder(ctx context.Context, o *domain.Order) (string, error) {
	if o.Size <= 0 {
		return "", domain.NewValidationError("count", fmt.Errorf("contract count must be positive, got %d", o.Size))
	}

	action := "buy"
	if o.Side == domain.SideSell {
		action = "sell"
	}
	orderType := "limit"
	if o.Type == domain.OrderTypeMarket {
		orderType = "market"
	}

	priceCents := o.Price.ToCents()
	if priceCents < 1 {
		priceCents = 1
	}
	if priceCents > 99 {
		priceCents = 99
	}

	body := restOrderRequest{
		Ticker:   o.Ticker,
		Side:     "yes",
		Action:   action,
		Type:     orderType,
		Count:    o.Size,
		YesPrice: priceCents,
		ClientID: uuid.NewString(),
	}

	var resp struct {
		Order restOrder `json:"order"`
	}
	if err := c.doWrite(ctx, http.MethodPost, "/trade-api/v2/portfolio/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.Order.OrderID, nil
}

// CancelOrder cancels a resting order. A 404 from the venue is treated as
// success: the order is already gone, which is the outcome a cancel
// wants.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/trade-api/v2/portfolio/orders/%s", orderID)
	err := c.doWrite(ctx, http.MethodDelete, path, nil, nil)
	var se *statusError
	if ok := asStatusError(err, &se); ok && se.status == http.StatusNotFound {
		return nil
	}
	return err
}

// GetOrder fetches the current state of a single order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	path := fmt.Sprintf("/trade-api/v2/portfolio/orders/%s", orderID)
	var resp struct {
		Order restOrder `json:"order"`
	}
	if err := c.doRead(ctx, path, &resp); err != nil {
		return nil, err
	}
	return toDomainOrder(resp.Order), nil
}

// GetActiveOrders returns every currently-resting order, used during
// stream reconnect reconciliation and startup recovery.
func (c *Client) GetActiveOrders(ctx context.Context) ([]*domain.Order, error) {
	path := "/trade-api/v2/portfolio/orders?status=resting"
	var resp struct {
		Orders []restOrder `json:"orders"`
	}
	if err := c.doRead(ctx, path, &resp); err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, toDomainOrder(o))
	}
	return out, nil
}

// GetBalance returns the account's available balance.
func (c *Client) GetBalance(ctx context.Context) (domain.Dollars, error) {
	var resp restBalance
	if err := c.doRead(ctx, "/trade-api/v2/portfolio/balance", &resp); err != nil {
		return 0, err
	}
	return domain.CentsToDollars(resp.BalanceCents), nil
}

func toDomainOrder(o restOrder) *domain.Order {
	side := domain.SideBuy
	if o.Action == "sell" {
		side = domain.SideSell
	}
	typ := domain.OrderTypeLimit
	if o.Type == "market" {
		typ = domain.OrderTypeMarket
	}
	return &domain.Order{
		ID:           o.OrderID,
		ExchangeID:   o.OrderID,
		Ticker:       o.Ticker,
		Side:         side,
		Type:         typ,
		Price:        domain.CentsToDollars(o.YesPrice),
		Size:         o.Count,
		FilledSize:   o.FilledCount,
		AvgFillPrice: domain.CentsToDollars(o.AvgPriceCents),
		Status:       domain.NormalizeVenueStatus(domain.OrderStatusOpen, o.Status),
	}
}

// statusError carries the venue's HTTP status and decoded error body.
type statusError struct {
	status int
	code   string
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("kalshi: status %d code=%s msg=%s", e.status, e.code, e.msg)
}

func asStatusError(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

// doRead performs a rate-limited, retried GET against path.
func (c *Client) doRead(ctx context.Context, path string, out any) error {
	if err := c.limiter.WaitRead(ctx); err != nil {
		return err
	}
	return c.doWithRetry(ctx, http.MethodGet, path, nil, out)
}

// doWrite performs a rate-limited, retried mutating request against path.
func (c *Client) doWrite(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.WaitWrite(ctx); err != nil {
		return err
	}
	return c.doWithRetry(ctx, method, path, body, out)
}

// doWithRetry retries transient failures (timeouts, 5xx, 429) for up to
// three attempts in total with exponential backoff. 4xx responses other
// than 429, including 401/403, are never retried.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			// 100ms, 400ms between the three attempts.
			delay := time.Duration(100<<(2*uint(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doRequest(ctx, method, path, body, out)
		if err == nil {
			c.metrics.RecordRESTCall(true)
			return nil
		}
		lastErr = err
		c.metrics.RecordRESTCall(false)

		var se *statusError
		if asStatusError(err, &se) {
			if se.status == http.StatusTooManyRequests || se.status >= 500 {
				continue // retriable
			}
			return err // 4xx other than 429: never retried
		}
		if _, authz := err.(*domain.AuthzError); authz {
			return err // 401/403: never retried
		}
		// network-level error: retriable
	}
	return lastErr
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	requestPath := path
	if idx := indexByte(path, '?'); idx >= 0 {
		requestPath = path[:idx]
	}
	for k, v := range c.signer.GenerateHeaders(method, requestPath) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError("http_do", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError("read_body", err)
	}

	if resp.StatusCode >= 300 {
		var envelope restErrorEnvelope
		_ = json.Unmarshal(respBody, &envelope)
		se := &statusError{status: resp.StatusCode, code: envelope.Error.Code, msg: envelope.Error.Message}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return domain.NewAuthzError("request", se)
		}
		return se
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
