package kalshi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"kalshi-agent/internal/domain"
	"kalshi-agent/internal/infra"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pemBytes, _ := testKeyPEM(t)
	signer, err := NewSigner("key-id-1", pemBytes)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	limiter := NewRateLimiter(1000, 1000, 1000, 1000)
	return NewClient(srv.URL, signer, limiter, &infra.Metrics{}), srv
}

func TestGetBalanceConvertsCents(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("KALSHI-ACCESS-SIGNATURE") == "" {
			t.Error("request missing auth signature header")
		}
		w.Write([]byte(`{"balance": 150000}`))
	}))

	bal, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != domain.Dollars(1500_0000) { // 150,000 cents = $1,500
		t.Fatalf("balance = %s, want 1500.0000", bal)
	}
}

func TestGetOrderbookConvertsSides(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"yes": [[90, 100], [89, 200]], "no": [[9, 50]]}`))
	}))

	book, err := c.GetOrderbook(context.Background(), "KXTEST-24")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if got := book.Bids[domain.CentsToDollars(90)]; got != 100 {
		t.Fatalf("bid size at 90c = %d, want 100", got)
	}
	if got := book.Bids[domain.CentsToDollars(89)]; got != 200 {
		t.Fatalf("bid size at 89c = %d, want 200", got)
	}
	// A no bid at 9c is a yes ask at 91c.
	if got := book.Asks[domain.CentsToDollars(91)]; got != 50 {
		t.Fatalf("ask size at 91c = %d, want 50", got)
	}
}

func TestCancelOrderTreats404AsSuccess(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"order not found"}}`))
	}))

	if err := c.CancelOrder(context.Background(), "ghost"); err != nil {
		t.Fatalf("cancel of missing order should succeed, got %v", err)
	}
}

func TestRetriesTransient5xx(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"balance": 100}`))
	}))

	if _, err := c.GetBalance(context.Background()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3 (two retries)", calls.Load())
	}
}

func TestDoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"bad_request","message":"nope"}}`))
	}))

	if _, err := c.GetBalance(context.Background()); err == nil {
		t.Fatal("expected error on 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (4xx never retried)", calls.Load())
	}
}

func TestUnauthorizedIsAuthzError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"unauthorized","message":"bad signature"}}`))
	}))

	_, err := c.GetBalance(context.Background())
	var authz *domain.AuthzError
	if !errors.As(err, &authz) {
		t.Fatalf("expected AuthzError, got %T: %v", err, err)
	}
}

func TestSubmitOrderRejectsZeroCount(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	o := &domain.Order{Ticker: "KXTEST-24", Side: domain.SideBuy, Price: 9100, Size: 0}
	if _, err := c.SubmitOrder(context.Background(), o); err == nil {
		t.Fatal("expected validation error for zero contract count")
	}
	if calls.Load() != 0 {
		t.Fatal("zero-count order must be rejected before any request is sent")
	}
}

func TestSubmitOrderReturnsVenueID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Write([]byte(`{"order":{"order_id":"venue-42","status":"resting"}}`))
	}))

	o := &domain.Order{Ticker: "KXTEST-24", Side: domain.SideBuy, Price: 9100, Size: 10}
	id, err := c.SubmitOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if id != "venue-42" {
		t.Fatalf("venue id = %q, want venue-42", id)
	}
}
