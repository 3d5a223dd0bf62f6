package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/svyatogor45/triarb/internal/exchange"
	"github.com/svyatogor45/triarb/internal/models"
)

type fakeExchange struct {
	balance models.Portfolio
	err     error
	calls   int
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) GetBalance(ctx context.Context) (models.Portfolio, error) {
	f.calls++
	if f.err != nil {
		return models.Portfolio{}, f.err
	}
	return f.balance, nil
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, pair models.Pair, depth int) (models.OrderBook, error) {
	return models.OrderBook{}, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, pair models.Pair, side models.PathAction, price, qty float64) (string, error) {
	return "", nil
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, pair models.Pair, orderID string) (exchange.OrderStatus, error) {
	return exchange.OrderStatus{}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, pair models.Pair, orderID string) error {
	return nil
}

func (f *fakeExchange) SubscribeBooks(ctx context.Context, pairs []models.Pair) (<-chan exchange.BookUpdate, error) {
	return nil, nil
}

func (f *fakeExchange) TakerFee(pair models.Pair) float64 { return 0.001 }

func TestCacheGetRefreshesWhenStale(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 100}}}
	c := New(fx, false)

	got, err := c.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Free("USDT") != 100 {
		t.Fatalf("expected 100 USDT, got %v", got.Free("USDT"))
	}
	if fx.calls != 1 {
		t.Fatalf("expected 1 exchange call, got %d", fx.calls)
	}
}

func TestCacheGetServesFromCacheWithinTTL(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 100}}}
	c := New(fx, false)

	c.Get(context.Background(), false)
	c.Get(context.Background(), false)
	if fx.calls != 1 {
		t.Fatalf("expected cached second call, got %d exchange calls", fx.calls)
	}
}

func TestCacheGetForceRefreshBypassesTTL(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 100}}}
	c := New(fx, false)

	c.Get(context.Background(), false)
	c.Get(context.Background(), true)
	if fx.calls != 2 {
		t.Fatalf("expected force refresh to call exchange again, got %d calls", fx.calls)
	}
}

func TestCachePublicOnlyNeverCallsExchange(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 100}}}
	c := New(fx, true)

	got, err := c.Get(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Balances) != 0 {
		t.Fatalf("expected empty portfolio in public-only mode, got %+v", got)
	}
	if fx.calls != 0 {
		t.Fatalf("expected no exchange calls in public-only mode, got %d", fx.calls)
	}
}

func TestCacheGetFallsBackToStaleOnRefreshError(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 100}}}
	c := New(fx, false)
	if _, err := c.Get(context.Background(), false); err != nil {
		t.Fatalf("unexpected error on initial load: %v", err)
	}

	fx.err = errors.New("network down")
	got, err := c.Get(context.Background(), true)
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if got.Free("USDT") != 100 {
		t.Fatalf("expected stale balance preserved, got %v", got.Free("USDT"))
	}
}

func TestCacheGetReturnsErrorWhenNeverPopulated(t *testing.T) {
	fx := &fakeExchange{err: errors.New("network down")}
	c := New(fx, false)

	if _, err := c.Get(context.Background(), false); err == nil {
		t.Fatal("expected error when no prior snapshot exists to fall back on")
	}
}

func TestCacheAdjustClampsAtZero(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 10}}}
	c := New(fx, false)
	c.Get(context.Background(), false)

	c.Adjust("USDT", -5)
	if c.Free("USDT") != 5 {
		t.Fatalf("expected 5 after adjust, got %v", c.Free("USDT"))
	}

	c.Adjust("USDT", -100)
	if c.Free("USDT") != 0 {
		t.Fatalf("expected balance clamped at 0, got %v", c.Free("USDT"))
	}
}

func TestCacheAdjustInitializesUnseenAsset(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{}}
	c := New(fx, false)
	c.Get(context.Background(), false)

	c.Adjust("BTC", 0.5)
	if c.Free("BTC") != 0.5 {
		t.Fatalf("expected 0.5 BTC after adjust on unseen asset, got %v", c.Free("BTC"))
	}
}

func TestCacheUpdateFromFeedMarksFresh(t *testing.T) {
	fx := &fakeExchange{balance: models.Portfolio{Balances: map[string]float64{"USDT": 1}}}
	c := New(fx, false)
	c.Get(context.Background(), false)

	c.UpdateFromFeed(models.Portfolio{Balances: map[string]float64{"USDT": 999}, Timestamp: time.Now()})

	got, err := c.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Free("USDT") != 999 {
		t.Fatalf("expected feed update to take effect, got %v", got.Free("USDT"))
	}
	if fx.calls != 1 {
		t.Fatalf("expected feed update to count as fresh and skip a refresh, got %d calls", fx.calls)
	}
}
