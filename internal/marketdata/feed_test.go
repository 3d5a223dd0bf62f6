package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/svyatogor45/triarb/internal/exchange"
	"github.com/svyatogor45/triarb/internal/models"
)

type fakeExchange struct {
	snapshot models.OrderBook
	updates  chan exchange.BookUpdate
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) GetBalance(ctx context.Context) (models.Portfolio, error) {
	return models.Portfolio{}, nil
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, pair models.Pair, depth int) (models.OrderBook, error) {
	return f.snapshot, nil
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
	return f.updates, nil
}

func (f *fakeExchange) TakerFee(pair models.Pair) float64 { return 0.001 }

func TestFeedSeedsFromSnapshotAndAppliesDelta(t *testing.T) {
	pair := testPair()
	fx := &fakeExchange{
		snapshot: models.OrderBook{
			Pair: pair,
			Bids: []models.PriceLevel{{Price: 100, Size: 1}},
			Asks: []models.PriceLevel{{Price: 101, Size: 1}},
		},
		updates: make(chan exchange.BookUpdate, 4),
	}

	cache := NewCache(4)
	feed := NewFeed(fx, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx.updates <- exchange.BookUpdate{
		Pair:      pair,
		Bids:      []models.PriceLevel{{Price: 100.5, Size: 2}},
		Timestamp: time.Now(),
	}
	close(fx.updates)

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, []models.Pair{pair}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("feed.Run did not return after updates channel closed")
	}

	got, ok := cache.Get(pair)
	if !ok {
		t.Fatal("expected book present after feed run")
	}
	bestBid, _ := got.BestBid()
	if bestBid.Price != 100.5 {
		t.Fatalf("expected delta to raise best bid to 100.5, got %v", bestBid.Price)
	}
}

func TestFeedResyncsOnMissingSnapshotDelta(t *testing.T) {
	pair := testPair()
	fx := &fakeExchange{
		snapshot: models.OrderBook{
			Pair: pair,
			Bids: []models.PriceLevel{{Price: 50, Size: 1}},
		},
		updates: make(chan exchange.BookUpdate, 1),
	}
	cache := NewCache(4)
	feed := NewFeed(fx, cache)

	// Simulate a delta arriving for a pair the cache has never snapshotted,
	// forcing Feed to resync via GetOrderBook.
	feed.handle(context.Background(), exchange.BookUpdate{
		Pair: pair,
		Bids: []models.PriceLevel{{Price: 60, Size: 1}},
	})

	got, ok := cache.Get(pair)
	if !ok {
		t.Fatal("expected resync to populate the cache")
	}
	bestBid, _ := got.BestBid()
	if bestBid.Price != 50 {
		t.Fatalf("expected resync snapshot value 50, got %v", bestBid.Price)
	}
}
