// Package exchange adapts the engine's domain types to a single
// centralized exchange's REST and WebSocket surface.
package exchange

import (
	"context"
	"time"

	"github.com/svyatogor45/triarb/internal/models"
)

// Exchange is the engine's view of one exchange account: balances,
// order books, and order placement. A single concrete implementation
// (OKX) is wired in production; tests substitute a fake.
type Exchange interface {
	Name() string

	// GetBalance returns free balances for every asset the account holds.
	GetBalance(ctx context.Context) (models.Portfolio, error)

	// GetOrderBook fetches a REST snapshot of one pair's book, used to
	// (re)seed the WebSocket feed's local cache after a gap or at
	// startup.
	GetOrderBook(ctx context.Context, pair models.Pair, depth int) (models.OrderBook, error)

	// PlaceOrder submits a limit order and returns the exchange order ID.
	// Spot trading only: qty is always denominated in the pair's base
	// asset, regardless of side.
	PlaceOrder(ctx context.Context, pair models.Pair, side models.PathAction, price, qty float64) (string, error)

	// GetOrderStatus polls one order's current fill state.
	GetOrderStatus(ctx context.Context, pair models.Pair, orderID string) (OrderStatus, error)

	// CancelOrder cancels a resting order. Calling it on an order that
	// has already filled or already been cancelled is not an error.
	CancelOrder(ctx context.Context, pair models.Pair, orderID string) error

	// SubscribeBooks opens (or reuses) the exchange's WebSocket feed and
	// streams book updates for the given pairs until ctx is cancelled.
	SubscribeBooks(ctx context.Context, pairs []models.Pair) (<-chan BookUpdate, error)

	// TakerFee returns the taker fee rate for a pair, as a fraction.
	TakerFee(pair models.Pair) float64
}

// OrderStatus is the polled state of a placed order.
type OrderStatus struct {
	OrderID      string
	Status       models.OrderStatus
	FilledSize   float64
	AvgFillPrice float64
	Fee          float64
}

// BookUpdate is one message off the WebSocket feed: either a full
// snapshot or an incremental delta against the previously delivered
// state for Pair. Bids/Asks carry only the changed levels for a delta;
// a level with Size == 0 means "remove this price". Checksum is the
// exchange-reported CRC32 checksum over the top levels after this update
// is applied, or 0 if the feed does not provide one.
type BookUpdate struct {
	Pair       models.Pair
	Bids       []models.PriceLevel
	Asks       []models.PriceLevel
	Timestamp  time.Time
	SequenceID int64
	Checksum   int32
	IsSnapshot bool
}
