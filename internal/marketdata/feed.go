package marketdata

import (
	"context"

	"github.com/svyatogor45/triarb/internal/exchange"
	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/pkg/utils"
)

// Feed drives one Cache from an exchange's WebSocket book updates: the
// single writer goroutine per pair that the Cache's concurrency model
// assumes.
type Feed struct {
	ex    exchange.Exchange
	cache *Cache
	log   *utils.Logger
}

// NewFeed builds a Feed over ex, writing into cache.
func NewFeed(ex exchange.Exchange, cache *Cache) *Feed {
	return &Feed{ex: ex, cache: cache, log: utils.L().WithComponent("marketdata")}
}

// Run seeds every pair from a REST snapshot, then subscribes to the
// WebSocket feed and applies updates until ctx is cancelled. It blocks
// until ctx is done, the update channel closes, or the subscription
// fails to even start.
func (f *Feed) Run(ctx context.Context, pairs []models.Pair) error {
	for _, pair := range pairs {
		book, err := f.ex.GetOrderBook(ctx, pair, 50)
		if err != nil {
			f.log.Warn("initial snapshot failed", utils.Symbol(pair.Symbol), utils.Err(err))
			continue
		}
		f.cache.ApplySnapshot(pair, book, 0)
	}

	updates, err := f.ex.SubscribeBooks(ctx, pairs)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			f.handle(ctx, update)
		}
	}
}

func (f *Feed) handle(ctx context.Context, update exchange.BookUpdate) {
	if update.IsSnapshot {
		f.cache.ApplySnapshot(update.Pair, models.OrderBook{
			Pair:      update.Pair,
			Bids:      update.Bids,
			Asks:      update.Asks,
			Timestamp: update.Timestamp,
		}, update.SequenceID)
	} else {
		if !f.cache.ApplyDelta(update.Pair, update.Bids, update.Asks, update.Timestamp, update.SequenceID) {
			f.resync(ctx, update.Pair)
			return
		}
	}

	if update.Checksum != 0 {
		f.cache.SetChecksum(update.Pair, update.Checksum)
		if !f.cache.Verify(update.Pair) {
			f.log.Warn("checksum mismatch, resyncing", utils.Symbol(update.Pair.Symbol))
			f.resync(ctx, update.Pair)
		}
	}
}

// resync fetches a fresh REST snapshot for one pair after a delta
// arrives with no snapshot to apply it to, or after a checksum mismatch.
func (f *Feed) resync(ctx context.Context, pair models.Pair) {
	book, err := f.ex.GetOrderBook(ctx, pair, 50)
	if err != nil {
		f.log.Warn("resync snapshot failed", utils.Symbol(pair.Symbol), utils.Err(err))
		return
	}
	f.cache.ApplySnapshot(pair, book, 0)
}
