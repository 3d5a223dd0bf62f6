package models

import "time"

// PriceLevel is a single (price, size) row of an order book side. Size is
// denominated in the pair's base asset.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a point-in-time snapshot of one pair's book. Bids are sorted
// descending by price, Asks ascending, matching exchange wire convention.
type OrderBook struct {
	Pair      Pair
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time

	// SequenceID is the exchange-assigned update sequence. It is carried
	// for reference only: nothing compares consecutive sequence numbers,
	// so a missed delta shows up only as a checksum mismatch.
	SequenceID int64

	// Checksum is the exchange-reported book checksum, when the feed
	// provides one. Zero means unverified.
	Checksum int32
}

// BestBid returns the highest bid level, or the zero level and false if
// the book has no bids.
func (ob OrderBook) BestBid() (PriceLevel, bool) {
	if len(ob.Bids) == 0 {
		return PriceLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask level, or the zero level and false if
// the book has no asks.
func (ob OrderBook) BestAsk() (PriceLevel, bool) {
	if len(ob.Asks) == 0 {
		return PriceLevel{}, false
	}
	return ob.Asks[0], true
}

// Spread returns BestAsk - BestBid, or 0 if either side is empty.
func (ob OrderBook) Spread() float64 {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return ask.Price - bid.Price
}

// MidPrice returns the average of best bid and best ask, or 0 if either
// side is empty.
func (ob OrderBook) MidPrice() float64 {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// IsCrossed reports whether the best bid is at or above the best ask,
// which signals a corrupt or stale book that must not be traded against.
func (ob OrderBook) IsCrossed() bool {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return false
	}
	return bid.Price >= ask.Price
}

// IsValid reports whether the book has at least one level on each side,
// is not crossed, and carries no non-positive price or size.
func (ob OrderBook) IsValid() bool {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return false
	}
	if ob.IsCrossed() {
		return false
	}
	for _, lvl := range ob.Bids {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			return false
		}
	}
	for _, lvl := range ob.Asks {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			return false
		}
	}
	return true
}

// Age returns how long ago this snapshot was taken, relative to now.
func (ob OrderBook) Age(now time.Time) time.Duration {
	return now.Sub(ob.Timestamp)
}

// Depth returns the cumulative base-asset size available across the
// first n levels of the requested side.
func (ob OrderBook) Depth(side PathAction, n int) float64 {
	levels := ob.Asks
	if side == ActionSell {
		levels = ob.Bids
	}
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for i := 0; i < n; i++ {
		total += levels[i].Size
	}
	return total
}
