// Package marketdata maintains the local order-book cache fed by the
// exchange's WebSocket feed: snapshot+delta fusion, staleness budgets,
// and checksum validation. Crossed books are stored as they arrive;
// readers detect them with OrderBook.IsValid.
package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/svyatogor45/triarb/internal/models"
)

// fnvOffset32 and fnvPrime32 are the FNV-1a constants for a 32-bit hash.
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash computes an allocation-free FNV-1a hash of s, used to shard
// the cache by pair symbol so unrelated pairs never contend on the same
// lock.
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// Cache is a sharded, single-writer-per-pair store of the latest known
// order book for every subscribed pair. The feed handler goroutine is
// the only writer for a given pair; Evaluate and other readers only
// ever read a fully-formed OrderBook value via Get.
type Cache struct {
	shards    []*shard
	numShards uint32
}

type shard struct {
	mu     sync.RWMutex
	books  map[string]*bookEntry
}

type bookEntry struct {
	book       models.OrderBook
	lastSeqID  int64
	haveSnapshot bool
}

// NewCache builds a sharded cache. numShards defaults to 16 when <= 0.
func NewCache(numShards int) *Cache {
	if numShards <= 0 {
		numShards = 16
	}
	c := &Cache{shards: make([]*shard, numShards), numShards: uint32(numShards)}
	for i := range c.shards {
		c.shards[i] = &shard{books: make(map[string]*bookEntry)}
	}
	return c
}

func (c *Cache) shardFor(symbol string) *shard {
	return c.shards[fnvHash(symbol)%c.numShards]
}

// Get returns the current cached book for a pair and whether one exists.
func (c *Cache) Get(pair models.Pair) (models.OrderBook, bool) {
	sh := c.shardFor(pair.Symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	entry, ok := sh.books[pair.Symbol]
	if !ok {
		return models.OrderBook{}, false
	}
	return entry.book, true
}

// ApplySnapshot installs a full book snapshot, replacing any prior state
// for the pair. Used at startup and whenever the feed resyncs a pair (a
// delta for a pair with no snapshot, or a checksum mismatch); sequence
// numbers are stored but never checked for gaps.
func (c *Cache) ApplySnapshot(pair models.Pair, book models.OrderBook, seqID int64) {
	sh := c.shardFor(pair.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sortBook(&book)
	sh.books[pair.Symbol] = &bookEntry{book: book, lastSeqID: seqID, haveSnapshot: true}
}

// ApplyDelta merges incremental bid/ask level changes onto the cached
// book. A level with Size == 0 removes that price. Returns false,
// meaning the caller should request a fresh snapshot, if no snapshot has
// been applied yet for this pair.
func (c *Cache) ApplyDelta(pair models.Pair, bids, asks []models.PriceLevel, ts time.Time, seqID int64) bool {
	sh := c.shardFor(pair.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.books[pair.Symbol]
	if !ok || !entry.haveSnapshot {
		return false
	}

	entry.book.Bids = mergeLevels(entry.book.Bids, bids, true)
	entry.book.Asks = mergeLevels(entry.book.Asks, asks, false)
	entry.book.Timestamp = ts
	entry.lastSeqID = seqID
	return true
}

// SetChecksum records the exchange-reported checksum for a pair's
// current state, so Verify can compare it against the locally computed
// value.
func (c *Cache) SetChecksum(pair models.Pair, checksum int32) {
	sh := c.shardFor(pair.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if entry, ok := sh.books[pair.Symbol]; ok {
		entry.book.Checksum = checksum
	}
}

// Verify reports whether the pair's locally computed checksum matches
// the exchange-reported one last recorded via SetChecksum. A mismatch
// means the local book has drifted and must be re-seeded from a
// snapshot.
func (c *Cache) Verify(pair models.Pair) bool {
	book, ok := c.Get(pair)
	if !ok || book.Checksum == 0 {
		return true
	}
	return Checksum(book) == book.Checksum
}

// Fresh reports whether the pair's cached book is within budget of now.
func (c *Cache) Fresh(pair models.Pair, now time.Time, budget time.Duration) bool {
	book, ok := c.Get(pair)
	if !ok {
		return false
	}
	return book.Age(now) <= budget
}

// mergeLevels applies changed levels onto an existing sorted side.
// descending controls sort order: true for bids (highest first), false
// for asks (lowest first).
func mergeLevels(existing, changes []models.PriceLevel, descending bool) []models.PriceLevel {
	byPrice := make(map[float64]float64, len(existing))
	for _, lvl := range existing {
		byPrice[lvl.Price] = lvl.Size
	}
	for _, lvl := range changes {
		if lvl.Size == 0 {
			delete(byPrice, lvl.Price)
			continue
		}
		byPrice[lvl.Price] = lvl.Size
	}

	out := make([]models.PriceLevel, 0, len(byPrice))
	for price, size := range byPrice {
		out = append(out, models.PriceLevel{Price: price, Size: size})
	}
	if descending {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	}
	return out
}

func sortBook(book *models.OrderBook) {
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
}
