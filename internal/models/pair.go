package models

import "strings"

// Pair represents one tradeable spot pair on the exchange, e.g. BTC-USDT.
// Base and Quote are always upper-cased asset codes; Symbol is the
// exchange-facing wire form ("BASE-QUOTE").
type Pair struct {
	Base   string
	Quote  string
	Symbol string
}

// priorityAsset ranks assets so that CanonicalPair always puts the same
// asset on the base side regardless of the order callers name them in.
// Higher priority wins the base slot: BTC > ETH > stablecoins > everything
// else, with lexical order breaking remaining ties.
func priorityAsset(asset string) int {
	switch strings.ToUpper(asset) {
	case "BTC":
		return 3
	case "ETH":
		return 2
	case "USDT", "USDC":
		return 1
	default:
		return 0
	}
}

// CanonicalPair builds a Pair from two asset codes in whichever order they
// are supplied, always resolving to the same Base/Quote assignment.
//
// USDT-USDC is a fixed special case: USDT is always base, regardless of
// the priority rule, since both assets tie at priority 1 and USDT is the
// more common quote-side convention to deviate from.
func CanonicalPair(a, b string) Pair {
	a, b = strings.ToUpper(a), strings.ToUpper(b)

	if (a == "USDT" && b == "USDC") || (a == "USDC" && b == "USDT") {
		return newPair("USDT", "USDC")
	}

	pa, pb := priorityAsset(a), priorityAsset(b)
	switch {
	case pa > pb:
		return newPair(a, b)
	case pb > pa:
		return newPair(b, a)
	default:
		if a <= b {
			return newPair(a, b)
		}
		return newPair(b, a)
	}
}

func newPair(base, quote string) Pair {
	return Pair{Base: base, Quote: quote, Symbol: base + "-" + quote}
}

// Reversed swaps base and quote, keeping Symbol in sync.
func (p Pair) Reversed() Pair {
	return newPair(p.Quote, p.Base)
}

func (p Pair) String() string {
	return p.Symbol
}
