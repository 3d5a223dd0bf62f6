package marketdata

import (
	"fmt"
	"hash/crc32"

	"github.com/svyatogor45/triarb/internal/models"
)

// checksumDepth is the number of levels per side folded into the
// checksum, matching the exchange's own top-25 convention.
const checksumDepth = 25

// Checksum computes the exchange-style order book integrity check:
// CRC32 of up to 25 bid/ask level pairs, interleaved bid, ask, bid,
// ask..., each formatted as "price:size", joined with colons.
//
// A mismatch against the exchange-reported checksum means a delta was
// missed or misapplied and the book must be re-seeded from a snapshot.
func Checksum(book models.OrderBook) int32 {
	parts := make([]string, 0, 2*checksumDepth)
	for i := 0; i < checksumDepth; i++ {
		if i < len(book.Bids) {
			parts = append(parts, levelString(book.Bids[i]))
		}
		if i < len(book.Asks) {
			parts = append(parts, levelString(book.Asks[i]))
		}
	}

	joined := join(parts)
	return int32(crc32.ChecksumIEEE([]byte(joined)))
}

func levelString(lvl models.PriceLevel) string {
	return fmt.Sprintf("%s:%s", trimFloat(lvl.Price), trimFloat(lvl.Size))
}

// trimFloat formats a float without trailing zeros, matching the
// exchange's wire representation closely enough for checksum purposes.
func trimFloat(f float64) string {
	s := fmt.Sprintf("%.8f", f)
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}
