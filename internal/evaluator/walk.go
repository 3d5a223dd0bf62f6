package evaluator

import (
	"math"

	"github.com/svyatogor45/triarb/internal/models"
)

// walkLeg simulates spending input units of the leg's FromAsset against
// the cached book, returning the resulting ToAsset output after the
// pair's taker fee. exhausted is true if the book's available depth ran
// out before input was fully spent, in which case output only reflects
// what the available levels could absorb.
func walkLeg(book models.OrderBook, action models.PathAction, input, feeRate float64) (output float64, exhausted bool) {
	remaining := input
	switch action {
	case models.ActionBuy:
		for _, lvl := range book.Asks {
			if remaining <= 0 {
				break
			}
			levelQuoteCap := lvl.Price * lvl.Size
			if remaining <= levelQuoteCap {
				output += (remaining / lvl.Price) * (1 - feeRate)
				remaining = 0
				break
			}
			output += lvl.Size * (1 - feeRate)
			remaining -= levelQuoteCap
		}
	case models.ActionSell:
		for _, lvl := range book.Bids {
			if remaining <= 0 {
				break
			}
			if remaining <= lvl.Size {
				output += remaining * lvl.Price * (1 - feeRate)
				remaining = 0
				break
			}
			output += lvl.Size * lvl.Price * (1 - feeRate)
			remaining -= lvl.Size
		}
	}
	return output, remaining > 0
}

// totalInputDepth returns the total amount of the leg's FromAsset the
// book's current depth can absorb before running out of levels.
func totalInputDepth(book models.OrderBook, action models.PathAction) float64 {
	var total float64
	switch action {
	case models.ActionBuy:
		for _, lvl := range book.Asks {
			total += lvl.Price * lvl.Size
		}
	case models.ActionSell:
		for _, lvl := range book.Bids {
			total += lvl.Size
		}
	}
	return total
}

// maxInputForOutput is the inverse of walkLeg: the largest input that
// keeps the leg's output at or below maxOutput, bounded by the book's
// actual depth when that is the tighter constraint. A non-positive or
// non-finite maxOutput is treated as unbounded.
func maxInputForOutput(book models.OrderBook, action models.PathAction, maxOutput, feeRate float64) float64 {
	if maxOutput <= 0 || math.IsInf(maxOutput, 1) {
		return totalInputDepth(book, action)
	}

	remainingOutputBudget := maxOutput
	var input float64
	switch action {
	case models.ActionBuy:
		for _, lvl := range book.Asks {
			if remainingOutputBudget <= 0 {
				return input
			}
			levelOutputFull := lvl.Size * (1 - feeRate)
			if remainingOutputBudget <= levelOutputFull {
				neededBase := remainingOutputBudget / (1 - feeRate)
				input += neededBase * lvl.Price
				return input
			}
			input += lvl.Price * lvl.Size
			remainingOutputBudget -= levelOutputFull
		}
	case models.ActionSell:
		for _, lvl := range book.Bids {
			if remainingOutputBudget <= 0 {
				return input
			}
			levelOutputFull := lvl.Size * lvl.Price * (1 - feeRate)
			if remainingOutputBudget <= levelOutputFull {
				input += remainingOutputBudget / (lvl.Price * (1 - feeRate))
				return input
			}
			input += lvl.Size
			remainingOutputBudget -= levelOutputFull
		}
	}
	// Book exhausted before the output budget was reached: depth is the
	// binding constraint, not the downstream leg's appetite.
	return input
}
