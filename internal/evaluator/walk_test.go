package evaluator

import (
	"math"
	"testing"

	"github.com/svyatogor45/triarb/internal/models"
)

func bookFor(t *testing.T) models.OrderBook {
	t.Helper()
	return models.OrderBook{
		Bids: []models.PriceLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks: []models.PriceLevel{{Price: 101, Size: 1}, {Price: 102, Size: 2}},
	}
}

func TestWalkLegBuyWithinFirstLevel(t *testing.T) {
	book := bookFor(t)
	output, exhausted := walkLeg(book, models.ActionBuy, 50, 0)
	want := 50.0 / 101
	if math.Abs(output-want) > 1e-9 {
		t.Fatalf("output = %v, want %v", output, want)
	}
	if exhausted {
		t.Fatal("should not be exhausted spending less than one level")
	}
}

func TestWalkLegBuySpansLevelsWithFee(t *testing.T) {
	book := bookFor(t)
	// First level absorbs 101 (1 unit), remainder flows into the second.
	output, exhausted := walkLeg(book, models.ActionBuy, 101+102, 0.01)
	want := 1*(1-0.01) + 1*(1-0.01)
	if math.Abs(output-want) > 1e-9 {
		t.Fatalf("output = %v, want %v", output, want)
	}
	if exhausted {
		t.Fatal("should not be exhausted when depth covers the full input")
	}
}

func TestWalkLegBuyExhaustsBook(t *testing.T) {
	book := bookFor(t)
	totalQuote := 101.0*1 + 102.0*2 // full book capacity
	_, exhausted := walkLeg(book, models.ActionBuy, totalQuote+1000, 0)
	if !exhausted {
		t.Fatal("expected exhaustion when input exceeds total book depth")
	}
}

func TestWalkLegSellWithinFirstLevel(t *testing.T) {
	book := bookFor(t)
	output, exhausted := walkLeg(book, models.ActionSell, 0.5, 0)
	want := 0.5 * 100
	if math.Abs(output-want) > 1e-9 {
		t.Fatalf("output = %v, want %v", output, want)
	}
	if exhausted {
		t.Fatal("should not be exhausted spending less than one level")
	}
}

func TestWalkLegSellExhaustsBook(t *testing.T) {
	book := bookFor(t)
	_, exhausted := walkLeg(book, models.ActionSell, 10, 0)
	if !exhausted {
		t.Fatal("expected exhaustion when base amount exceeds total bid depth")
	}
}

func TestTotalInputDepth(t *testing.T) {
	book := bookFor(t)
	if got := totalInputDepth(book, models.ActionBuy); math.Abs(got-(101+204)) > 1e-9 {
		t.Fatalf("buy depth = %v, want %v", got, 101+204.0)
	}
	if got := totalInputDepth(book, models.ActionSell); math.Abs(got-3) > 1e-9 {
		t.Fatalf("sell depth = %v, want 3", got)
	}
}

func TestMaxInputForOutputUnboundedReturnsDepth(t *testing.T) {
	book := bookFor(t)
	got := maxInputForOutput(book, models.ActionBuy, math.Inf(1), 0)
	want := totalInputDepth(book, models.ActionBuy)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMaxInputForOutputIsInverseOfWalkLeg(t *testing.T) {
	book := bookFor(t)
	const fee = 0.001

	input := 150.0
	output, exhausted := walkLeg(book, models.ActionBuy, input, fee)
	if exhausted {
		t.Fatal("test setup should not exhaust the book")
	}

	inverted := maxInputForOutput(book, models.ActionBuy, output, fee)
	if math.Abs(inverted-input) > 1e-6 {
		t.Fatalf("maxInputForOutput(walkLeg(x)) = %v, want %v", inverted, input)
	}
}

func TestMaxInputForOutputCapsAtDepthWhenBudgetExceedsBook(t *testing.T) {
	book := bookFor(t)
	depth := totalInputDepth(book, models.ActionSell)
	got := maxInputForOutput(book, models.ActionSell, 1_000_000, 0)
	if math.Abs(got-depth) > 1e-9 {
		t.Fatalf("got %v, want depth %v", got, depth)
	}
}
