package utils

import (
	"math"
	"testing"
)

// ============================================================
// Тесты RoundToLotSize
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		// Базовые кейсы
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.123456, 0.001, 0.123},
		{"round down 2", 1.999, 0.01, 1.99},
		{"whole numbers", 100.5, 1.0, 100.0},

		// Граничные случаи
		{"zero value", 0, 0.001, 0},
		{"zero lotSize", 0.123, 0, 0.123},
		{"negative lotSize", 0.123, -0.001, 0.123},
		{"very small lotSize", 1.23456789, 0.00000001, 1.23456789},

		// BTC примеры (по ТЗ)
		{"BTC lot 0.001", 0.5, 0.001, 0.5},
		{"BTC lot 0.001 round", 0.1234, 0.001, 0.123},
		{"BTC split 4 parts", 0.25, 0.001, 0.25},

		// Большие числа
		{"large number", 12345.6789, 0.01, 12345.67},
		{"very large", 1000000.999, 1.0, 1000000.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Бенчмарки
// ============================================================

func BenchmarkRoundToLotSize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RoundToLotSize(0.123456789, 0.001)
	}
}

// ============================================================
// Вспомогательные функции
// ============================================================

const floatEpsilon = 1e-6

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatEpsilon
}
