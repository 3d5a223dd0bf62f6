package utils

import (
	"math"
)

// math.go - математические утилиты для арбитражной торговли
//
// Назначение:
// Вспомогательные математические функции для торговых операций.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToLotSize: округление до lot size биржи

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Параметры:
//   - value: исходное значение (объём в монетах актива)
//   - lotSize: минимальный шаг изменения объёма на бирже
//
// Возвращает:
//   - Округлённое значение, кратное lotSize
//   - Если lotSize <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
//   - RoundToLotSize(100.5, 1.0) = 100.0
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Используем math.Floor для округления вниз
	// Это безопаснее для торговли - не превысим доступные средства
	return math.Floor(value/lotSize) * lotSize
}
