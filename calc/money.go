package calc

import "math"

// SlotCost returns the net grid cost in pence for one slot.
// Positive means money spent, negative means money earned.
func SlotCost(importKWh, exportKWh, importPrice, exportPrice float64) float64 {
	return importKWh*importPrice - exportKWh*exportPrice
}

func PoundsFromPence(pence float64) float64 {
	return pence / 100.0
}

func TwoDecimals(number float64) float64 {
	return RoundFloat64(number, 2)
}

func RoundFloat64(number float64, decimals int) float64 {
	return math.Round(number*math.Pow10(decimals)) / math.Pow10(decimals)
}
