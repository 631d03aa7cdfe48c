package service

import "github.com/shopspring/decimal"

const bytesPerGB = 1024 * 1024 * 1024

// roundFloat rounds v half away from zero to places decimals
func roundFloat(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// formatFixed renders v with exactly places decimals
func formatFixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// bytesToGB converts a byte count to GB rounded to 4 decimals
func bytesToGB(b uint64) float64 {
	return decimal.NewFromInt(int64(b)).Div(decimal.NewFromInt(bytesPerGB)).Round(4).InexactFloat64()
}
