package model

import "time"

// PriceBar is a single daily close.
type PriceBar struct {
	Time  time.Time
	Close float64
}

// Closes extracts the close prices in order.
func Closes(bars []PriceBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
