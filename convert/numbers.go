package convert

import (
	"math"
)

// TwoDecimals rounds to two decimal places, the precision OMIE publishes
// EUR/MWh prices with.
func TwoDecimals(number float64) float64 {
	return RoundFloat64(number, 2)
}

// OneDecimal rounds to one decimal place, used for daily MWh totals.
func OneDecimal(number float64) float64 {
	return RoundFloat64(number, 1)
}

func RoundFloat64(number float64, decimals int) float64 {
	return math.Round(number*math.Pow10(decimals)) / math.Pow10(decimals)
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func Sum(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}
