package indicators

import "math"

// SMA returns the simple moving average of values over period.
// Entries before index period-1 are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		var sum float64
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA returns the exponential moving average of values over period.
// Leading NaN entries in values are skipped; the first EMA value is the SMA of the
// first period defined values, after which alpha = 2/(period+1) is applied.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	seedIdx := start + period - 1
	if seedIdx >= len(values) {
		return out
	}

	var sum float64
	for _, v := range values[start : seedIdx+1] {
		sum += v
	}
	prev := sum / float64(period)
	out[seedIdx] = prev

	alpha := 2.0 / float64(period+1)
	for i := seedIdx + 1; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
