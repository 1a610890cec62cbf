package indicators

import "math"

// BollingerBands returns upper, middle and lower bands over period using the
// population standard deviation.
func BollingerBands(values []float64, period int, k float64) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	upper = nanSeries(len(values))
	lower = nanSeries(len(values))

	for i := period - 1; i >= 0 && i < len(values); i++ {
		mean := middle[i]
		var variance float64
		for _, v := range values[i-period+1 : i+1] {
			variance += (v - mean) * (v - mean)
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return upper, middle, lower
}
