package indicators

import "math"

// MACD returns the MACD line (EMA fast - EMA slow), its signal EMA and the histogram.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist []float64) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	line = nanSeries(len(values))
	for i := range values {
		if !math.IsNaN(fastEMA[i]) && !math.IsNaN(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	sig = EMA(line, signal)
	hist = nanSeries(len(values))
	for i := range values {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return line, sig, hist
}
