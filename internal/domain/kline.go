package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "15m", "1h")
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // False while the interval is still open; the live loop drops such a trailing bar
}

// Indicators carries the values computed for one kline.
type Indicators struct {
	ShortMA    float64
	LongMA     float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
}

// Values returns the indicators keyed by their display name.
func (i Indicators) Values() map[string]float64 {
	return map[string]float64{
		"sma_short":   i.ShortMA,
		"sma_long":    i.LongMA,
		"rsi":         i.RSI,
		"macd":        i.MACD,
		"macd_signal": i.MACDSignal,
		"macd_hist":   i.MACDHist,
		"bb_upper":    i.BBUpper,
		"bb_middle":   i.BBMiddle,
		"bb_lower":    i.BBLower,
	}
}

// AugmentedKline is a kline together with its indicator values.
// Ready is false until every indicator lookback has been satisfied.
type AugmentedKline struct {
	*Kline
	Indicators Indicators
	Ready      bool
}
