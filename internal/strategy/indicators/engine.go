package indicators

import (
	"fmt"
	"math"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

// Augment computes every indicator for each kline of the series.
// The result has the same length as klines; entries before params.Lookback()
// are not Ready and carry zero for the values that are not yet defined.
func Augment(klines []*domain.Kline, params Params) ([]*domain.AugmentedKline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	lookback := params.Lookback()
	if len(klines) <= lookback {
		return nil, fmt.Errorf("have %d klines, need more than %d: %w", len(klines), lookback, ports.ErrInsufficientData)
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		if k == nil {
			return nil, fmt.Errorf("nil kline at index %d: %w", i, ports.ErrInvalidRequest)
		}
		if i > 0 && !k.OpenTime.After(klines[i-1].OpenTime) {
			return nil, fmt.Errorf("klines not strictly ascending at index %d: %w", i, ports.ErrInvalidRequest)
		}
		closes[i] = k.Close
	}

	shortMA := SMA(closes, params.ShortPeriod)
	longMA := SMA(closes, params.LongPeriod)
	rsi := RSI(closes, params.RSIPeriod)
	macd, macdSignal, macdHist := MACD(closes, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)
	bbUpper, bbMiddle, bbLower := BollingerBands(closes, BollingerPeriod, BollingerStdDev)

	out := make([]*domain.AugmentedKline, len(klines))
	for i, k := range klines {
		out[i] = &domain.AugmentedKline{
			Kline: k,
			Indicators: domain.Indicators{
				ShortMA:    orZero(shortMA[i]),
				LongMA:     orZero(longMA[i]),
				RSI:        orZero(rsi[i]),
				MACD:       orZero(macd[i]),
				MACDSignal: orZero(macdSignal[i]),
				MACDHist:   orZero(macdHist[i]),
				BBUpper:    orZero(bbUpper[i]),
				BBMiddle:   orZero(bbMiddle[i]),
				BBLower:    orZero(bbLower[i]),
			},
			Ready: i >= lookback,
		}
	}
	return out, nil
}

// ReadyOnly returns the suffix of augmented klines whose indicators are all defined.
func ReadyOnly(augmented []*domain.AugmentedKline) []*domain.AugmentedKline {
	for i, a := range augmented {
		if a.Ready {
			return augmented[i:]
		}
	}
	return nil
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
