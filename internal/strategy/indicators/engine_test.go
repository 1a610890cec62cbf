package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeKlines(closes []float64) []*domain.Kline {
	klines := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		open := baseTime.Add(time.Duration(i) * 15 * time.Minute)
		klines[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(15*time.Minute - time.Millisecond),
			Symbol:    "BTC/USDT",
			Interval:  "15m",
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
			IsFinal:   true,
		}
	}
	return klines
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestParams_Lookback(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   int
	}{
		{"defaults dominated by long MA", DefaultParams(), 50},
		{"short periods dominated by MACD signal", Params{ShortPeriod: 5, LongPeriod: 10, RSIPeriod: 14}, 34},
		{"large RSI", Params{ShortPeriod: 5, LongPeriod: 10, RSIPeriod: 60}, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Lookback())
		})
	}
}

func TestAugment(t *testing.T) {
	params := Params{ShortPeriod: 5, LongPeriod: 10, RSIPeriod: 14}
	klines := makeKlines(ramp(40))

	augmented, err := Augment(klines, params)
	require.NoError(t, err)
	require.Len(t, augmented, len(klines))

	for i, a := range augmented {
		assert.Same(t, klines[i], a.Kline)
		assert.Equal(t, i >= params.Lookback(), a.Ready, "index %d", i)
	}

	last := augmented[len(augmented)-1]
	assert.InDelta(t, 137, last.Indicators.ShortMA, tolerance)
	assert.InDelta(t, 134.5, last.Indicators.LongMA, tolerance)
	assert.InDelta(t, 100, last.Indicators.RSI, tolerance)
	assert.InDelta(t, 129.5, last.Indicators.BBMiddle, tolerance)
	assert.Greater(t, last.Indicators.MACD, 0.0)

	ready := ReadyOnly(augmented)
	assert.Len(t, ready, len(klines)-params.Lookback())
}

func TestAugment_FirstBarsUndefined(t *testing.T) {
	params := DefaultParams()
	augmented, err := Augment(makeKlines(ramp(80)), params)
	require.NoError(t, err)

	maxPeriod := params.LongPeriod
	for i := 0; i < maxPeriod; i++ {
		assert.False(t, augmented[i].Ready, "index %d", i)
	}
}

func TestAugment_Errors(t *testing.T) {
	params := Params{ShortPeriod: 5, LongPeriod: 10, RSIPeriod: 14}

	_, err := Augment(makeKlines(ramp(params.Lookback())), params)
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	_, err = Augment(makeKlines(ramp(40)), Params{ShortPeriod: 0, LongPeriod: 10, RSIPeriod: 14})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	unsorted := makeKlines(ramp(40))
	unsorted[10], unsorted[11] = unsorted[11], unsorted[10]
	_, err = Augment(unsorted, params)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestAugment_Deterministic(t *testing.T) {
	params := Params{ShortPeriod: 3, LongPeriod: 7, RSIPeriod: 5}
	closes := []float64{}
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i%7)-float64(i%3)*1.5)
	}
	a, err := Augment(makeKlines(closes), params)
	require.NoError(t, err)
	b, err := Augment(makeKlines(closes), params)
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].Indicators, b[i].Indicators)
	}
}

func TestReadyOnly_NoneReady(t *testing.T) {
	assert.Nil(t, ReadyOnly([]*domain.AugmentedKline{{Ready: false}}))
}
