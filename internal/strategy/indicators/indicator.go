package indicators

import (
	"fmt"

	"cryptoCrossBot/internal/ports"
)

// Fixed periods of the auxiliary indicators.
const (
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	BollingerStdDev  = 2.0
)

// Params holds the configurable periods of the indicator engine.
type Params struct {
	ShortPeriod int // Short simple moving average window
	LongPeriod  int // Long simple moving average window
	RSIPeriod   int
}

// DefaultParams mirrors the default bot configuration.
func DefaultParams() Params {
	return Params{ShortPeriod: 20, LongPeriod: 50, RSIPeriod: 14}
}

// Validate checks that every period is positive.
func (p Params) Validate() error {
	if p.ShortPeriod <= 0 || p.LongPeriod <= 0 || p.RSIPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive (short=%d long=%d rsi=%d): %w",
			p.ShortPeriod, p.LongPeriod, p.RSIPeriod, ports.ErrInvalidRequest)
	}
	return nil
}

// Lookback is the number of leading klines whose indicators are not all defined.
// The kline at index Lookback() is the first one with every value available.
func (p Params) Lookback() int {
	n := p.ShortPeriod
	for _, v := range []int{
		p.LongPeriod,
		p.RSIPeriod, // RSI needs RSIPeriod price changes
		MACDSlowPeriod + MACDSignalPeriod - 1,
		BollingerPeriod,
	} {
		if v > n {
			n = v
		}
	}
	return n
}
