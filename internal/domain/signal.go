package domain

// Signal is the discrete trading decision for one symbol at one bar.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Decision is the outcome of evaluating the latest pair of ready klines.
type Decision struct {
	Symbol string
	Signal Signal
	Prev   *AugmentedKline
	Curr   *AugmentedKline
}

// Price returns the close of the bar the decision was taken on.
func (d *Decision) Price() float64 {
	if d == nil || d.Curr == nil || d.Curr.Kline == nil {
		return 0
	}
	return d.Curr.Close
}
