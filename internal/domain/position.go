package domain

import "time"

// Position represents an open holding in one symbol.
type Position struct {
	Symbol               string
	Amount               float64
	EntryPrice           float64
	StopLoss             float64 // Price level that forces an exit on the downside
	TakeProfit           float64 // Price level that forces an exit on the upside
	CurrentPrice         float64
	ProfitLoss           float64 // Unrealized, in quote currency
	ProfitLossPercentage float64
	EntryTime            time.Time
}

// Cost is the quote amount paid to open the position.
func (p Position) Cost() float64 {
	return p.EntryPrice * p.Amount
}
