package domain

import "time"

// Trade is an immutable ledger entry for an executed buy or sell.
type Trade struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Price     float64     `json:"price"`
	Amount    float64     `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
	Status    TradeStatus `json:"status"`
	Reason    CloseReason `json:"reason,omitempty"`   // Set on sells only
	OrderID   int64       `json:"order_id,omitempty"` // Exchange order ID, zero in backtests
}
