package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// TradeStatus is the status recorded on a ledger entry when it was appended.
type TradeStatus string

const (
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFilled    TradeStatus = "filled"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonSignal     CloseReason = "SIGNAL"
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonEndOfTest  CloseReason = "END_OF_BACKTEST"
)
