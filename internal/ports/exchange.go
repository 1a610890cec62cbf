package ports

import (
	"context"
	"time"

	"cryptoCrossBot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID     int64     // Exchange's order ID
	Symbol      string    // Symbol for the order
	AvgPrice    float64   // Average filled price, 0 when the exchange did not report fills
	ExecutedQty float64   // Quantity filled
	Status      string    // Order status (e.g., NEW, FILLED)
	Side        string    // Order side (BUY, SELL)
	Timestamp   time.Time // Transaction time reported by the exchange
}

// MarketData supplies kline series. Returned series are sorted ascending by open time.
type MarketData interface {
	// GetKlines retrieves the most recent klines for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
	// GetKlinesRange retrieves every kline between start and end.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
}

// OrderExecutor places orders and reads balances on behalf of the live loop.
type OrderExecutor interface {
	// PlaceMarketOrder places a market order for quantity units of the base asset.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*OrderResponse, error)
	// GetAccountBalance retrieves the free balance for a specific asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}

// ExchangeClient is the full exchange adapter surface.
type ExchangeClient interface {
	MarketData
	OrderExecutor
}
