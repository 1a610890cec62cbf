package ports

import (
	"context"

	"cryptoCrossBot/internal/domain"
)

// TradeRepository journals trades executed by the live loop.
type TradeRepository interface {
	// CreateTrade saves a new trade record. Trade IDs are assigned by the caller.
	CreateTrade(ctx context.Context, trade *domain.Trade) error
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// CountTodayBySymbol counts the trades executed today for a given symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
}
