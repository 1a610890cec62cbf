package ports

import (
	"context"

	"cryptoCrossBot/internal/domain"
)

// Strategy turns a kline series into a trading decision.
type Strategy interface {
	// RequiredDataPoints returns the number of klines to fetch so that two ready bars exist.
	RequiredDataPoints() int

	// Analyze evaluates the last two ready klines of the series.
	// Returns ErrInsufficientData when the series is too short.
	Analyze(ctx context.Context, symbol string, klines []*domain.Kline) (*domain.Decision, error)
}
