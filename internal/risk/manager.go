package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	PairCount            int     // Number of tracked symbols sharing the investment
	InvestmentAmount     float64 // Quote currency available to the bot
	RiskPercentage       float64 // Share of the investment put at risk, in percent
	MaxPositionSize      float64 // Cap on the quote value of one position
	StopLossPercentage   float64 // e.g. 5 for 5%
	TakeProfitPercentage float64 // e.g. 10 for 10%
}

// Validate rejects configurations that would make sizing or exit levels meaningless.
func (c RiskConfig) Validate() error {
	var problems []string
	if c.PairCount <= 0 {
		problems = append(problems, "pair count must be positive")
	}
	if c.InvestmentAmount <= 0 {
		problems = append(problems, "investment amount must be positive")
	}
	if c.RiskPercentage <= 0 || c.RiskPercentage > 100 {
		problems = append(problems, "risk percentage must be in (0, 100]")
	}
	if c.MaxPositionSize <= 0 {
		problems = append(problems, "max position size must be positive")
	}
	if c.StopLossPercentage <= 0 || c.StopLossPercentage >= 100 {
		problems = append(problems, "stop loss percentage must be in (0, 100)")
	}
	if c.TakeProfitPercentage <= 0 {
		problems = append(problems, "take profit percentage must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("risk config: %v: %w", problems, ports.ErrConfigurationError)
	}
	return nil
}

// RiskManager owns the open position of every symbol.
// It is safe for concurrent use; callers keep a single writer per symbol.
type RiskManager struct {
	config RiskConfig

	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) (*RiskManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RiskManager{
		config:    config,
		positions: make(map[string]*domain.Position),
	}, nil
}

// PositionSize returns the base-asset amount to buy at price:
// min(investment * risk% / pairs, maxPositionSize) / price.
func (r *RiskManager) PositionSize(price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price %f must be positive: %w", price, ports.ErrInvalidRequest)
	}
	riskAmount := r.config.InvestmentAmount * r.config.RiskPercentage / 100 / float64(r.config.PairCount)
	return math.Min(riskAmount, r.config.MaxPositionSize) / price, nil
}

// StopLossPrice returns the stop-loss level for an entry price.
func (r *RiskManager) StopLossPrice(entryPrice float64) float64 {
	return entryPrice * (1 - r.config.StopLossPercentage/100)
}

// TakeProfitPrice returns the take-profit level for an entry price.
func (r *RiskManager) TakeProfitPrice(entryPrice float64) float64 {
	return entryPrice * (1 + r.config.TakeProfitPercentage/100)
}

// Open creates a position for symbol. It fails with ErrDuplicatePosition when one exists.
func (r *RiskManager) Open(symbol string, amount, entryPrice float64, at time.Time) (domain.Position, error) {
	if amount <= 0 || entryPrice <= 0 {
		return domain.Position{}, fmt.Errorf("open %s: amount %f and entry price %f must be positive: %w",
			symbol, amount, entryPrice, ports.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.positions[symbol]; exists {
		return domain.Position{}, fmt.Errorf("open %s: %w", symbol, ports.ErrDuplicatePosition)
	}

	pos := &domain.Position{
		Symbol:       symbol,
		Amount:       amount,
		EntryPrice:   entryPrice,
		StopLoss:     r.StopLossPrice(entryPrice),
		TakeProfit:   r.TakeProfitPrice(entryPrice),
		CurrentPrice: entryPrice,
		EntryTime:    at,
	}
	r.positions[symbol] = pos
	return *pos, nil
}

// Update marks the position of symbol to price and recomputes its profit/loss.
func (r *RiskManager) Update(symbol string, price float64) (domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("update %s: %w", symbol, ports.ErrPositionNotFound)
	}
	pos.CurrentPrice = price
	pos.ProfitLoss = (price - pos.EntryPrice) * pos.Amount
	pos.ProfitLossPercentage = (price/pos.EntryPrice - 1) * 100
	return *pos, nil
}

// CheckStopLoss reports whether price is at or below the stop-loss of symbol.
// It is false when no position is open.
func (r *RiskManager) CheckStopLoss(symbol string, price float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[symbol]
	return ok && price <= pos.StopLoss
}

// CheckTakeProfit reports whether price is at or above the take-profit of symbol.
func (r *RiskManager) CheckTakeProfit(symbol string, price float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[symbol]
	return ok && price >= pos.TakeProfit
}

// Close removes and returns the position of symbol.
func (r *RiskManager) Close(symbol string) (domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("close %s: %w", symbol, ports.ErrPositionNotFound)
	}
	delete(r.positions, symbol)
	return *pos, nil
}

// Position returns a copy of the open position of symbol.
func (r *RiskManager) Position(symbol string) (domain.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions sorted by symbol.
func (r *RiskManager) Positions() []domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Position, 0, len(r.positions))
	for _, pos := range r.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PortfolioValue sums amount*price over open positions. Symbols missing from
// prices are valued at their last known price.
func (r *RiskManager) PortfolioValue(prices map[string]float64) float64 {
	var total float64
	for _, pos := range r.Positions() {
		total += pos.Amount * priceFor(pos, prices)
	}
	return total
}

// PortfolioProfitLoss sums unrealized profit/loss over open positions.
func (r *RiskManager) PortfolioProfitLoss(prices map[string]float64) float64 {
	var total float64
	for _, pos := range r.Positions() {
		total += (priceFor(pos, prices) - pos.EntryPrice) * pos.Amount
	}
	return total
}

func priceFor(pos domain.Position, prices map[string]float64) float64 {
	if p, ok := prices[pos.Symbol]; ok {
		return p
	}
	return pos.CurrentPrice
}
