package strategy

import (
	"context"
	"fmt"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/strategy/indicators"
)

// Thresholds are the RSI levels used by the combined signal rule.
type Thresholds struct {
	BuyLower   float64 // Inclusive lower bound of the buy band
	BuyUpper   float64 // Inclusive upper bound of the buy band
	Overbought float64 // RSI at or above this level fires a sell
}

// BacktestThresholds are the fixed levels applied by the backtest simulator.
var BacktestThresholds = Thresholds{BuyLower: 30, BuyUpper: 50, Overbought: 70}

// Validate checks the bands are ordered and inside [0, 100].
func (t Thresholds) Validate() error {
	if t.BuyLower < 0 || t.BuyLower > t.BuyUpper || t.BuyUpper > 100 || t.Overbought > 100 || t.Overbought <= 0 {
		return fmt.Errorf("invalid RSI thresholds %+v: %w", t, ports.ErrConfigurationError)
	}
	return nil
}

// CombinedSignal applies the crossover-with-confirmation rule to two consecutive klines.
//
// Buy needs a bullish crossover and RSI inside the buy band. Sell fires on a bearish
// crossover or on RSI at or above Overbought. Buy is checked first.
func CombinedSignal(prev, curr *domain.AugmentedKline, th Thresholds) (domain.Signal, error) {
	if prev == nil || curr == nil || !prev.Ready || !curr.Ready {
		return domain.SignalHold, fmt.Errorf("indicators not available for signal evaluation: %w", ports.ErrInsufficientData)
	}
	p, c := prev.Indicators, curr.Indicators

	bullishCross := p.ShortMA <= p.LongMA && c.ShortMA > c.LongMA
	if bullishCross && c.RSI >= th.BuyLower && c.RSI <= th.BuyUpper {
		return domain.SignalBuy, nil
	}

	bearishCross := p.ShortMA >= p.LongMA && c.ShortMA < c.LongMA
	if bearishCross || c.RSI >= th.Overbought {
		return domain.SignalSell, nil
	}
	return domain.SignalHold, nil
}

// Config holds parameters for the live trading strategy.
type Config struct {
	Params     indicators.Params
	Thresholds Thresholds
}

// Strategy runs the indicator engine and the signal rule for the live loop.
type Strategy struct {
	cfg    Config
	logger ports.Logger
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Params.ShortPeriod >= cfg.Params.LongPeriod {
		return nil, fmt.Errorf("short MA period must be less than long MA period: %w", ports.ErrConfigurationError)
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: cfg, logger: logger}, nil
}

// RequiredDataPoints is the lookback plus the two bars a signal is evaluated on.
func (s *Strategy) RequiredDataPoints() int {
	return s.cfg.Params.Lookback() + 2
}

// Analyze computes indicators for klines and evaluates the last two ready bars.
func (s *Strategy) Analyze(ctx context.Context, symbol string, klines []*domain.Kline) (*domain.Decision, error) {
	augmented, err := indicators.Augment(klines, s.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", symbol, err)
	}
	ready := indicators.ReadyOnly(augmented)
	if len(ready) < 2 {
		return nil, fmt.Errorf("analyze %s: %d ready klines: %w", symbol, len(ready), ports.ErrInsufficientData)
	}

	prev, curr := ready[len(ready)-2], ready[len(ready)-1]
	signal, err := CombinedSignal(prev, curr, s.cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", symbol, err)
	}

	s.logger.Debug(ctx, "Signal evaluated", map[string]interface{}{
		"symbol":  symbol,
		"signal":  signal,
		"close":   curr.Close,
		"shortMA": curr.Indicators.ShortMA,
		"longMA":  curr.Indicators.LongMA,
		"rsi":     curr.Indicators.RSI,
	})

	return &domain.Decision{Symbol: symbol, Signal: signal, Prev: prev, Curr: curr}, nil
}
