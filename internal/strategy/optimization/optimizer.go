package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/strategy/analytics"
	"cryptoCrossBot/internal/strategy/backtesting"
	"cryptoCrossBot/internal/strategy/indicators"
)

// Names of the parameters the optimizer can sweep.
const (
	ParamShortMA = "short_ma"
	ParamLongMA  = "long_ma"
	ParamRSI     = "rsi_period"
)

// ParameterRange defines an inclusive integer range for a parameter to optimize
type ParameterRange struct {
	Name string
	Min  int
	Max  int
	Step int
}

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters indicators.Params
	Result     *backtesting.BacktestResult
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Backtest        backtesting.BacktestConfig // Params is the base every range overrides
	Concurrency     int                        // Defaults to GOMAXPROCS
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
}

// Optimizer sweeps indicator periods and ranks the resulting backtests.
type Optimizer struct {
	config    OptimizerConfig
	simulator *backtesting.Simulator
	logger    ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, simulator *backtesting.Simulator, logger ports.Logger) (*Optimizer, error) {
	for _, r := range config.ParameterRanges {
		switch r.Name {
		case ParamShortMA, ParamLongMA, ParamRSI:
		default:
			return nil, fmt.Errorf("unknown parameter %q: %w", r.Name, ports.ErrInvalidRequest)
		}
		if r.Step <= 0 || r.Min > r.Max || r.Min <= 0 {
			return nil, fmt.Errorf("invalid range for %s (%d..%d step %d): %w", r.Name, r.Min, r.Max, r.Step, ports.ErrInvalidRequest)
		}
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config, simulator: simulator, logger: logger}, nil
}

// Optimize backtests every parameter combination and returns the results
// sorted by descending score. Combinations with short >= long are skipped,
// as are combinations the kline series is too short for.
func (o *Optimizer) Optimize(ctx context.Context, klines []*domain.Kline) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	slots := make([]*OptimizationResult, len(combinations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)
	for i, params := range combinations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cfg := o.config.Backtest
			cfg.Params = params

			result, err := o.simulator.Backtest(gctx, klines, cfg)
			if errors.Is(err, ports.ErrInsufficientData) {
				o.logger.Debug(gctx, "Skipping combination without enough data", map[string]interface{}{
					"short": params.ShortPeriod, "long": params.LongPeriod, "rsi": params.RSIPeriod,
				})
				return nil
			}
			if err != nil {
				return fmt.Errorf("optimize %+v: %w", params, err)
			}

			metrics := analytics.AnalyzePerformance(result.Trades, cfg.InitialBalance)
			slots[i] = &OptimizationResult{
				Parameters: params,
				Result:     result,
				Metrics:    metrics,
				Score:      o.config.ScoreFunction(metrics),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]OptimizationResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	sortResultsByScore(results)

	o.logger.Info(ctx, "Optimization finished", map[string]interface{}{
		"combinations": len(combinations),
		"evaluated":    len(results),
	})
	return results, nil
}

// generateParameterCombinations expands the ranges in declaration order.
func (o *Optimizer) generateParameterCombinations() []indicators.Params {
	var combinations []indicators.Params

	var generate func(idx int, current indicators.Params)
	generate = func(idx int, current indicators.Params) {
		if idx == len(o.config.ParameterRanges) {
			if current.ShortPeriod < current.LongPeriod {
				combinations = append(combinations, current)
			}
			return
		}
		param := o.config.ParameterRanges[idx]
		for v := param.Min; v <= param.Max; v += param.Step {
			next := current
			switch param.Name {
			case ParamShortMA:
				next.ShortPeriod = v
			case ParamLongMA:
				next.LongPeriod = v
			case ParamRSI:
				next.RSIPeriod = v
			}
			generate(idx+1, next)
		}
	}

	generate(0, o.config.Backtest.Params)
	return combinations
}

// sortResultsByScore sorts by descending score; ties keep generation order.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return score(results[i]) > score(results[j])
	})
}

func score(r OptimizationResult) float64 {
	if math.IsNaN(r.Score) {
		return math.Inf(-1)
	}
	return r.Score
}

// DefaultScoreFunction provides a default scoring function for optimization
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics.TotalTrades == 0 {
		return 0
	}
	score := 0.0
	score += metrics.WinRate * 0.3
	score += math.Min(metrics.ProfitFactor, 10) * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnOnInvestment * 0.3
	return score
}
