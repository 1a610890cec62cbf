package backtesting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/risk"
	"cryptoCrossBot/internal/strategy"
	"cryptoCrossBot/internal/strategy/indicators"
)

// CashBuffer is the share of the balance kept out of every entry.
const CashBuffer = 0.05

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	Symbol               string
	Timeframe            string
	StartTime            time.Time // Optional, defaults to the first kline
	EndTime              time.Time // Optional, defaults to the last kline
	InitialBalance       float64
	StopLossPercentage   float64
	TakeProfitPercentage float64
	Params               indicators.Params
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	Symbol               string         `json:"symbol"`
	StartTime            time.Time      `json:"start_date"`
	EndTime              time.Time      `json:"end_date"`
	Timeframe            string         `json:"timeframe"`
	InitialBalance       float64        `json:"initial_balance"`
	FinalBalance         float64        `json:"final_balance"`
	ProfitLoss           float64        `json:"profit_loss"`
	ProfitLossPercentage float64        `json:"profit_loss_percentage"`
	Trades               []domain.Trade `json:"trades"`
}

// SignalFunc evaluates a pair of consecutive ready klines.
type SignalFunc func(prev, curr *domain.AugmentedKline) (domain.Signal, error)

// Simulator replays a kline series through the signal rule and the risk manager.
type Simulator struct {
	logger ports.Logger
	signal SignalFunc
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithSignalFunc replaces the default signal rule.
func WithSignalFunc(fn SignalFunc) Option {
	return func(s *Simulator) {
		s.signal = fn
	}
}

// NewSimulator creates a simulator using the fixed backtest thresholds.
func NewSimulator(logger ports.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		logger: logger,
		signal: func(prev, curr *domain.AugmentedKline) (domain.Signal, error) {
			return strategy.CombinedSignal(prev, curr, strategy.BacktestThresholds)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is the mutable state of one replay.
type run struct {
	cfg     BacktestConfig
	risk    *risk.RiskManager
	balance float64
	trades  []domain.Trade
}

// Backtest replays klines for cfg.Symbol and returns the ledger and summary.
// The replay is deterministic: every timestamp comes from the klines.
func (s *Simulator) Backtest(ctx context.Context, klines []*domain.Kline, cfg BacktestConfig) (*BacktestResult, error) {
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance %f must be positive: %w", cfg.InitialBalance, ports.ErrInvalidRequest)
	}

	augmented, err := indicators.Augment(klines, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: %w", cfg.Symbol, err)
	}
	ready := indicators.ReadyOnly(augmented)
	if len(ready) < 2 {
		return nil, fmt.Errorf("backtest %s: %d klines with indicators: %w", cfg.Symbol, len(ready), ports.ErrInsufficientData)
	}

	rm, err := risk.NewRiskManager(risk.RiskConfig{
		PairCount:            1,
		InvestmentAmount:     cfg.InitialBalance,
		RiskPercentage:       100,
		MaxPositionSize:      cfg.InitialBalance,
		StopLossPercentage:   cfg.StopLossPercentage,
		TakeProfitPercentage: cfg.TakeProfitPercentage,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest %s: %w", cfg.Symbol, err)
	}

	r := &run{cfg: cfg, risk: rm, balance: cfg.InitialBalance}

	for i := 1; i < len(ready); i++ {
		prev, curr := ready[i-1], ready[i]
		signal, err := s.signal(prev, curr)
		if err != nil {
			return nil, fmt.Errorf("backtest %s at %s: %w", cfg.Symbol, curr.OpenTime.Format(time.RFC3339), err)
		}
		if err := s.step(ctx, r, signal, curr); err != nil {
			return nil, err
		}
	}

	last := ready[len(ready)-1]
	if _, open := rm.Position(cfg.Symbol); open {
		if err := s.exit(ctx, r, last, domain.CloseReasonEndOfTest); err != nil {
			return nil, err
		}
	}

	result := &BacktestResult{
		Symbol:         cfg.Symbol,
		StartTime:      cfg.StartTime,
		EndTime:        cfg.EndTime,
		Timeframe:      cfg.Timeframe,
		InitialBalance: cfg.InitialBalance,
		FinalBalance:   r.balance,
		ProfitLoss:     r.balance - cfg.InitialBalance,
		Trades:         r.trades,
	}
	if result.StartTime.IsZero() {
		result.StartTime = klines[0].OpenTime
	}
	if result.EndTime.IsZero() {
		result.EndTime = klines[len(klines)-1].OpenTime
	}
	if result.Trades == nil {
		result.Trades = []domain.Trade{}
	}
	result.ProfitLossPercentage = result.ProfitLoss / cfg.InitialBalance * 100

	s.logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"symbol":       cfg.Symbol,
		"trades":       len(result.Trades),
		"finalBalance": result.FinalBalance,
		"profitLoss":   result.ProfitLoss,
	})
	return result, nil
}

// step applies one bar transition. At most one entry or exit happens per bar.
func (s *Simulator) step(ctx context.Context, r *run, signal domain.Signal, curr *domain.AugmentedKline) error {
	symbol := r.cfg.Symbol
	price := curr.Close

	if _, open := r.risk.Position(symbol); !open {
		if signal == domain.SignalBuy {
			return s.enter(ctx, r, curr)
		}
		return nil
	}

	if _, err := r.risk.Update(symbol, price); err != nil {
		return err
	}

	switch {
	case signal == domain.SignalSell || curr.Indicators.RSI >= strategy.BacktestThresholds.Overbought:
		return s.exit(ctx, r, curr, domain.CloseReasonSignal)
	case r.risk.CheckStopLoss(symbol, price):
		return s.exit(ctx, r, curr, domain.CloseReasonStopLoss)
	case r.risk.CheckTakeProfit(symbol, price):
		return s.exit(ctx, r, curr, domain.CloseReasonTakeProfit)
	}
	return nil
}

func (s *Simulator) enter(ctx context.Context, r *run, curr *domain.AugmentedKline) error {
	price := curr.Close
	amount := (1 - CashBuffer) * r.balance / price
	if amount <= 0 {
		s.logger.Debug(ctx, "Skipping entry with empty balance", map[string]interface{}{"balance": r.balance})
		return nil
	}

	pos, err := r.risk.Open(r.cfg.Symbol, amount, price, curr.OpenTime)
	if err != nil {
		return fmt.Errorf("backtest enter %s: %w", r.cfg.Symbol, err)
	}
	r.balance -= pos.Cost()
	r.append(domain.Buy, price, amount, curr.OpenTime, "")

	s.logger.Debug(ctx, "Backtest entry", map[string]interface{}{
		"time":       curr.OpenTime,
		"price":      price,
		"amount":     amount,
		"stopLoss":   pos.StopLoss,
		"takeProfit": pos.TakeProfit,
	})
	return nil
}

func (s *Simulator) exit(ctx context.Context, r *run, curr *domain.AugmentedKline, reason domain.CloseReason) error {
	price := curr.Close
	pos, err := r.risk.Close(r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("backtest exit %s: %w", r.cfg.Symbol, err)
	}
	r.balance += price * pos.Amount
	r.append(domain.Sell, price, pos.Amount, curr.OpenTime, reason)

	s.logger.Debug(ctx, "Backtest exit", map[string]interface{}{
		"time":   curr.OpenTime,
		"price":  price,
		"reason": reason,
		"pnl":    (price - pos.EntryPrice) * pos.Amount,
	})
	return nil
}

func (r *run) append(side domain.OrderSide, price, amount float64, at time.Time, reason domain.CloseReason) {
	r.trades = append(r.trades, domain.Trade{
		ID:        strconv.Itoa(len(r.trades) + 1),
		Symbol:    r.cfg.Symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Timestamp: at,
		Status:    domain.TradeStatusCompleted,
		Reason:    reason,
	})
}
