package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cryptoCrossBot/config"
	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/risk"
	"cryptoCrossBot/internal/strategy/analytics"
)

// klineHistory is the minimum number of klines fetched per symbol. Wilder smoothing
// depends on the whole window, so more history keeps RSI close to a long replay.
const klineHistory = 500

// maxKlineRequest is the exchange's per-request limit.
const maxKlineRequest = 1000

// TradingService runs the live trading loop across all configured pairs.
type TradingService struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	trades   ports.TradeRepository
	notifier ports.Notifier
	risk     *risk.RiskManager
	strategy ports.Strategy
	now      func() time.Time

	mu         sync.Mutex // Protects the fields below
	lastPrices map[string]float64
	ledger     []domain.Trade
}

// Option customises a TradingService.
type Option func(*TradingService)

// WithClock replaces time.Now for trade timestamps the exchange did not report.
func WithClock(now func() time.Time) Option {
	return func(s *TradingService) {
		s.now = now
	}
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	trades ports.TradeRepository,
	notifier ports.Notifier,
	riskManager *risk.RiskManager,
	strat ports.Strategy,
	opts ...Option,
) (*TradingService, error) {
	if cfg == nil || logger == nil || exchange == nil || trades == nil || notifier == nil || riskManager == nil || strat == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService: %w", ports.ErrConfigurationError)
	}
	if len(cfg.TradingPairs) == 0 {
		return nil, fmt.Errorf("no trading pairs configured: %w", ports.ErrConfigurationError)
	}
	if cfg.LoopInterval <= 0 || cfg.RetryBackoff <= 0 {
		return nil, fmt.Errorf("loop interval and retry backoff must be positive: %w", ports.ErrConfigurationError)
	}

	s := &TradingService{
		cfg:        cfg,
		logger:     logger,
		exchange:   exchange,
		trades:     trades,
		notifier:   notifier,
		risk:       riskManager,
		strategy:   strat,
		now:        time.Now,
		lastPrices: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs trading cycles until ctx is canceled or SIGINT/SIGTERM arrives.
// A failed cycle is retried whole after the fixed retry backoff.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"pairs":     strings.Join(s.cfg.TradingPairs, ","),
		"timeframe": s.cfg.Timeframe,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange connectivity check failed")
		return fmt.Errorf("exchange ping: %w", err)
	}
	s.reportStartup(ctx)

	retry := &backoff.Backoff{Min: s.cfg.RetryBackoff, Max: s.cfg.RetryBackoff, Factor: 1}
	for {
		wait := s.cfg.LoopInterval
		if err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			wait = retry.Duration()
			s.logger.Error(ctx, err, "Trading cycle failed, retrying", map[string]interface{}{
				"attempt": retry.Attempt(),
				"retryIn": wait.String(),
			})
			s.notify(ctx, ports.Event{Type: ports.EventError, Message: "Trading cycle failed", Err: err})
		} else {
			retry.Reset()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-timer.C:
		}
	}
	s.shutdown(context.WithoutCancel(ctx))
	return nil
}

// RunCycle evaluates every pair once. Pairs run concurrently up to the configured
// limit; cancellation is observed before each pair starts and never interrupts
// an order in flight.
func (s *TradingService) RunCycle(ctx context.Context) error {
	var g errgroup.Group
	limit := s.cfg.MaxConcurrentSymbols
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	errs := make([]error, len(s.cfg.TradingPairs))
	for i, symbol := range s.cfg.TradingPairs {
		if err := ctx.Err(); err != nil {
			errs[i] = fmt.Errorf("cycle stopped before %s: %w", symbol, ports.ErrContextCanceled)
			break
		}
		g.Go(func() error {
			// Go blocks while the limit is reached, so cancellation may land in between.
			if ctx.Err() != nil {
				errs[i] = fmt.Errorf("cycle stopped before %s: %w", symbol, ports.ErrContextCanceled)
				return nil
			}
			if err := s.processSymbol(ctx, symbol); err != nil {
				errs[i] = fmt.Errorf("%s: %w", symbol, err)
			}
			return nil
		})
	}
	g.Wait()

	s.logPortfolio(ctx)
	return errors.Join(errs...)
}

// processSymbol runs the decision pipeline for one pair and acts on it.
func (s *TradingService) processSymbol(ctx context.Context, symbol string) error {
	op := "processSymbol"
	limit := min(max(s.strategy.RequiredDataPoints(), klineHistory), maxKlineRequest)

	klines, err := s.exchange.GetKlines(ctx, symbol, s.cfg.Timeframe, limit)
	if err != nil {
		return fmt.Errorf("%s fetch klines: %w", op, err)
	}
	// The exchange includes the candle still forming; decide on closed bars only,
	// as the backtest does.
	if n := len(klines); n > 0 && klines[n-1] != nil && !klines[n-1].IsFinal {
		klines = klines[:n-1]
	}
	decision, err := s.strategy.Analyze(ctx, symbol, klines)
	if errors.Is(err, ports.ErrInsufficientData) {
		s.logger.Warn(ctx, op+": not enough data, skipping symbol", map[string]interface{}{"symbol": symbol, "klines": len(klines)})
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s analyze: %w", op, err)
	}

	price := decision.Price()
	s.mu.Lock()
	s.lastPrices[symbol] = price
	s.mu.Unlock()

	if decision.Signal != domain.SignalHold {
		s.notify(ctx, ports.Event{
			Type:       ports.EventSignal,
			Symbol:     symbol,
			Signal:     decision.Signal,
			Price:      price,
			Indicators: decision.Curr.Indicators.Values(),
			Time:       decision.Curr.OpenTime,
		})
	}

	// Orders and the journal must not be torn by a shutdown once the decision is taken.
	act := context.WithoutCancel(ctx)

	if _, open := s.risk.Position(symbol); !open {
		if decision.Signal == domain.SignalBuy {
			return s.enter(act, symbol, price)
		}
		return nil
	}

	if _, err := s.risk.Update(symbol, price); err != nil {
		return fmt.Errorf("%s update position: %w", op, err)
	}
	switch {
	case decision.Signal == domain.SignalSell:
		return s.exit(act, symbol, price, domain.CloseReasonSignal)
	case s.risk.CheckStopLoss(symbol, price):
		return s.exit(act, symbol, price, domain.CloseReasonStopLoss)
	case s.risk.CheckTakeProfit(symbol, price):
		return s.exit(act, symbol, price, domain.CloseReasonTakeProfit)
	}
	return nil
}

// canTrade enforces the optional per-symbol daily trade cap.
func (s *TradingService) canTrade(ctx context.Context, symbol string) (bool, error) {
	if s.cfg.MaxDailyTrades <= 0 {
		return true, nil
	}
	count, err := s.trades.CountTodayBySymbol(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("count today's trades: %w", err)
	}
	if count >= s.cfg.MaxDailyTrades {
		s.logger.Info(ctx, "Daily trade limit reached", map[string]interface{}{"symbol": symbol, "trades": count, "limit": s.cfg.MaxDailyTrades})
		return false, nil
	}
	return true, nil
}

func (s *TradingService) formatQuantity(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).RoundDown(s.cfg.QuantityPrecision)
}

func (s *TradingService) enter(ctx context.Context, symbol string, price float64) error {
	op := "enterPosition"
	ok, err := s.canTrade(ctx, symbol)
	if err != nil || !ok {
		return err
	}

	amount, err := s.risk.PositionSize(price)
	if err != nil {
		return fmt.Errorf("%s size: %w", op, err)
	}
	qty := s.formatQuantity(amount)
	if !qty.IsPositive() {
		s.logger.Warn(ctx, op+": position size rounds to zero", map[string]interface{}{"symbol": symbol, "amount": amount})
		return nil
	}

	resp, err := s.exchange.PlaceMarketOrder(ctx, symbol, domain.Buy, qty.String())
	if err != nil {
		return fmt.Errorf("%s place order: %w", op, err)
	}
	fillPrice, filled, at := s.fill(resp, price, qty)

	pos, err := s.risk.Open(symbol, filled, fillPrice, at)
	if err != nil {
		// The order is live but untracked; this needs an operator.
		s.logger.Error(ctx, err, op+": order filled but position not tracked", map[string]interface{}{"symbol": symbol, "orderID": resp.OrderID})
		return fmt.Errorf("%s open position: %w", op, err)
	}

	trade := domain.Trade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      domain.Buy,
		Price:     fillPrice,
		Amount:    filled,
		Timestamp: at,
		Status:    domain.TradeStatusFilled,
		OrderID:   resp.OrderID,
	}
	if err := s.record(ctx, trade); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol":     symbol,
		"price":      fillPrice,
		"amount":     filled,
		"stopLoss":   pos.StopLoss,
		"takeProfit": pos.TakeProfit,
	})
	s.notify(ctx, ports.Event{Type: ports.EventTrade, Symbol: symbol, Side: domain.Buy, Price: fillPrice, Amount: filled, Time: at})
	return nil
}

func (s *TradingService) exit(ctx context.Context, symbol string, price float64, reason domain.CloseReason) error {
	op := "closePosition"
	pos, ok := s.risk.Position(symbol)
	if !ok {
		return fmt.Errorf("%s %s: %w", op, symbol, ports.ErrPositionNotFound)
	}
	qty := s.formatQuantity(pos.Amount)

	resp, err := s.exchange.PlaceMarketOrder(ctx, symbol, domain.Sell, qty.String())
	if err != nil {
		return fmt.Errorf("%s place order: %w", op, err)
	}
	fillPrice, filled, at := s.fill(resp, price, qty)

	closed, err := s.risk.Close(symbol)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	pnl := (fillPrice - closed.EntryPrice) * filled

	trade := domain.Trade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      domain.Sell,
		Price:     fillPrice,
		Amount:    filled,
		Timestamp: at,
		Status:    domain.TradeStatusFilled,
		Reason:    reason,
		OrderID:   resp.OrderID,
	}
	if err := s.record(ctx, trade); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": symbol,
		"price":  fillPrice,
		"amount": filled,
		"reason": reason,
		"pnl":    pnl,
	})

	eventType := ports.EventTrade
	switch reason {
	case domain.CloseReasonStopLoss:
		eventType = ports.EventStopLoss
	case domain.CloseReasonTakeProfit:
		eventType = ports.EventTakeProfit
	}
	s.notify(ctx, ports.Event{Type: eventType, Symbol: symbol, Side: domain.Sell, Price: fillPrice, Amount: filled, ProfitLoss: pnl, Time: at})
	return nil
}

// fill reads the executed price, quantity and time, falling back to the request.
func (s *TradingService) fill(resp *ports.OrderResponse, price float64, qty decimal.Decimal) (float64, float64, time.Time) {
	fillPrice, filled, at := price, qty.InexactFloat64(), s.now().UTC()
	if resp == nil {
		return fillPrice, filled, at
	}
	if resp.AvgPrice > 0 {
		fillPrice = resp.AvgPrice
	}
	if resp.ExecutedQty > 0 {
		filled = resp.ExecutedQty
	}
	if !resp.Timestamp.IsZero() {
		at = resp.Timestamp
	}
	return fillPrice, filled, at
}

// record appends to the session ledger and journals the trade.
func (s *TradingService) record(ctx context.Context, trade domain.Trade) error {
	s.mu.Lock()
	s.ledger = append(s.ledger, trade)
	s.mu.Unlock()

	if err := s.trades.CreateTrade(ctx, &trade); err != nil {
		s.logger.Error(ctx, err, "Failed to journal trade", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
		return fmt.Errorf("journal trade %s: %w", trade.ID, err)
	}
	return nil
}

// Trades returns a copy of the trades executed in this session.
func (s *TradingService) Trades() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.ledger...)
}

func (s *TradingService) notify(ctx context.Context, event ports.Event) {
	if event.Time.IsZero() {
		event.Time = s.now().UTC()
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn(ctx, "Notification failed", map[string]interface{}{"event": event.Type, "error": err.Error()})
	}
}

func (s *TradingService) reportStartup(ctx context.Context) {
	quote := quoteAsset(s.cfg.TradingPairs[0])
	balance, err := s.exchange.GetAccountBalance(ctx, quote)
	if err != nil {
		s.logger.Warn(ctx, "Could not read account balance", map[string]interface{}{"asset": quote, "error": err.Error()})
	} else {
		s.logger.Info(ctx, "Account balance", map[string]interface{}{"asset": quote, "free": balance})
	}
	for _, pair := range s.cfg.TradingPairs {
		recent, err := s.trades.FindBySymbol(ctx, pair, 1)
		if err != nil {
			s.logger.Warn(ctx, "Could not read trade journal", map[string]interface{}{"symbol": pair, "error": err.Error()})
			continue
		}
		if len(recent) == 0 {
			continue
		}
		last := recent[0]
		s.logger.Info(ctx, "Last journaled trade", map[string]interface{}{
			"symbol": pair,
			"side":   last.Side,
			"price":  last.Price,
			"amount": last.Amount,
			"at":     last.Timestamp,
		})
	}
	s.notify(ctx, ports.Event{
		Type:    ports.EventStatus,
		Message: fmt.Sprintf("Bot started on %s (%s), %s balance %.2f", strings.Join(s.cfg.TradingPairs, ", "), s.cfg.Timeframe, quote, balance),
	})
}

func (s *TradingService) logPortfolio(ctx context.Context) {
	s.mu.Lock()
	prices := make(map[string]float64, len(s.lastPrices))
	for k, v := range s.lastPrices {
		prices[k] = v
	}
	s.mu.Unlock()

	positions := s.risk.Positions()
	if len(positions) == 0 {
		return
	}
	s.logger.Info(ctx, "Portfolio", map[string]interface{}{
		"positions":  len(positions),
		"value":      s.risk.PortfolioValue(prices),
		"profitLoss": s.risk.PortfolioProfitLoss(prices),
	})
}

func (s *TradingService) shutdown(ctx context.Context) {
	metrics := analytics.AnalyzePerformance(s.Trades(), s.cfg.InvestmentAmount)
	s.logger.Info(ctx, "Trading Service stopped", map[string]interface{}{
		"roundTrips":    metrics.TotalTrades,
		"winRate":       metrics.WinRate,
		"realizedPnL":   metrics.TotalProfit,
		"openPositions": len(s.risk.Positions()),
	})
	s.notify(ctx, ports.Event{
		Type:    ports.EventStatus,
		Message: fmt.Sprintf("Bot stopped: %d round trips, realized P/L %.2f", metrics.TotalTrades, metrics.TotalProfit),
	})
}

func quoteAsset(symbol string) string {
	if i := strings.LastIndex(symbol, "/"); i >= 0 {
		return symbol[i+1:]
	}
	return "USDT"
}
