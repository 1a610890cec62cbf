package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoCrossBot/config"
	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/risk"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type placedOrder struct {
	symbol   string
	side     domain.OrderSide
	quantity string
}

type mockExchange struct {
	mu        sync.Mutex
	pingErr   error
	klinesErr map[string]error
	orderErr  error
	fills     map[domain.OrderSide]*ports.OrderResponse
	orders    []placedOrder
	klines    []*domain.Kline
}

func (m *mockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	if err := m.klinesErr[symbol]; err != nil {
		return nil, err
	}
	if m.klines != nil {
		return m.klines, nil
	}
	return make([]*domain.Kline, limit), nil
}

func (m *mockExchange) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	return nil, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.orders = append(m.orders, placedOrder{symbol: symbol, side: side, quantity: quantity})
	if resp, ok := m.fills[side]; ok {
		return resp, nil
	}
	return &ports.OrderResponse{OrderID: int64(len(m.orders)), Symbol: symbol, Status: "FILLED"}, nil
}

func (m *mockExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return 1000.0, nil // Default test balance
}

func (m *mockExchange) Ping(ctx context.Context) error {
	return m.pingErr
}

type mockRepo struct {
	mu        sync.Mutex
	trades    []domain.Trade
	createErr error
	today     int
	recent    map[string][]*domain.Trade
	findErr   error
}

func (m *mockRepo) CreateTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.trades = append(m.trades, *trade)
	return nil
}

func (m *mockRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	trades := m.recent[symbol]
	if len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (m *mockRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return m.today, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	err    error
	events []ports.Event
}

func (m *mockNotifier) Notify(ctx context.Context, event ports.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockNotifier) types() []ports.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.EventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// mockStrategy returns a scripted decision per symbol.
type mockStrategy struct {
	mu        sync.Mutex
	decisions map[string]*domain.Decision
	errs      map[string]error
	onAnalyze func()
	received  map[string][]*domain.Kline
}

func (m *mockStrategy) RequiredDataPoints() int {
	return 10
}

func (m *mockStrategy) Analyze(ctx context.Context, symbol string, klines []*domain.Kline) (*domain.Decision, error) {
	if m.onAnalyze != nil {
		m.onAnalyze()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.received == nil {
		m.received = make(map[string][]*domain.Kline)
	}
	m.received[symbol] = klines
	if err := m.errs[symbol]; err != nil {
		return nil, err
	}
	if d, ok := m.decisions[symbol]; ok {
		return d, nil
	}
	return decision(symbol, domain.SignalHold, 100), nil
}

func (m *mockStrategy) set(symbol string, signal domain.Signal, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisions == nil {
		m.decisions = make(map[string]*domain.Decision)
	}
	m.decisions[symbol] = decision(symbol, signal, price)
}

func decision(symbol string, signal domain.Signal, price float64) *domain.Decision {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	bar := func(open time.Time) *domain.AugmentedKline {
		return &domain.AugmentedKline{
			Kline:      &domain.Kline{Symbol: symbol, OpenTime: open, Close: price},
			Indicators: domain.Indicators{RSI: 55},
			Ready:      true,
		}
	}
	return &domain.Decision{Symbol: symbol, Signal: signal, Prev: bar(at.Add(-15 * time.Minute)), Curr: bar(at)}
}

// Test helpers
var testNow = time.Date(2024, 1, 1, 12, 5, 0, 0, time.UTC)

func createTestConfig(pairs ...string) *config.Config {
	if len(pairs) == 0 {
		pairs = []string{"BTC/USDT"}
	}
	return &config.Config{
		TradingPairs:         pairs,
		InvestmentAmount:     100,
		RiskPercentage:       50,
		MaxPositionSize:      10,
		StopLossPercentage:   5,
		TakeProfitPercentage: 10,
		Timeframe:            "15m",
		LoopInterval:         time.Hour,
		RetryBackoff:         time.Hour,
		MaxConcurrentSymbols: 2,
		QuantityPrecision:    6,
	}
}

type fixture struct {
	cfg      *config.Config
	logger   *mockLogger
	exchange *mockExchange
	repo     *mockRepo
	notifier *mockNotifier
	risk     *risk.RiskManager
	strategy *mockStrategy
	service  *TradingService
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	rm, err := risk.NewRiskManager(cfg.RiskConfig())
	require.NoError(t, err)

	f := &fixture{
		cfg:      cfg,
		logger:   &mockLogger{},
		exchange: &mockExchange{},
		repo:     &mockRepo{},
		notifier: &mockNotifier{},
		risk:     rm,
		strategy: &mockStrategy{},
	}
	f.service, err = NewTradingService(cfg, f.logger, f.exchange, f.repo, f.notifier, f.risk, f.strategy,
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return f
}

func TestNewTradingService(t *testing.T) {
	cfg := createTestConfig()
	rm, err := risk.NewRiskManager(cfg.RiskConfig())
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func() (*TradingService, error)
	}{
		{
			name: "missing exchange",
			build: func() (*TradingService, error) {
				return NewTradingService(cfg, &mockLogger{}, nil, &mockRepo{}, &mockNotifier{}, rm, &mockStrategy{})
			},
		},
		{
			name: "missing strategy",
			build: func() (*TradingService, error) {
				return NewTradingService(cfg, &mockLogger{}, &mockExchange{}, &mockRepo{}, &mockNotifier{}, rm, nil)
			},
		},
		{
			name: "no pairs",
			build: func() (*TradingService, error) {
				c := *cfg
				c.TradingPairs = nil
				return NewTradingService(&c, &mockLogger{}, &mockExchange{}, &mockRepo{}, &mockNotifier{}, rm, &mockStrategy{})
			},
		},
		{
			name: "zero loop interval",
			build: func() (*TradingService, error) {
				c := *cfg
				c.LoopInterval = 0
				return NewTradingService(&c, &mockLogger{}, &mockExchange{}, &mockRepo{}, &mockNotifier{}, rm, &mockStrategy{})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := tt.build()
			assert.Nil(t, svc)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestRunCycle_BuySignalOpensPosition(t *testing.T) {
	f := newFixture(t, createTestConfig())
	f.strategy.set("BTC/USDT", domain.SignalBuy, 100)
	f.exchange.fills = map[domain.OrderSide]*ports.OrderResponse{
		domain.Buy: {OrderID: 7, AvgPrice: 100.5, ExecutedQty: 0.1, Status: "FILLED"},
	}

	require.NoError(t, f.service.RunCycle(context.Background()))

	// min(100 * 50% / 1, 10) / 100
	require.Len(t, f.exchange.orders, 1)
	assert.Equal(t, placedOrder{symbol: "BTC/USDT", side: domain.Buy, quantity: "0.1"}, f.exchange.orders[0])

	pos, ok := f.risk.Position("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 100.5, pos.EntryPrice)
	assert.Equal(t, 0.1, pos.Amount)
	assert.Equal(t, testNow, pos.EntryTime)

	require.Len(t, f.repo.trades, 1)
	tr := f.repo.trades[0]
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, domain.Buy, tr.Side)
	assert.Equal(t, domain.TradeStatusFilled, tr.Status)
	assert.Equal(t, int64(7), tr.OrderID)
	assert.Equal(t, f.repo.trades, f.service.Trades())

	assert.Equal(t, []ports.EventType{ports.EventSignal, ports.EventTrade}, f.notifier.types())
	assert.Equal(t, 55.0, f.notifier.events[0].Indicators["rsi"])
}

func TestRunCycle_BuySignalWhileHoldingIsIgnored(t *testing.T) {
	f := newFixture(t, createTestConfig())
	_, err := f.risk.Open("BTC/USDT", 0.1, 100, testNow)
	require.NoError(t, err)
	f.strategy.set("BTC/USDT", domain.SignalBuy, 101)

	require.NoError(t, f.service.RunCycle(context.Background()))

	assert.Empty(t, f.exchange.orders)
	pos, ok := f.risk.Position("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, pos.CurrentPrice)
}

func TestRunCycle_Exits(t *testing.T) {
	tests := []struct {
		name       string
		signal     domain.Signal
		price      float64
		wantReason domain.CloseReason
		wantEvent  ports.EventType
		wantPnL    float64
	}{
		{"sell signal", domain.SignalSell, 102, domain.CloseReasonSignal, ports.EventTrade, 0.2},
		{"stop loss", domain.SignalHold, 94, domain.CloseReasonStopLoss, ports.EventStopLoss, -0.6},
		{"take profit", domain.SignalHold, 111, domain.CloseReasonTakeProfit, ports.EventTakeProfit, 1.1},
		{"sell signal wins over stop loss", domain.SignalSell, 90, domain.CloseReasonSignal, ports.EventTrade, -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, createTestConfig())
			_, err := f.risk.Open("BTC/USDT", 0.1, 100, testNow.Add(-time.Hour))
			require.NoError(t, err)
			f.strategy.set("BTC/USDT", tt.signal, tt.price)

			require.NoError(t, f.service.RunCycle(context.Background()))

			require.Len(t, f.exchange.orders, 1)
			assert.Equal(t, placedOrder{symbol: "BTC/USDT", side: domain.Sell, quantity: "0.1"}, f.exchange.orders[0])

			_, open := f.risk.Position("BTC/USDT")
			assert.False(t, open)

			require.Len(t, f.repo.trades, 1)
			assert.Equal(t, tt.wantReason, f.repo.trades[0].Reason)
			assert.Equal(t, tt.price, f.repo.trades[0].Price, "falls back to the decision price")

			last := f.notifier.events[len(f.notifier.events)-1]
			assert.Equal(t, tt.wantEvent, last.Type)
			assert.InDelta(t, tt.wantPnL, last.ProfitLoss, 1e-9)
		})
	}
}

func TestRunCycle_HoldWithinBandsKeepsPosition(t *testing.T) {
	f := newFixture(t, createTestConfig())
	_, err := f.risk.Open("BTC/USDT", 0.1, 100, testNow)
	require.NoError(t, err)
	f.strategy.set("BTC/USDT", domain.SignalHold, 103)

	require.NoError(t, f.service.RunCycle(context.Background()))

	assert.Empty(t, f.exchange.orders)
	assert.Empty(t, f.notifier.events)
	pos, ok := f.risk.Position("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.3, pos.ProfitLoss, 1e-9)
}

func TestRunCycle_InsufficientDataSkipsSymbol(t *testing.T) {
	f := newFixture(t, createTestConfig("BTC/USDT", "ETH/USDT"))
	f.strategy.errs = map[string]error{"BTC/USDT": ports.ErrInsufficientData}
	f.strategy.set("ETH/USDT", domain.SignalBuy, 50)

	require.NoError(t, f.service.RunCycle(context.Background()))

	require.Len(t, f.exchange.orders, 1)
	assert.Equal(t, "ETH/USDT", f.exchange.orders[0].symbol)
	assert.Contains(t, f.logger.warnMsgs, "processSymbol: not enough data, skipping symbol")
}

func TestRunCycle_SymbolErrorDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, createTestConfig("BTC/USDT", "ETH/USDT", "SOL/USDT"))
	f.exchange.klinesErr = map[string]error{"BTC/USDT": ports.ErrTimeout}
	f.strategy.set("ETH/USDT", domain.SignalBuy, 50)
	f.strategy.set("SOL/USDT", domain.SignalBuy, 20)

	err := f.service.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.Contains(t, err.Error(), "BTC/USDT")

	assert.Len(t, f.exchange.orders, 2)
	assert.Len(t, f.risk.Positions(), 2)
}

func TestRunCycle_DailyTradeLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.MaxDailyTrades = 3
	f := newFixture(t, cfg)
	f.repo.today = 3
	f.strategy.set("BTC/USDT", domain.SignalBuy, 100)

	require.NoError(t, f.service.RunCycle(context.Background()))

	assert.Empty(t, f.exchange.orders)
	assert.Contains(t, f.logger.infoMsgs, "Daily trade limit reached")

	f.repo.today = 2
	require.NoError(t, f.service.RunCycle(context.Background()))
	assert.Len(t, f.exchange.orders, 1)
}

func TestRunCycle_OrderFailureLeavesNoPosition(t *testing.T) {
	f := newFixture(t, createTestConfig())
	f.exchange.orderErr = ports.ErrInsufficientFunds
	f.strategy.set("BTC/USDT", domain.SignalBuy, 100)

	err := f.service.RunCycle(context.Background())
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Empty(t, f.risk.Positions())
	assert.Empty(t, f.repo.trades)
}

func TestRunCycle_SizeBelowPrecisionIsSkipped(t *testing.T) {
	cfg := createTestConfig()
	cfg.QuantityPrecision = 2
	f := newFixture(t, cfg)
	// 10 / 5000 = 0.002 rounds down to zero at two decimals
	f.strategy.set("BTC/USDT", domain.SignalBuy, 5000)

	require.NoError(t, f.service.RunCycle(context.Background()))
	assert.Empty(t, f.exchange.orders)
}

func TestRunCycle_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, createTestConfig())
	f.notifier.err = errors.New("telegram down")
	f.strategy.set("BTC/USDT", domain.SignalBuy, 100)

	require.NoError(t, f.service.RunCycle(context.Background()))
	assert.Len(t, f.repo.trades, 1)
	assert.Contains(t, f.logger.warnMsgs, "Notification failed")
}

func TestRunCycle_JournalFailureIsReported(t *testing.T) {
	f := newFixture(t, createTestConfig())
	f.repo.createErr = ports.ErrQueryFailed
	f.strategy.set("BTC/USDT", domain.SignalBuy, 100)

	err := f.service.RunCycle(context.Background())
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
	_, open := f.risk.Position("BTC/USDT")
	assert.True(t, open, "the order went through, so the position is tracked")
}

func TestRunCycle_CancelWhileWaitingForSlot(t *testing.T) {
	cfg := createTestConfig("AAA/USDT", "BBB/USDT")
	cfg.MaxConcurrentSymbols = 1
	f := newFixture(t, cfg)
	f.strategy.set("AAA/USDT", domain.SignalBuy, 100)
	f.strategy.set("BBB/USDT", domain.SignalBuy, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.strategy.onAnalyze = func() {
		// Give the cycle time to queue the second pair behind the first.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}

	err := f.service.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
	assert.Contains(t, err.Error(), "BBB/USDT")

	require.Len(t, f.exchange.orders, 1)
	assert.Equal(t, "AAA/USDT", f.exchange.orders[0].symbol)
	_, open := f.risk.Position("BBB/USDT")
	assert.False(t, open)
}

func TestRunCycle_DropsFormingKline(t *testing.T) {
	at := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	bar := func(i int, final bool) *domain.Kline {
		return &domain.Kline{Symbol: "BTC/USDT", OpenTime: at.Add(time.Duration(i) * 15 * time.Minute), Close: 100, IsFinal: final}
	}
	tests := []struct {
		name    string
		klines  []*domain.Kline
		wantLen int
	}{
		{"last bar still open", []*domain.Kline{bar(0, true), bar(1, true), bar(2, false)}, 2},
		{"all bars closed", []*domain.Kline{bar(0, true), bar(1, true), bar(2, true)}, 3},
		{"only bar still open", []*domain.Kline{bar(0, false)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, createTestConfig())
			f.exchange.klines = tt.klines

			require.NoError(t, f.service.RunCycle(context.Background()))

			got := f.strategy.received["BTC/USDT"]
			require.Len(t, got, tt.wantLen)
			for _, k := range got {
				assert.True(t, k.IsFinal)
			}
		})
	}
}

func TestReportStartup_LogsLastJournaledTrade(t *testing.T) {
	tests := []struct {
		name     string
		recent   map[string][]*domain.Trade
		findErr  error
		wantInfo int
		wantWarn bool
	}{
		{
			name: "one pair with history",
			recent: map[string][]*domain.Trade{
				"BTC/USDT": {{ID: "t1", Symbol: "BTC/USDT", Side: domain.Sell, Price: 101, Amount: 0.1, Timestamp: testNow}},
			},
			wantInfo: 1,
		},
		{name: "empty journal"},
		{name: "journal unreadable", findErr: ports.ErrQueryFailed, wantWarn: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, createTestConfig("BTC/USDT", "ETH/USDT"))
			f.repo.recent = tt.recent
			f.repo.findErr = tt.findErr

			f.service.reportStartup(context.Background())

			count := 0
			for _, msg := range f.logger.infoMsgs {
				if msg == "Last journaled trade" {
					count++
				}
			}
			assert.Equal(t, tt.wantInfo, count)
			if tt.wantWarn {
				assert.Contains(t, f.logger.warnMsgs, "Could not read trade journal")
			} else {
				assert.NotContains(t, f.logger.warnMsgs, "Could not read trade journal")
			}
			require.NotEmpty(t, f.notifier.types())
			assert.Equal(t, ports.EventStatus, f.notifier.types()[0])
		})
	}
}

func TestStart_PingFailure(t *testing.T) {
	f := newFixture(t, createTestConfig())
	f.exchange.pingErr = ports.ErrConnectionFailed

	err := f.service.Start(context.Background())
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.Empty(t, f.exchange.orders)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(t, createTestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.strategy.set("BTC/USDT", domain.SignalBuy, 100)
	f.strategy.onAnalyze = cancel

	done := make(chan error, 1)
	go func() { done <- f.service.Start(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop after cancellation")
	}

	// The decision was taken before cancellation, so the entry completes.
	assert.Len(t, f.exchange.orders, 1)
	types := f.notifier.types()
	require.NotEmpty(t, types)
	assert.Equal(t, ports.EventStatus, types[0])
	assert.Equal(t, ports.EventStatus, types[len(types)-1])
	assert.Contains(t, f.logger.infoMsgs, "Trading Service stopped")
}

func TestQuoteAsset(t *testing.T) {
	assert.Equal(t, "USDT", quoteAsset("BTC/USDT"))
	assert.Equal(t, "BTC", quoteAsset("ETH/BTC"))
	assert.Equal(t, "USDT", quoteAsset("BTCUSDT"))
}
