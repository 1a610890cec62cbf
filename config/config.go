package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoCrossBot/internal/adapters/logger"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/risk"
	"cryptoCrossBot/internal/strategy"
	"cryptoCrossBot/internal/strategy/indicators"
)

// ValidTimeframes are the kline intervals accepted by the exchange.
var ValidTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading
	TradingPairs         []string // e.g. BTC/USDT
	InvestmentAmount     float64
	RiskPercentage       float64 // Share of the investment amount put at risk, 0-100
	MaxPositionSize      float64 // Quote currency cap per position
	StopLossPercentage   float64
	TakeProfitPercentage float64
	Timeframe            string
	MaxDailyTrades       int // Per symbol, 0 disables the cap

	// Indicators
	ShortMAPeriod    int
	LongMAPeriod     int
	RSIPeriod        int
	RSIBuyThreshold  float64
	RSISellThreshold float64

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	NotifyEvents     []string // Empty means every event

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Live loop
	LoopInterval         time.Duration
	RetryBackoff         time.Duration
	MaxConcurrentSymbols int
	RequestsPerSecond    float64
	QuantityPrecision    int32
}

// LoadConfig loads .env files (./.env when none are given) and then reads the environment.
// Missing files are ignored so plain environment variables keep working.
func LoadConfig(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w: %v", ports.ErrConfigurationError, err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var err error
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Trading
	cfg.TradingPairs = splitList(getEnv("TRADING_PAIRS", "BTC/USDT,ETH/USDT,XRP/USDT,ADA/USDT,SOL/USDT"))
	if len(cfg.TradingPairs) == 0 {
		errs = append(errs, "TRADING_PAIRS must list at least one pair")
	}

	floats := []struct {
		key   string
		def   float64
		dst   *float64
		check func(float64) bool
		rule  string
	}{
		{"INVESTMENT_AMOUNT", 100, &cfg.InvestmentAmount, positive, "must be positive"},
		{"RISK_PERCENTAGE", 50, &cfg.RiskPercentage, func(v float64) bool { return v > 0 && v <= 100 }, "must be in (0, 100]"},
		{"MAX_POSITION_SIZE", 10, &cfg.MaxPositionSize, positive, "must be positive"},
		{"STOP_LOSS_PERCENTAGE", 5, &cfg.StopLossPercentage, func(v float64) bool { return v > 0 && v < 100 }, "must be in (0, 100)"},
		{"TAKE_PROFIT_PERCENTAGE", 10, &cfg.TakeProfitPercentage, positive, "must be positive"},
		{"RSI_BUY_THRESHOLD", 50, &cfg.RSIBuyThreshold, func(v float64) bool { return v >= 30 && v <= 100 }, "must be in [30, 100]"},
		{"RSI_SELL_THRESHOLD", 70, &cfg.RSISellThreshold, func(v float64) bool { return v > 0 && v <= 100 }, "must be in (0, 100]"},
		{"REQUESTS_PER_SECOND", 10, &cfg.RequestsPerSecond, positive, "must be positive"},
	}
	for _, f := range floats {
		*f.dst, err = getEnvAsFloatRequired(f.key, f.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", f.key, err))
		} else if !f.check(*f.dst) {
			errs = append(errs, fmt.Sprintf("%s %s", f.key, f.rule))
		}
	}

	cfg.Timeframe = getEnv("TIMEFRAME", "15m")
	if !ValidTimeframes[cfg.Timeframe] {
		errs = append(errs, fmt.Sprintf("unsupported TIMEFRAME %q", cfg.Timeframe))
	}

	// Indicators
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"SHORT_MA_PERIOD", 20, &cfg.ShortMAPeriod},
		{"LONG_MA_PERIOD", 50, &cfg.LongMAPeriod},
		{"RSI_PERIOD", 14, &cfg.RSIPeriod},
		{"MAX_CONCURRENT_SYMBOLS", 4, &cfg.MaxConcurrentSymbols},
	}
	for _, i := range ints {
		*i.dst, err = getEnvAsIntRequired(i.key, i.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", i.key, err))
		} else if *i.dst <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive", i.key))
		}
	}
	if cfg.ShortMAPeriod >= cfg.LongMAPeriod {
		errs = append(errs, "SHORT_MA_PERIOD must be less than LONG_MA_PERIOD")
	}
	if cfg.RSIBuyThreshold > cfg.RSISellThreshold {
		errs = append(errs, "RSI_BUY_THRESHOLD must not exceed RSI_SELL_THRESHOLD")
	}

	cfg.MaxDailyTrades, err = getEnvAsIntRequired("MAX_DAILY_TRADES", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_TRADES: %v", err))
	} else if cfg.MaxDailyTrades < 0 {
		errs = append(errs, "MAX_DAILY_TRADES cannot be negative")
	}

	precision := getEnvAsInt("QUANTITY_PRECISION", 6)
	if precision < 0 || precision > 16 {
		errs = append(errs, "QUANTITY_PRECISION must be between 0 and 16")
	}
	cfg.QuantityPrecision = int32(precision)

	// Notifications
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	cfg.NotifyEvents = splitList(getEnv("NOTIFY_EVENTS", ""))
	for _, e := range cfg.NotifyEvents {
		if !knownEvent(e) {
			errs = append(errs, fmt.Sprintf("unknown NOTIFY_EVENTS entry %q", e))
		}
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_bot.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Live loop
	loopSeconds := getEnvAsInt("LOOP_INTERVAL_SECONDS", 60)
	if loopSeconds <= 0 {
		errs = append(errs, "LOOP_INTERVAL_SECONDS must be positive")
	}
	cfg.LoopInterval = time.Duration(loopSeconds) * time.Second

	backoffSeconds := getEnvAsInt("RETRY_BACKOFF_SECONDS", 60)
	if backoffSeconds <= 0 {
		errs = append(errs, "RETRY_BACKOFF_SECONDS must be positive")
	}
	cfg.RetryBackoff = time.Duration(backoffSeconds) * time.Second

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s: %w", strings.Join(errs, "; "), ports.ErrConfigurationError)
	}
	return cfg, nil
}

// ValidateLive checks the settings only live trading needs.
func (c *Config) ValidateLive() error {
	var errs []string
	if c.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if c.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}
	if c.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("live configuration invalid: %s: %w", strings.Join(errs, "; "), ports.ErrConfigurationError)
	}
	return nil
}

// TelegramEnabled reports whether both Telegram settings are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// IndicatorParams returns the indicator periods.
func (c *Config) IndicatorParams() indicators.Params {
	return indicators.Params{ShortPeriod: c.ShortMAPeriod, LongPeriod: c.LongMAPeriod, RSIPeriod: c.RSIPeriod}
}

// StrategyConfig returns the live strategy settings.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		Params: c.IndicatorParams(),
		Thresholds: strategy.Thresholds{
			BuyLower:   strategy.BacktestThresholds.BuyLower,
			BuyUpper:   c.RSIBuyThreshold,
			Overbought: c.RSISellThreshold,
		},
	}
}

// RiskConfig returns the risk manager settings.
func (c *Config) RiskConfig() risk.RiskConfig {
	return risk.RiskConfig{
		PairCount:            len(c.TradingPairs),
		InvestmentAmount:     c.InvestmentAmount,
		RiskPercentage:       c.RiskPercentage,
		MaxPositionSize:      c.MaxPositionSize,
		StopLossPercentage:   c.StopLossPercentage,
		TakeProfitPercentage: c.TakeProfitPercentage,
	}
}

// --- Env Var Helpers ---

func positive(v float64) bool { return v > 0 }

func knownEvent(e string) bool {
	switch ports.EventType(e) {
	case ports.EventSignal, ports.EventTrade, ports.EventStopLoss, ports.EventTakeProfit, ports.EventError, ports.EventStatus:
		return true
	}
	return false
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := getEnvAsIntRequired(key, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
