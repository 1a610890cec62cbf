// backtest_runner replays historical klines through the crossover strategy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cryptoCrossBot/config"
	"cryptoCrossBot/internal/adapters/binanceclient"
	"cryptoCrossBot/internal/adapters/logger"
	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/strategy/analytics"
	"cryptoCrossBot/internal/strategy/backtesting"
	"cryptoCrossBot/internal/strategy/optimization"
	"cryptoCrossBot/internal/utils"
)

const dateLayout = "2006-01-02"

type options struct {
	envFile        string
	symbol         string
	startDate      string
	endDate        string
	timeframe      string
	initialBalance float64
	outputFile     string
	csvFile        string
	tradesCSV      string
	optimize       bool
	top            int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	now := time.Now().UTC()
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "backtest_runner",
		Short: "Backtest the MA crossover strategy on historical klines",
		Long: `backtest_runner replays klines for one symbol through the combined
SMA crossover, RSI, MACD and Bollinger rule and prints the resulting ledger.
Klines come from --csv when given, otherwise from the exchange.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.envFile, "config", ".env", "Path to the .env file")
	f.StringVar(&opts.symbol, "symbol", "BTC/USDT", "Trading pair symbol")
	f.StringVar(&opts.startDate, "start-date", now.AddDate(0, 0, -30).Format(dateLayout), "Start date (YYYY-MM-DD or RFC3339)")
	f.StringVar(&opts.endDate, "end-date", now.Format(dateLayout), "End date, inclusive (YYYY-MM-DD or RFC3339)")
	f.StringVar(&opts.timeframe, "timeframe", "15m", "Kline interval")
	f.Float64Var(&opts.initialBalance, "initial-balance", 100, "Initial quote balance")
	f.StringVar(&opts.outputFile, "output-file", "", "Write the result as JSON to this file")
	f.StringVar(&opts.csvFile, "csv", "", "Read klines from this CSV file instead of the exchange")
	f.StringVar(&opts.tradesCSV, "trades-csv", "", "Write the trade ledger to this CSV file")
	f.BoolVar(&opts.optimize, "optimize", false, "Sweep indicator periods and rank the results")
	f.IntVar(&opts.top, "top", 5, "Number of optimization results to print")

	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.LoadConfig(opts.envFile)
	if err != nil {
		return err
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel).With("backtest")

	if !config.ValidTimeframes[opts.timeframe] {
		return fmt.Errorf("unsupported timeframe %q: %w", opts.timeframe, ports.ErrInvalidRequest)
	}
	start, end, err := parseRange(opts.startDate, opts.endDate)
	if err != nil {
		return err
	}

	klines, err := loadKlines(ctx, cfg, opts, start, end, appLogger)
	if err != nil {
		return err
	}
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"symbol": opts.symbol, "count": len(klines)})

	btCfg := backtesting.BacktestConfig{
		Symbol:               opts.symbol,
		Timeframe:            opts.timeframe,
		StartTime:            start,
		EndTime:              end,
		InitialBalance:       opts.initialBalance,
		StopLossPercentage:   cfg.StopLossPercentage,
		TakeProfitPercentage: cfg.TakeProfitPercentage,
		Params:               cfg.IndicatorParams(),
	}
	simulator := backtesting.NewSimulator(appLogger)

	if opts.optimize {
		return runOptimization(ctx, simulator, klines, btCfg, opts.top, out, appLogger)
	}

	result, err := simulator.Backtest(ctx, klines, btCfg)
	if err != nil {
		return err
	}
	metrics := analytics.AnalyzePerformance(result.Trades, result.InitialBalance)
	printResult(out, result, metrics)

	if opts.tradesCSV != "" {
		if err := utils.WriteTradesToCSV(result.Trades, opts.tradesCSV); err != nil {
			return fmt.Errorf("write trades csv: %w", err)
		}
		appLogger.Info(ctx, "Trades saved", map[string]interface{}{"filename": opts.tradesCSV})
	}
	if opts.outputFile != "" {
		if err := writeJSON(opts.outputFile, result); err != nil {
			return err
		}
		appLogger.Info(ctx, "Backtest result saved", map[string]interface{}{"filename": opts.outputFile})
	}
	return nil
}

func loadKlines(ctx context.Context, cfg *config.Config, opts *options, start, end time.Time, log ports.Logger) ([]*domain.Kline, error) {
	if opts.csvFile != "" {
		klines, err := utils.ReadKlinesFromCSV(opts.csvFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", opts.csvFile, err)
		}
		return filterRange(klines, start, end), nil
	}

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            log,
	})
	if err != nil {
		return nil, err
	}
	return client.GetKlinesRange(ctx, opts.symbol, opts.timeframe, start, end)
}

func runOptimization(ctx context.Context, simulator *backtesting.Simulator, klines []*domain.Kline,
	btCfg backtesting.BacktestConfig, top int, out io.Writer, log ports.Logger) error {
	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: []optimization.ParameterRange{
			{Name: optimization.ParamShortMA, Min: 5, Max: 30, Step: 5},
			{Name: optimization.ParamLongMA, Min: 20, Max: 100, Step: 10},
			{Name: optimization.ParamRSI, Min: 7, Max: 21, Step: 7},
		},
		Backtest: btCfg,
	}, simulator, log)
	if err != nil {
		return err
	}

	results, err := optimizer.Optimize(ctx, klines)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no parameter combination had enough data: %w", ports.ErrInsufficientData)
	}
	printOptimization(out, results, top)
	return nil
}

// parseRange accepts dates or RFC3339 timestamps. A date-only end covers the whole day.
func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, _, err := parseTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date: %w", err)
	}
	end, dateOnly, err := parseTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end date: %w", err)
	}
	if dateOnly {
		end = end.Add(24*time.Hour - time.Millisecond)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s must be before end %s: %w", startStr, endStr, ports.ErrInvalidRequest)
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC3339: %w", s, ports.ErrInvalidRequest)
	}
	return t.UTC(), false, nil
}

// filterRange keeps klines whose open time lies in [start, end].
func filterRange(klines []*domain.Kline, start, end time.Time) []*domain.Kline {
	out := make([]*domain.Kline, 0, len(klines))
	for _, k := range klines {
		if k.OpenTime.Before(start) || k.OpenTime.After(end) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func printResult(w io.Writer, result *backtesting.BacktestResult, m *analytics.PerformanceMetrics) {
	fmt.Fprintf(w, "Backtest %s %s  %s -> %s\n", result.Symbol, result.Timeframe,
		result.StartTime.Format(time.RFC3339), result.EndTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Balance: $%.2f -> $%.2f  P/L: $%.2f (%.2f%%)\n",
		result.InitialBalance, result.FinalBalance, result.ProfitLoss, result.ProfitLossPercentage)

	fmt.Fprintf(w, "\nTrades: %d\n", len(result.Trades))
	for _, t := range result.Trades {
		line := fmt.Sprintf("%s - %s %g %s at $%.2f", t.Timestamp.Format(time.RFC3339), t.Side, t.Amount, t.Symbol, t.Price)
		if t.Reason != "" {
			line += " (" + string(t.Reason) + ")"
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "\nPerformance:")
	fmt.Fprintf(w, "  Round trips:     %d (%d won, %d lost)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(w, "  Win rate:        %.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "  Profit factor:   %.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "  Average win:     $%.2f\n", m.AverageWin)
	fmt.Fprintf(w, "  Average loss:    $%.2f\n", m.AverageLoss)
	fmt.Fprintf(w, "  Expectancy:      $%.2f\n", m.Expectancy)
	fmt.Fprintf(w, "  Max drawdown:    %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "  Avg duration:    %s\n", m.AverageTradeDuration)
	fmt.Fprintf(w, "  Streaks:         %d wins, %d losses\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)

	if len(m.ExitReasons) > 0 {
		var reasons []string
		for _, r := range []domain.CloseReason{domain.CloseReasonSignal, domain.CloseReasonStopLoss, domain.CloseReasonTakeProfit, domain.CloseReasonEndOfTest} {
			if n := m.ExitReasons[r]; n > 0 {
				reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
			}
		}
		fmt.Fprintf(w, "  Exits:           %s\n", strings.Join(reasons, " "))
	}
	if monthly := m.GetMonthlyReturns(); len(monthly) > 0 {
		fmt.Fprintln(w, "\nMonthly P/L:")
		for _, mr := range monthly {
			fmt.Fprintf(w, "  %s  $%.2f\n", mr.Month.Format("2006-01"), mr.Return)
		}
	}
}

func printOptimization(w io.Writer, results []optimization.OptimizationResult, top int) {
	if top <= 0 || top > len(results) {
		top = len(results)
	}
	fmt.Fprintf(w, "Evaluated %d parameter sets, best %d:\n", len(results), top)
	fmt.Fprintf(w, "%-4s %-6s %-6s %-6s %10s %8s %8s %10s\n", "#", "short", "long", "rsi", "score", "trips", "win%", "P/L")
	for i, r := range results[:top] {
		fmt.Fprintf(w, "%-4d %-6d %-6d %-6d %10.4f %8d %8.2f %10.2f\n", i+1,
			r.Parameters.ShortPeriod, r.Parameters.LongPeriod, r.Parameters.RSIPeriod,
			r.Score, r.Metrics.TotalTrades, r.Metrics.WinRate*100, r.Result.ProfitLoss)
	}
}

func writeJSON(filename string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}
