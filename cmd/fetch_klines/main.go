// fetch_klines downloads a kline range from the exchange into a CSV file
// that backtest_runner can replay with --csv.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cryptoCrossBot/config"
	"cryptoCrossBot/internal/adapters/binanceclient"
	"cryptoCrossBot/internal/adapters/logger"
	"cryptoCrossBot/internal/ports"
	"cryptoCrossBot/internal/utils"
)

type options struct {
	envFile  string
	symbol   string
	interval string
	days     int
	outDir   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "fetch_klines",
		Short:        "Download historical klines to CSV",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, time.Now().UTC())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.envFile, "config", ".env", "Path to the .env file")
	f.StringVar(&opts.symbol, "symbol", "ETH/USDT", "Trading pair symbol")
	f.StringVar(&opts.interval, "interval", "15m", "Kline interval")
	f.IntVar(&opts.days, "days", 90, "Number of days to fetch, ending now")
	f.StringVar(&opts.outDir, "out-dir", "data", "Directory for the CSV file")
	return cmd
}

func run(ctx context.Context, opts *options, now time.Time) error {
	if !config.ValidTimeframes[opts.interval] {
		return fmt.Errorf("unsupported interval %q: %w", opts.interval, ports.ErrInvalidRequest)
	}
	if opts.days <= 0 {
		return fmt.Errorf("days must be positive: %w", ports.ErrInvalidRequest)
	}

	cfg, err := config.LoadConfig(opts.envFile)
	if err != nil {
		return err
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel).With("fetch_klines")

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            appLogger,
	})
	if err != nil {
		return err
	}

	end := now
	start := end.AddDate(0, 0, -opts.days)
	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol": opts.symbol, "interval": opts.interval,
		"start": start.Format(time.RFC3339), "end": end.Format(time.RFC3339),
	})
	klines, err := client.GetKlinesRange(ctx, opts.symbol, opts.interval, start, end)
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", opts.outDir, err)
	}
	filename := filepath.Join(opts.outDir, csvName(opts.symbol, opts.interval, start, end))
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
	return nil
}

// csvName is e.g. ETHUSDT_15m_20250207_to_20250507.csv.
func csvName(symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s_to_%s.csv", strings.ReplaceAll(symbol, "/", ""), interval,
		start.Format("20060102"), end.Format("20060102"))
}
