// analyze_backtests compares trade ledgers written by backtest_runner --trades-csv.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/strategy/analytics"
	"cryptoCrossBot/internal/utils"
)

type options struct {
	dir            string
	prefix         string
	initialBalance float64
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
		Use:          "analyze_backtests [trades.csv ...]",
		Short:        "Summarise and compare backtest trade ledgers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args
			if len(files) == 0 {
				var err error
				if files, err = findBacktestFiles(opts.dir, opts.prefix); err != nil {
					return err
				}
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backtest files found. Run backtest_runner with --trades-csv first.")
				return nil
			}
			return analyze(cmd.OutOrStdout(), files, opts.initialBalance)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "data", "Directory searched when no files are given")
	f.StringVar(&opts.prefix, "prefix", "backtest_trades", "File name prefix searched in --dir")
	f.Float64Var(&opts.initialBalance, "initial-balance", 100, "Initial balance the ledgers started from")
	return cmd
}

func analyze(out io.Writer, files []string, initialBalance float64) error {
	type ledger struct {
		name    string
		metrics *analytics.PerformanceMetrics
	}
	var ledgers []ledger
	for _, file := range files {
		trades, err := utils.ReadTradesFromCSV(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		ledgers = append(ledgers, ledger{
			name:    filepath.Base(file),
			metrics: analytics.AnalyzePerformance(trades, initialBalance),
		})
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "File\tTrips\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tMaxDD\tPF\t")
	for _, l := range ledgers {
		m := l.metrics
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			l.name, m.TotalTrades, m.WinRate*100, m.AverageWin, m.AverageLoss, m.TotalProfit, m.MaxDrawdown*100, m.ProfitFactor)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n## Exit Analysis")
	for _, l := range ledgers {
		fmt.Fprintf(out, "\nFile: %s\n", l.name)
		printExitReasons(out, l.metrics.RoundTrips)
	}
	return nil
}

// printExitReasons breaks round trips down by the reason they were closed.
func printExitReasons(out io.Writer, trips []analytics.RoundTrip) {
	counts := make(map[domain.CloseReason]int)
	pnl := make(map[domain.CloseReason]float64)
	for _, trip := range trips {
		counts[trip.Reason]++
		pnl[trip.Reason] += trip.PNL
	}
	if len(counts) == 0 {
		fmt.Fprintln(out, "No closed round trips")
		return
	}

	reasons := make([]domain.CloseReason, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Close Reason\tCount\tTotal PnL\tAvg PnL")
	for _, reason := range reasons {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\n", reason, counts[reason], pnl[reason], pnl[reason]/float64(counts[reason]))
	}
	w.Flush()
}

// findBacktestFiles lists prefix*.csv files in dir, sorted by name.
func findBacktestFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".csv") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
