package analytics

import (
	"math"
	"sort"
	"time"

	"cryptoCrossBot/internal/domain"
)

// RoundTrip is a buy matched with the sell that closed it.
type RoundTrip struct {
	Symbol     string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Amount     float64
	PNL        float64
	Reason     domain.CloseReason
}

// PerformanceMetrics summarises a trade ledger
type PerformanceMetrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	MaxDrawdown        float64 // Fraction of the running peak balance
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	Expectancy           float64
	ExitReasons          map[domain.CloseReason]int
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
	RoundTrips           []RoundTrip
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// PairRoundTrips matches every sell with the open buy of the same symbol.
// Unmatched buys are ignored.
func PairRoundTrips(trades []domain.Trade) []RoundTrip {
	open := make(map[string]domain.Trade)
	var trips []RoundTrip
	for _, t := range trades {
		switch t.Side {
		case domain.Buy:
			open[t.Symbol] = t
		case domain.Sell:
			entry, ok := open[t.Symbol]
			if !ok {
				continue
			}
			delete(open, t.Symbol)
			trips = append(trips, RoundTrip{
				Symbol:     t.Symbol,
				EntryTime:  entry.Timestamp,
				ExitTime:   t.Timestamp,
				EntryPrice: entry.Price,
				ExitPrice:  t.Price,
				Amount:     t.Amount,
				PNL:        (t.Price - entry.Price) * t.Amount,
				Reason:     t.Reason,
			})
		}
	}
	return trips
}

// AnalyzePerformance calculates performance metrics from a ledger
func AnalyzePerformance(trades []domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		ExitReasons:    make(map[domain.CloseReason]int),
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0),
	}

	trips := PairRoundTrips(trades)
	sort.SliceStable(trips, func(i, j int) bool {
		return trips[i].ExitTime.Before(trips[j].ExitTime)
	})
	metrics.RoundTrips = trips
	if len(trips) == 0 {
		return metrics
	}

	balance := initialBalance
	peak := initialBalance
	var grossWin, grossLoss float64
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration

	for _, trip := range trips {
		metrics.TotalTrades++
		if trip.PNL > 0 {
			metrics.WinningTrades++
			grossWin += trip.PNL
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			grossLoss += trip.PNL
			consecutiveLosses++
			consecutiveWins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)
		metrics.ExitReasons[trip.Reason]++
		totalDuration += trip.ExitTime.Sub(trip.EntryTime)

		balance += trip.PNL
		metrics.TotalProfit += trip.PNL
		metrics.MonthlyReturns[trip.ExitTime.Format("2006-01")] += trip.PNL

		peak = math.Max(peak, balance)
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - balance) / peak
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trip.ExitTime,
			Value:    balance,
			Drawdown: drawdown,
		})
	}

	metrics.FinalBalance = balance
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = grossWin / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = grossLoss / float64(metrics.LosingTrades)
	}
	if grossLoss != 0 {
		metrics.ProfitFactor = grossWin / -grossLoss
	}
	if initialBalance != 0 {
		metrics.ReturnOnInvestment = (balance - initialBalance) / initialBalance
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(len(trips))
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss

	return metrics
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
