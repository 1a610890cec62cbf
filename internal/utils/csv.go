package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

var tradeHeader = []string{"id", "symbol", "side", "price", "amount", "timestamp", "status", "reason"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteKlinesToCSV writes klines with a header row.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV reads a file produced by WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadKlines(file)
}

// ReadKlines parses kline rows. Every row is marked final. Prices must be
// finite and positive.
func ReadKlines(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(klineHeader)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read klines: %w: %v", ports.ErrInvalidRequest, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if rows[0][0] == klineHeader[0] {
		rows = rows[1:]
	}

	klines := make([]*domain.Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("read klines row %d: %w: %v", i+1, ports.ErrInvalidRequest, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(row []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return nil, err
	}
	closeTime, err := time.Parse(time.RFC3339, row[1])
	if err != nil {
		return nil, err
	}
	values := make([]float64, 5)
	for i := range values {
		if values[i], err = strconv.ParseFloat(row[4+i], 64); err != nil {
			return nil, err
		}
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return nil, fmt.Errorf("%s is not a finite number", klineHeader[4+i])
		}
	}
	// open, high, low, close must be positive; volume may be zero
	for i, v := range values[:4] {
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %v", klineHeader[4+i], v)
		}
	}
	if values[4] < 0 {
		return nil, fmt.Errorf("volume must not be negative, got %v", values[4])
	}
	return &domain.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    row[2],
		Interval:  row[3],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		IsFinal:   true,
	}, nil
}

// WriteTradesToCSV exports a backtest or live ledger.
func WriteTradesToCSV(trades []domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := writer.Write([]string{
			t.ID,
			t.Symbol,
			string(t.Side),
			formatFloat(t.Price),
			formatFloat(t.Amount),
			t.Timestamp.UTC().Format(time.RFC3339),
			string(t.Status),
			string(t.Reason),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTradesFromCSV reads a ledger written by WriteTradesToCSV.
func ReadTradesFromCSV(filename string) ([]domain.Trade, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTrades(file)
}

// ReadTrades parses trade rows, skipping the header when present.
func ReadTrades(r io.Reader) ([]domain.Trade, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(tradeHeader)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trades: %w: %v", ports.ErrInvalidRequest, err)
	}
	if len(rows) > 0 && rows[0][0] == tradeHeader[0] {
		rows = rows[1:]
	}

	trades := make([]domain.Trade, 0, len(rows))
	for i, row := range rows {
		price, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("read trades row %d: %w: %v", i+1, ports.ErrInvalidRequest, err)
		}
		amount, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return nil, fmt.Errorf("read trades row %d: %w: %v", i+1, ports.ErrInvalidRequest, err)
		}
		at, err := time.Parse(time.RFC3339, row[5])
		if err != nil {
			return nil, fmt.Errorf("read trades row %d: %w: %v", i+1, ports.ErrInvalidRequest, err)
		}
		side := domain.OrderSide(row[2])
		if side != domain.Buy && side != domain.Sell {
			return nil, fmt.Errorf("read trades row %d: side %q: %w", i+1, row[2], ports.ErrInvalidRequest)
		}
		trades = append(trades, domain.Trade{
			ID:        row[0],
			Symbol:    row[1],
			Side:      side,
			Price:     price,
			Amount:    amount,
			Timestamp: at,
			Status:    domain.TradeStatus(row[6]),
			Reason:    domain.CloseReason(row[7]),
		})
	}
	return trades, nil
}
