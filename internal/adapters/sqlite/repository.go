package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

// Repository implements ports.TradeRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	now    func() time.Time
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; symbols are journaled from concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger, now: time.Now}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite trade journal ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		amount REAL NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NULL,
		order_id INTEGER NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_timestamp ON trades (symbol, timestamp);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreateTrade saves a new trade record. Timestamps are stored in UTC.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) error {
	if trade == nil || trade.ID == "" {
		return fmt.Errorf("trade must carry an ID: %w", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO trades (id, symbol, side, price, amount, timestamp, status, reason, order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var reason sql.NullString
	if trade.Reason != "" {
		reason = sql.NullString{String: string(trade.Reason), Valid: true}
	}
	var orderID sql.NullInt64
	if trade.OrderID != 0 {
		orderID = sql.NullInt64{Int64: trade.OrderID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, string(trade.Side), trade.Price, trade.Amount,
		trade.Timestamp.UTC(), string(trade.Status), reason, orderID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("trade %s already journaled: %w", trade.ID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert trade for symbol %s: %w: %v", trade.Symbol, ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Trade journaled", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol, "side": trade.Side})
	return nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, newest first.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, price, amount, timestamp, status, reason, order_id
	FROM trades
	WHERE symbol = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w: %v", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindBySymbol: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// CountTodayBySymbol counts the trades executed since midnight UTC for a given symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	dayStart := r.now().UTC().Truncate(24 * time.Hour)
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND timestamp >= ? AND timestamp < ?`
	var count int
	err := r.db.QueryRowContext(ctx, query, symbol, dayStart, dayStart.Add(24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades today for symbol %s: %w: %v", symbol, ports.ErrQueryFailed, err)
	}
	return count, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var reason sql.NullString
	var orderID sql.NullInt64
	err := s.Scan(&t.ID, &t.Symbol, &side, &t.Price, &t.Amount, &t.Timestamp, &status, &reason, &orderID)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	t.Timestamp = t.Timestamp.UTC()
	if reason.Valid {
		t.Reason = domain.CloseReason(reason.String)
	}
	if orderID.Valid {
		t.OrderID = orderID.Int64
	}
	return t, nil
}
