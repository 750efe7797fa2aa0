// Package store provides SQLite-backed persistence for signals and
// evaluated trade outcomes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/backtester"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/atlas-desktop/signal-backtest/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ backtester.SignalSource = (*SQLiteStore)(nil)
var _ backtester.PerformanceRepository = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id           TEXT PRIMARY KEY,
	symbol       TEXT NOT NULL,
	direction    TEXT NOT NULL,
	generated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol_generated
	ON signals (symbol, generated_at);

CREATE TABLE IF NOT EXISTS signal_performances (
	id               TEXT PRIMARY KEY,
	signal_id        TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	evaluated_at     INTEGER NOT NULL,
	entry_date       TEXT NOT NULL,
	actual_return    TEXT NOT NULL,
	benchmark_return TEXT NOT NULL,
	was_profitable   INTEGER NOT NULL,
	days_held        INTEGER NOT NULL,
	entry_price      TEXT NOT NULL,
	exit_price       TEXT NOT NULL,
	max_drawdown     TEXT NOT NULL,
	notes            TEXT
);
CREATE INDEX IF NOT EXISTS idx_performances_symbol_evaluated
	ON signal_performances (symbol, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_performances_symbol_entry
	ON signal_performances (symbol, entry_date);
`

// SQLiteStore implements the SignalSource and PerformanceRepository
// interfaces backed by a SQLite database. Instants are stored as unix
// nanoseconds, calendar dates as YYYY-MM-DD text and decimals as text to
// keep exactness.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the
// schema.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The driver serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Opened performance database", zap.String("path", dbPath))
	return &SQLiteStore{logger: logger, db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSignal inserts one signal row, assigning an id when absent.
func (s *SQLiteStore) SaveSignal(ctx context.Context, signal *types.Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	signal.Symbol = utils.NormalizeSymbol(signal.Symbol)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (id, symbol, direction, generated_at) VALUES (?, ?, ?, ?)`,
		signal.ID, signal.Symbol, string(signal.Direction), signal.GeneratedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// GetSignals returns the symbol's signals generated within [start, end],
// inclusive on whole days, ascending by generation time.
func (s *SQLiteStore) GetSignals(ctx context.Context, symbol string, start, end time.Time) ([]types.Signal, error) {
	lower := utils.DayOf(start).UnixNano()
	upper := utils.AddDays(end, 1).UnixNano()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, direction, generated_at FROM signals
		 WHERE symbol = ? AND generated_at >= ? AND generated_at < ?
		 ORDER BY generated_at, id`,
		utils.NormalizeSymbol(symbol), lower, upper,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []types.Signal
	for rows.Next() {
		var sig types.Signal
		var direction string
		var generatedAt int64
		if err := rows.Scan(&sig.ID, &sig.Symbol, &direction, &generatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.Direction = types.SignalDirection(direction)
		sig.GeneratedAt = time.Unix(0, generatedAt).UTC()
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// CountSignals returns the number of signals ever recorded for a symbol.
func (s *SQLiteStore) CountSignals(ctx context.Context, symbol string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE symbol = ?`,
		utils.NormalizeSymbol(symbol),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return count, nil
}

// SaveAll inserts all rows in a single transaction, giving a run's results
// all-or-nothing durability.
func (s *SQLiteStore) SaveAll(ctx context.Context, perfs []types.SignalPerformance) error {
	if len(perfs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO signal_performances
		 (id, signal_id, symbol, evaluated_at, entry_date, actual_return,
		  benchmark_return, was_profitable, days_held, entry_price,
		  exit_price, max_drawdown, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range perfs {
		profitable := 0
		if row.WasProfitable {
			profitable = 1
		}
		_, err := stmt.ExecContext(ctx,
			row.ID,
			row.SignalID,
			utils.NormalizeSymbol(row.Symbol),
			row.EvaluatedAt.UTC().UnixNano(),
			utils.FormatDate(row.EntryDate),
			row.ActualReturn.String(),
			row.BenchmarkReturn.String(),
			profitable,
			row.DaysHeld,
			row.EntryPrice.String(),
			row.ExitPrice.String(),
			row.MaxDrawdown.String(),
			row.Notes,
		)
		if err != nil {
			return fmt.Errorf("failed to insert performance row: %w", err)
		}
	}

	return tx.Commit()
}

// BySymbol returns every performance row for a symbol.
func (s *SQLiteStore) BySymbol(ctx context.Context, symbol string) ([]types.SignalPerformance, error) {
	return s.query(ctx,
		`SELECT `+perfColumns+` FROM signal_performances
		 WHERE symbol = ? ORDER BY evaluated_at, id`,
		utils.NormalizeSymbol(symbol),
	)
}

// Recent returns the take most recently evaluated rows for a symbol.
func (s *SQLiteStore) Recent(ctx context.Context, symbol string, take int) ([]types.SignalPerformance, error) {
	return s.query(ctx,
		`SELECT `+perfColumns+` FROM signal_performances
		 WHERE symbol = ? ORDER BY evaluated_at DESC, id DESC LIMIT ?`,
		utils.NormalizeSymbol(symbol), take,
	)
}

// ByEntryDateRange returns a symbol's rows ordered by entry date,
// optionally bounded at either end (inclusive).
func (s *SQLiteStore) ByEntryDateRange(ctx context.Context, symbol string, start, end *time.Time) ([]types.SignalPerformance, error) {
	q := `SELECT ` + perfColumns + ` FROM signal_performances WHERE symbol = ?`
	args := []any{utils.NormalizeSymbol(symbol)}

	if start != nil {
		q += ` AND entry_date >= ?`
		args = append(args, utils.FormatDate(*start))
	}
	if end != nil {
		q += ` AND entry_date <= ?`
		args = append(args, utils.FormatDate(*end))
	}
	q += ` ORDER BY entry_date, evaluated_at, id`

	return s.query(ctx, q, args...)
}

const perfColumns = `id, signal_id, symbol, evaluated_at, entry_date,
	actual_return, benchmark_return, was_profitable, days_held,
	entry_price, exit_price, max_drawdown, notes`

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]types.SignalPerformance, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query performances: %w", err)
	}
	defer rows.Close()

	var out []types.SignalPerformance
	for rows.Next() {
		row, err := scanPerformance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func scanPerformance(rows *sql.Rows) (*types.SignalPerformance, error) {
	var (
		row         types.SignalPerformance
		evaluatedAt int64
		entryDate   string
		actual      string
		benchmark   string
		profitable  int
		entryPrice  string
		exitPrice   string
		drawdown    string
		notes       sql.NullString
	)

	err := rows.Scan(
		&row.ID, &row.SignalID, &row.Symbol, &evaluatedAt, &entryDate,
		&actual, &benchmark, &profitable, &row.DaysHeld,
		&entryPrice, &exitPrice, &drawdown, &notes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan performance row: %w", err)
	}

	row.EvaluatedAt = time.Unix(0, evaluatedAt).UTC()
	if row.EntryDate, err = utils.ParseDate(entryDate); err != nil {
		return nil, fmt.Errorf("bad entry date %q: %w", entryDate, err)
	}
	if row.ActualReturn, err = decimal.NewFromString(actual); err != nil {
		return nil, fmt.Errorf("bad actual return %q: %w", actual, err)
	}
	if row.BenchmarkReturn, err = decimal.NewFromString(benchmark); err != nil {
		return nil, fmt.Errorf("bad benchmark return %q: %w", benchmark, err)
	}
	if row.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return nil, fmt.Errorf("bad entry price %q: %w", entryPrice, err)
	}
	if row.ExitPrice, err = decimal.NewFromString(exitPrice); err != nil {
		return nil, fmt.Errorf("bad exit price %q: %w", exitPrice, err)
	}
	if row.MaxDrawdown, err = decimal.NewFromString(drawdown); err != nil {
		return nil, fmt.Errorf("bad max drawdown %q: %w", drawdown, err)
	}
	row.WasProfitable = profitable == 1
	row.Notes = notes.String
	return &row, nil
}
