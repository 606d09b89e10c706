package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptop/internal/domain"
	"cryptop/internal/ports"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.KlineRecorder using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	runID  string
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
	RunID  string // identifies this process in journal rows; generated when empty
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/cryptop.db" // Default path
	}

	if dbPath != ":memory:" {
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	repo := &Repository{db: db, logger: cfg.Logger, runID: runID}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Kline journal opened", map[string]interface{}{"path": dbPath, "runID": runID})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS klines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL, -- unix ms
		close_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		run_id TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_klines_symbol_interval_open ON klines (symbol, interval, open_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// RunID returns the identifier written with every row of this process.
func (r *Repository) RunID() string { return r.runID }

// Close logs how many rows this run journaled and closes the database connection.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	ctx := context.Background()
	fields := map[string]interface{}{"runID": r.runID}
	if n, err := r.CountByRun(ctx, r.runID); err != nil {
		fields["error"] = err.Error()
	} else {
		fields["journaled"] = n
	}
	r.logger.Info(ctx, "Closing kline journal", fields)
	return r.db.Close()
}

// ReportHistory logs what earlier runs journaled for symbol and interval.
func (r *Repository) ReportHistory(ctx context.Context, symbol, interval string) error {
	count, err := r.Count(ctx, symbol, interval)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{"symbol": symbol, "interval": interval, "klines": count}
	if count > 0 {
		tail, err := r.FindBySymbol(ctx, symbol, interval, 1)
		if err != nil {
			return err
		}
		if len(tail) > 0 {
			fields["lastOpenTime"] = tail[0].OpenTime.UTC()
		}
	}
	r.logger.Info(ctx, "Kline journal history", fields)
	return nil
}

// RecordKlines inserts klines in one transaction. Klines already journaled
// for the same symbol, interval and open time are skipped.
func (r *Repository) RecordKlines(ctx context.Context, klines []*domain.Kline) error {
	if len(klines) == 0 {
		return nil
	}
	const query = `
	INSERT OR IGNORE INTO klines (symbol, interval, open_time, close_time, open, high, low, close, volume, run_id, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin kline insert: %v", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: prepare kline insert: %v", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := int64(0)
	for _, k := range klines {
		res, err := stmt.ExecContext(ctx,
			k.Symbol, k.Interval, k.OpenTime.UnixMilli(), k.CloseTime.UnixMilli(),
			k.Open, k.High, k.Low, k.Close, k.Volume, r.runID, now)
		if err != nil {
			return fmt.Errorf("%w: insert kline %s %s @%d: %v", ports.ErrQueryFailed, k.Symbol, k.Interval, k.OpenTime.UnixMilli(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit kline insert: %v", ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Klines journaled", map[string]interface{}{"received": len(klines), "inserted": inserted})
	return nil
}

// FindBySymbol returns the most recent `limit` journaled klines, oldest first.
func (r *Repository) FindBySymbol(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	const query = `
	SELECT open_time, close_time, symbol, interval, open, high, low, close, volume
	FROM (
		SELECT * FROM klines
		WHERE symbol = ? AND interval = ?
		ORDER BY open_time DESC LIMIT ?
	)
	ORDER BY open_time ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query klines for %s %s: %v", ports.ErrQueryFailed, symbol, interval, err)
	}
	defer rows.Close()

	klines := make([]*domain.Kline, 0)
	for rows.Next() {
		k, err := scanKline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kline during FindBySymbol: %w", err)
		}
		klines = append(klines, k)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kline rows: %w", err)
	}
	return klines, nil
}

// Count returns the number of journaled klines for symbol and interval.
func (r *Repository) Count(ctx context.Context, symbol, interval string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM klines WHERE symbol = ? AND interval = ?`, symbol, interval).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count klines for %s %s: %v", ports.ErrQueryFailed, symbol, interval, err)
	}
	return count, nil
}

// CountByRun counts the rows written by the given run.
func (r *Repository) CountByRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM klines WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count klines for run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	return count, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanKline(s scanner) (*domain.Kline, error) {
	k := &domain.Kline{IsFinal: true}
	var openMs, closeMs int64
	if err := s.Scan(&openMs, &closeMs, &k.Symbol, &k.Interval, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
		return nil, err
	}
	k.OpenTime = time.UnixMilli(openMs)
	k.CloseTime = time.UnixMilli(closeMs)
	return k, nil
}
