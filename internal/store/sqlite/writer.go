package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer records finalized candles so detection can be replayed offline.
type Writer struct {
	db  *sql.DB
	log *zap.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "sqlite mkdir")
		}
	}
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol      TEXT    NOT NULL,
			granularity INTEGER NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			PRIMARY KEY (symbol, granularity, ts)
		);
	`)
	return err
}

// WriteCandles upserts candles in a single transaction. A later write for the
// same (symbol, granularity, ts) replaces the stored row.
func (w *Writer) WriteCandles(ctx context.Context, symbol string, granularity int, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite begin")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, granularity, ts, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "sqlite prepare")
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, granularity, c.Time, c.Open, c.High, c.Low, c.Close); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "sqlite insert candle %d", c.Time)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite commit")
	}
	w.log.Debug("committed candles", zap.String("symbol", symbol), zap.Int("count", len(candles)))
	return nil
}

// LastTimestamp returns the newest stored candle time for symbol/granularity,
// or 0 if none exist.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string, granularity int) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND granularity = ?`,
		symbol, granularity,
	).Scan(&ts)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite last timestamp")
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
