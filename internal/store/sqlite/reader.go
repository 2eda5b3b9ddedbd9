package sqlite

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// Reader provides read-only access to recorded candles for backfill and replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The file must exist.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "sqlite open reader %s", dbPath)
	}
	return &Reader{db: db}, nil
}

// ReadCandles returns candles for symbol/granularity with ts > afterTS,
// ordered by timestamp ascending for correct replay order.
func (r *Reader) ReadCandles(ctx context.Context, symbol string, granularity int, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close
		FROM candles
		WHERE symbol = ? AND granularity = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, granularity, afterTS)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query candles")
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, errors.Wrap(err, "sqlite scan candles")
		}
		candles = append(candles, c)
	}
	return candles, errors.Wrap(rows.Err(), "sqlite iterate candles")
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
