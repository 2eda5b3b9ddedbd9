package model

import "context"

// ── Ports ──
// These interfaces decouple the per-symbol session from concrete transports
// and storage (Deriv websocket, Redis, SQLite).

// IntentDispatcher hands a trade intent to whatever submits orders.
type IntentDispatcher interface {
	// Dispatch submits or forwards the intent. It must not block past ctx.
	Dispatch(ctx context.Context, intent TradeIntent) error
}

// CandleReader reads stored candles for backfill and replay.
type CandleReader interface {
	// ReadCandles returns candles for symbol/granularity with Time > afterTS,
	// ordered by time ascending.
	ReadCandles(ctx context.Context, symbol string, granularity int, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists finalized candles.
type CandleWriter interface {
	// WriteCandles upserts candles for symbol/granularity.
	WriteCandles(ctx context.Context, symbol string, granularity int, candles []Candle) error

	// Close releases underlying resources.
	Close() error
}

// DispatchFunc adapts a function to IntentDispatcher.
type DispatchFunc func(ctx context.Context, intent TradeIntent) error

func (f DispatchFunc) Dispatch(ctx context.Context, intent TradeIntent) error {
	return f(ctx, intent)
}
