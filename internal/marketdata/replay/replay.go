// Package replay reads recorded candles and feeds them to a session as the
// live feed would: an optional history batch, then one update per candle.
package replay

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Options select what is replayed and how fast.
type Options struct {
	Symbol      string
	Granularity int
	FromTS      int64   // replay candles after this Unix timestamp (0 = all)
	Speed       float64 // 1.0 = real time, 100 = 100x, 0 = as fast as possible
	Warmup      int     // leading candles delivered as one CandleBatch
}

// Replayer emits stored candles as feed events.
type Replayer struct {
	reader model.CandleReader
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by a candle reader.
func New(reader model.CandleReader, log *zap.Logger) *Replayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{reader: reader, log: log.Named("replay"), sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run sends events to out and returns the number of candles emitted. It does
// not close out.
func (r *Replayer) Run(ctx context.Context, opts Options, out chan<- model.Event) (int, error) {
	candles, err := r.reader.ReadCandles(ctx, opts.Symbol, opts.Granularity, opts.FromTS)
	if err != nil {
		return 0, errors.Wrap(err, "replay: read candles")
	}
	if len(candles) == 0 {
		r.log.Info("no candles found", zap.String("symbol", opts.Symbol))
		return 0, nil
	}
	r.log.Info("loaded candles",
		zap.String("symbol", opts.Symbol),
		zap.Int("count", len(candles)),
		zap.Float64("speed", opts.Speed))

	emitted := 0
	send := func(ev model.Event) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	warm := opts.Warmup
	if warm > len(candles) {
		warm = len(candles)
	}
	if warm > 0 {
		batch := append([]model.Candle(nil), candles[:warm]...)
		if err := send(model.CandleBatch{Candles: batch}); err != nil {
			return emitted, err
		}
		emitted += warm
	}

	prev := int64(0)
	if warm > 0 {
		prev = candles[warm-1].Time
	}
	for _, c := range candles[warm:] {
		if opts.Speed > 0 && prev != 0 {
			if gap := time.Duration(c.Time-prev) * time.Second; gap > 0 {
				scaled := time.Duration(float64(gap) / opts.Speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					r.log.Info("cancelled", zap.Int("emitted", emitted))
					return emitted, err
				}
			}
		}
		prev = c.Time

		if err := send(model.CandleUpdate{Candle: c}); err != nil {
			return emitted, err
		}
		emitted++
	}

	r.log.Info("completed", zap.Int("emitted", emitted))
	return emitted, nil
}
