package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

type memReader struct {
	candles []model.Candle
	gotTS   int64
}

func (m *memReader) ReadCandles(_ context.Context, _ string, _ int, afterTS int64) ([]model.Candle, error) {
	m.gotTS = afterTS
	var out []model.Candle
	for _, c := range m.candles {
		if c.Time > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memReader) Close() error { return nil }

func series(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Time: 1700000000 + int64(i)*300, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return out
}

func drain(ch chan model.Event) []model.Event {
	close(ch)
	var out []model.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestReplayer_WarmupThenUpdates(t *testing.T) {
	r := New(&memReader{candles: series(5)}, nil)
	out := make(chan model.Event, 10)

	n, err := r.Run(context.Background(), Options{Symbol: "R_100", Granularity: 300, Warmup: 3}, out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	events := drain(out)
	require.Len(t, events, 3)
	batch, ok := events[0].(model.CandleBatch)
	require.True(t, ok)
	assert.Len(t, batch.Candles, 3)
	assert.Equal(t, int64(1700000900), events[1].(model.CandleUpdate).Candle.Time)
	assert.Equal(t, int64(1700001200), events[2].(model.CandleUpdate).Candle.Time)
}

func TestReplayer_SpeedScalesGaps(t *testing.T) {
	r := New(&memReader{candles: series(3)}, nil)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out := make(chan model.Event, 10)
	_, err := r.Run(context.Background(), Options{Speed: 100}, out)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, slept)
	assert.Len(t, drain(out), 3)

	slept = nil
	out = make(chan model.Event, 10)
	_, err = r.Run(context.Background(), Options{Speed: 1}, out)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{maxGap, maxGap}, slept)
}

func TestReplayer_FromTSAndEmpty(t *testing.T) {
	mr := &memReader{candles: series(4)}
	r := New(mr, nil)
	out := make(chan model.Event, 10)

	n, err := r.Run(context.Background(), Options{FromTS: 1700000300}, out)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000300), mr.gotTS)
	assert.Equal(t, 2, n)

	n, err = New(&memReader{}, nil).Run(context.Background(), Options{}, make(chan model.Event))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayer_Cancel(t *testing.T) {
	r := New(&memReader{candles: series(3)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := r.Run(ctx, Options{}, make(chan model.Event))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
