package window

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

const t0 = int64(1700000000)

func bar(i int, close float64) model.Candle {
	return model.Candle{
		Time:  t0 + int64(i)*300,
		Open:  close,
		High:  close + 0.001,
		Low:   close - 0.001,
		Close: close,
	}
}

func times(cs []model.Candle) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.Time
	}
	return out
}

func TestWindow_AppendEvictsOldest(t *testing.T) {
	w := New(5)
	for i := 0; i < 12; i++ {
		appended, err := w.Upsert(bar(i, 1.1))
		require.NoError(t, err)
		assert.True(t, appended, "candle %d", i)
		assert.LessOrEqual(t, w.Len(), 5)
	}

	want := []int64{t0 + 7*300, t0 + 8*300, t0 + 9*300, t0 + 10*300, t0 + 11*300}
	assert.Equal(t, want, times(w.Snapshot()))
}

func TestWindow_SameTimeReplacesInPlace(t *testing.T) {
	w := New(3)
	for i := 0; i < 3; i++ {
		_, err := w.Upsert(bar(i, 1.0))
		require.NoError(t, err)
	}

	fix := bar(2, 1.5)
	appended, err := w.Upsert(fix)
	require.NoError(t, err)
	assert.False(t, appended)
	assert.Equal(t, 3, w.Len())

	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 1.5, last.Close)
	assert.Equal(t, t0, w.Snapshot()[0].Time, "no eviction on correction")
}

func TestWindow_RejectsMalformedAndKeepsState(t *testing.T) {
	w := New(4)
	_, err := w.Upsert(bar(0, 1.0))
	require.NoError(t, err)
	before := w.Snapshot()

	bad := bar(1, 1.0)
	bad.High = math.NaN()
	appended, err := w.Upsert(bad)
	assert.False(t, appended)
	assert.True(t, errors.Is(err, ErrInvalidCandle))
	assert.Equal(t, before, w.Snapshot())

	appended, err = w.Upsert(bar(-1, 1.0))
	assert.False(t, appended)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, before, w.Snapshot())

	// the window keeps accepting good candles afterwards
	appended, err = w.Upsert(bar(1, 1.2))
	require.NoError(t, err)
	assert.True(t, appended)
}

func TestWindow_LoadKeepsNewestAndIsIdempotent(t *testing.T) {
	w := New(4)
	var hist []model.Candle
	for i := 0; i < 10; i++ {
		hist = append(hist, bar(i, 1.0+float64(i)/100))
	}

	require.NoError(t, w.Load(hist))
	first := w.Snapshot()
	assert.Equal(t, []int64{t0 + 6*300, t0 + 7*300, t0 + 8*300, t0 + 9*300}, times(first))

	require.NoError(t, w.Load(hist))
	assert.Equal(t, first, w.Snapshot())
}

func TestWindow_LoadAfterWrapResetsRing(t *testing.T) {
	w := New(3)
	for i := 0; i < 7; i++ {
		_, err := w.Upsert(bar(i, 1.0))
		require.NoError(t, err)
	}
	require.NoError(t, w.Load([]model.Candle{bar(20, 2.0), bar(21, 2.1)}))
	assert.Equal(t, []int64{t0 + 20*300, t0 + 21*300}, times(w.Snapshot()))

	_, err := w.Upsert(bar(22, 2.2))
	require.NoError(t, err)
	_, err = w.Upsert(bar(23, 2.3))
	require.NoError(t, err)
	assert.Equal(t, []int64{t0 + 21*300, t0 + 22*300, t0 + 23*300}, times(w.Snapshot()))
}

func TestWindow_LoadCollapsesDuplicateTimes(t *testing.T) {
	w := New(10)
	require.NoError(t, w.Load([]model.Candle{bar(0, 1.0), bar(1, 1.1), bar(1, 1.2), bar(2, 1.3)}))

	snap := w.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 1.2, snap[1].Close)
}

func TestWindow_LoadRejectsBadInputUnchanged(t *testing.T) {
	w := New(10)
	require.NoError(t, w.Load([]model.Candle{bar(0, 1.0)}))

	bad := bar(2, 1.0)
	bad.Close = -1
	err := w.Load([]model.Candle{bar(1, 1.0), bad})
	assert.True(t, errors.Is(err, ErrInvalidCandle))

	err = w.Load([]model.Candle{bar(3, 1.0), bar(2, 1.0)})
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	assert.Equal(t, []int64{t0}, times(w.Snapshot()))
}

func TestWindow_SnapshotIsACopy(t *testing.T) {
	w := New(3)
	_, _ = w.Upsert(bar(0, 1.0))
	snap := w.Snapshot()
	snap[0].Close = 99

	last, _ := w.Last()
	assert.Equal(t, 1.0, last.Close)
}

func TestWindow_DefaultLookback(t *testing.T) {
	assert.Equal(t, DefaultLookback, New(0).Cap())
	_, ok := New(0).Last()
	assert.False(t, ok)
}
