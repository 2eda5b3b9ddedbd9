// Package window keeps the bounded, time-ordered candle history a pattern
// detector runs over.
//
// The window is a fixed-capacity ring: a genuinely new candle time appends and,
// once full, overwrites the oldest entry. An update carrying the same time as
// the newest candle replaces it in place.
package window

import (
	"github.com/pkg/errors"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// DefaultLookback is the number of candles kept when none is configured.
const DefaultLookback = 50

var (
	// ErrInvalidCandle wraps model validation failures.
	ErrInvalidCandle = errors.New("window: invalid candle")
	// ErrOutOfOrder is returned for a candle older than the newest one held.
	ErrOutOfOrder = errors.New("window: candle older than last")
)

// Window is a bounded candle buffer. It is not safe for concurrent use; a
// session owns exactly one.
type Window struct {
	buf    []model.Candle
	start  int
	length int
}

// New creates an empty window holding at most lookback candles.
func New(lookback int) *Window {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Window{buf: make([]model.Candle, lookback)}
}

// Cap returns the lookback period.
func (w *Window) Cap() int { return len(w.buf) }

// Len returns the number of candles held.
func (w *Window) Len() int { return w.length }

// Last returns the newest candle.
func (w *Window) Last() (model.Candle, bool) {
	if w.length == 0 {
		return model.Candle{}, false
	}
	return w.at(w.length - 1), true
}

// Load replaces the window contents with candles, which must be ordered by
// non-decreasing time. Equal consecutive times collapse to the later candle and
// only the newest Cap() candles are kept. On error the window is unchanged.
func (w *Window) Load(candles []model.Candle) error {
	clean := make([]model.Candle, 0, len(candles))
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return errors.Wrapf(ErrInvalidCandle, "index %d: %v", i, err)
		}
		if n := len(clean); n > 0 {
			prev := clean[n-1]
			if c.Time < prev.Time {
				return errors.Wrapf(ErrOutOfOrder, "index %d: time %d after %d", i, c.Time, prev.Time)
			}
			if c.Time == prev.Time {
				clean[n-1] = c
				continue
			}
		}
		clean = append(clean, c)
	}

	if len(clean) > len(w.buf) {
		clean = clean[len(clean)-len(w.buf):]
	}
	w.start = 0
	w.length = copy(w.buf, clean)
	return nil
}

// Upsert applies a live candle. A candle with the newest held time replaces it
// and returns false; a newer time appends (evicting the oldest when full) and
// returns true. Only the append branch should trigger re-analysis.
func (w *Window) Upsert(c model.Candle) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, errors.Wrap(ErrInvalidCandle, err.Error())
	}

	if last, ok := w.Last(); ok {
		switch {
		case c.Time == last.Time:
			w.buf[w.index(w.length-1)] = c
			return false, nil
		case c.Time < last.Time:
			return false, errors.Wrapf(ErrOutOfOrder, "time %d before %d", c.Time, last.Time)
		}
	}

	if w.length < len(w.buf) {
		w.buf[w.index(w.length)] = c
		w.length++
		return true, nil
	}
	// full: overwrite oldest
	w.buf[w.start] = c
	w.start = (w.start + 1) % len(w.buf)
	return true, nil
}

// Snapshot returns a copy of the held candles, oldest first.
func (w *Window) Snapshot() []model.Candle {
	out := make([]model.Candle, w.length)
	for i := range out {
		out[i] = w.at(i)
	}
	return out
}

func (w *Window) index(i int) int { return (w.start + i) % len(w.buf) }

func (w *Window) at(i int) model.Candle { return w.buf[w.index(i)] }
