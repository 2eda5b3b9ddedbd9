package model

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedCandle is returned when a candle carries a non-finite or
// negative price, or a non-positive time.
var ErrMalformedCandle = errors.New("malformed candle")

// Candle is one OHLC bar. Time is the bar's open time in epoch seconds and is
// the candle's identity inside a window.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Validate reports whether the candle can be stored. High/low consistency
// with open/close is not checked.
func (c Candle) Validate() error {
	if c.Time <= 0 {
		return errors.Wrapf(ErrMalformedCandle, "time %d", c.Time)
	}
	for _, p := range [...]struct {
		name string
		v    float64
	}{{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}} {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return errors.Wrapf(ErrMalformedCandle, "%s is not a number", p.name)
		}
		if p.v < 0 {
			return errors.Wrapf(ErrMalformedCandle, "%s is negative (%v)", p.name, p.v)
		}
	}
	return nil
}

// TS returns the candle open time as UTC.
func (c Candle) TS() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

func (c Candle) String() string {
	return fmt.Sprintf("%s O=%.5f H=%.5f L=%.5f C=%.5f",
		c.TS().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
}
