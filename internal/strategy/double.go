package strategy

import (
	"math"

	"github.com/caseykingsley77/trade-bot/internal/extrema"
	"github.com/caseykingsley77/trade-bot/internal/model"
)

// Config holds detector parameters. Zero values fall back to the defaults.
type Config struct {
	Tolerance         float64 // max |p1-p2|/p1, e.g. 0.002 = 0.2%
	MinCandlesBetween int     // min index gap between the two references
	Order             int     // extrema neighbour order
	MinCandles        int     // window size below which nothing is reported
}

const (
	DefaultTolerance         = 0.002
	DefaultMinCandlesBetween = 10
	DefaultMinCandles        = 20
)

// Detector finds double tops and double bottoms.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, filling unset parameters with defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MinCandlesBetween <= 0 {
		cfg.MinCandlesBetween = DefaultMinCandlesBetween
	}
	if cfg.Order <= 0 {
		cfg.Order = extrema.DefaultOrder
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = DefaultMinCandles
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective parameters.
func (d *Detector) Config() Config { return d.cfg }

// Analyze runs both detectors. The double top, if any, comes first. Both can
// confirm on the same window; the caller decides what to do with that.
func (d *Detector) Analyze(candles []model.Candle) []Signal {
	var out []Signal
	if s := d.DetectDoubleTop(candles); s != nil {
		out = append(out, *s)
	}
	if s := d.DetectDoubleBottom(candles); s != nil {
		out = append(out, *s)
	}
	return out
}

// DetectDoubleTop returns the most recent double top whose neckline the last
// close has broken, or nil.
func (d *Detector) DetectDoubleTop(candles []model.Candle) *Signal {
	return d.detect(candles, KindDoubleTop)
}

// DetectDoubleBottom is the mirror image of DetectDoubleTop.
func (d *Detector) DetectDoubleBottom(candles []model.Candle) *Signal {
	return d.detect(candles, KindDoubleBottom)
}

func (d *Detector) detect(candles []model.Candle, kind Kind) *Signal {
	if len(candles) < d.cfg.MinCandles {
		return nil
	}

	top := kind == KindDoubleTop
	refs := make([]float64, len(candles))
	for i, c := range candles {
		if top {
			refs[i] = c.High
		} else {
			refs[i] = c.Low
		}
	}

	var idx []int
	if top {
		idx = extrema.Peaks(refs, d.cfg.Order)
	} else {
		idx = extrema.Troughs(refs, d.cfg.Order)
	}
	if len(idx) < 2 {
		return nil
	}

	last := candles[len(candles)-1]

	// newest adjacent pair first
	for i := len(idx) - 2; i >= 0; i-- {
		i1, i2 := idx[i], idx[i+1]
		if i2-i1 < d.cfg.MinCandlesBetween {
			continue
		}

		p1, p2 := refs[i1], refs[i2]
		if p1 == 0 || math.Abs(p1-p2)/p1 > d.cfg.Tolerance {
			continue
		}

		neckline := necklineOf(candles[i1:i2+1], top)
		if top && !(last.Close < neckline) {
			continue
		}
		if !top && !(last.Close > neckline) {
			continue
		}

		sig := &Signal{
			Kind:      kind,
			Ref1:      p1,
			Ref2:      p2,
			Ref1Index: i1,
			Ref2Index: i2,
			Neckline:  neckline,
			Entry:     last.Close,
			Time:      last.Time,
		}
		if top {
			sig.StopLoss = math.Max(p1, p2)
			sig.TakeProfit = neckline - (sig.StopLoss - neckline)
		} else {
			sig.StopLoss = math.Min(p1, p2)
			sig.TakeProfit = neckline + (neckline - sig.StopLoss)
		}
		return sig
	}
	return nil
}

// necklineOf is the lowest low (top) or highest high (bottom) over span.
func necklineOf(span []model.Candle, top bool) float64 {
	if top {
		m := span[0].Low
		for _, c := range span[1:] {
			m = math.Min(m, c.Low)
		}
		return m
	}
	m := span[0].High
	for _, c := range span[1:] {
		m = math.Max(m, c.High)
	}
	return m
}
