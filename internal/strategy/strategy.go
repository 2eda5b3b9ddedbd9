// Package strategy recognises double-top and double-bottom reversals on a
// candle window and derives entry, stop-loss and take-profit levels.
//
// Detection is stateless: every call looks at the full window it is given.
package strategy

import (
	"fmt"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// Kind names a detected formation.
type Kind string

const (
	KindDoubleTop    Kind = "double_top"
	KindDoubleBottom Kind = "double_bottom"
)

// TradeType maps a formation to the contract direction it trades: a double
// top is bearish (PUT), a double bottom bullish (CALL).
func (k Kind) TradeType() model.TradeType {
	if k == KindDoubleTop {
		return model.TradePut
	}
	return model.TradeCall
}

// Signal is a confirmed formation with its risk levels. Ref1/Ref2 are the two
// peak (or trough) prices, oldest first.
type Signal struct {
	Kind       Kind    `json:"pattern"`
	Ref1       float64 `json:"ref1"`
	Ref2       float64 `json:"ref2"`
	Ref1Index  int     `json:"ref1_index"`
	Ref2Index  int     `json:"ref2_index"`
	Neckline   float64 `json:"neckline"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Time       int64   `json:"time"` // open time of the confirming candle
}

// Reason renders the signal for logs and alerts.
func (s Signal) Reason() string {
	ref := "peak"
	if s.Kind == KindDoubleBottom {
		ref = "trough"
	}
	return fmt.Sprintf("%s: %s1=%.5f %s2=%.5f neckline=%.5f entry=%.5f sl=%.5f tp=%.5f",
		s.Kind, ref, s.Ref1, ref, s.Ref2, s.Neckline, s.Entry, s.StopLoss, s.TakeProfit)
}
