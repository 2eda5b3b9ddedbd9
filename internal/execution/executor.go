// Package execution turns confirmed pattern signals into trade intents.
//
// The Executor holds a single position slot: while a position is open every
// further signal is suppressed and reported as such. It never talks to a
// broker itself; intents are handed to a model.IntentDispatcher by the caller.
package execution

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/caseykingsley77/trade-bot/internal/model"
	"github.com/caseykingsley77/trade-bot/internal/strategy"
)

// Status is the result of an Execute call.
type Status string

const (
	StatusExecuted                Status = "executed"
	StatusSkippedExistingPosition Status = "skipped_existing_position"
)

// Outcome represents the result of handling one signal. Intent is set only
// when Status is StatusExecuted.
type Outcome struct {
	Status Status
	Signal strategy.Signal
	Intent *model.TradeIntent
}

// Executed reports whether a new position was opened.
func (o Outcome) Executed() bool { return o.Status == StatusExecuted }

// Config carries the contract parameters of every intent.
//
// RiskPercent and ProfitTargetRatio are accepted for configuration parity but
// do not influence Stake, which is always the configured constant.
type Config struct {
	Symbol       string
	Stake        float64
	Currency     string
	Duration     int
	DurationUnit string

	RiskPercent       float64
	ProfitTargetRatio float64
}

// Executor gates signals on the single position slot.
type Executor struct {
	cfg      Config
	position *model.Position
	now      func() time.Time
}

// NewExecutor creates an executor with no open position.
func NewExecutor(cfg Config) *Executor {
	if cfg.Stake <= 0 {
		cfg.Stake = 10
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 15
	}
	if cfg.DurationUnit == "" {
		cfg.DurationUnit = "m"
	}
	return &Executor{cfg: cfg, now: time.Now}
}

// Execute opens a position for sig unless one is already open.
func (e *Executor) Execute(tradeType model.TradeType, sig strategy.Signal) Outcome {
	if e.position != nil {
		return Outcome{Status: StatusSkippedExistingPosition, Signal: sig}
	}

	now := e.now().UTC()
	intent := &model.TradeIntent{
		ID:           uuid.NewString(),
		TradeType:    tradeType,
		Stake:        e.cfg.Stake,
		Basis:        "stake",
		Currency:     e.cfg.Currency,
		Symbol:       e.cfg.Symbol,
		Duration:     e.cfg.Duration,
		DurationUnit: e.cfg.DurationUnit,
		Pattern:      string(sig.Kind),
		Entry:        sig.Entry,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		RiskAmount:   math.Abs(sig.Entry - sig.StopLoss),
		CreatedAt:    now,
	}
	e.position = &model.Position{
		TradeType:  tradeType,
		Entry:      sig.Entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		OpenedAt:   now,
	}
	return Outcome{Status: StatusExecuted, Signal: sig, Intent: intent}
}

// Position returns the open position, if any.
func (e *Executor) Position() (model.Position, bool) {
	if e.position == nil {
		return model.Position{}, false
	}
	return *e.position, true
}

// ClosePosition frees the slot and reports whether a position was open.
// Nothing in this package decides when that should happen.
func (e *Executor) ClosePosition() bool {
	open := e.position != nil
	e.position = nil
	return open
}
