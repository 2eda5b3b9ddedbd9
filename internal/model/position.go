package model

import (
	"time"

	"github.com/bytedance/sonic"
)

// TradeType is the contract direction: CALL bets on a rise, PUT on a fall.
type TradeType string

const (
	TradeCall TradeType = "CALL"
	TradePut  TradeType = "PUT"
)

// Position is the single open trade a session may hold.
type Position struct {
	TradeType  TradeType `json:"trade_type"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// TradeIntent is what the executor hands to an order-submission collaborator.
// Stake is a configured constant; RiskAmount is informational only.
type TradeIntent struct {
	ID           string    `json:"id"`
	TradeType    TradeType `json:"trade_type"`
	Stake        float64   `json:"stake"`
	Basis        string    `json:"basis"`
	Currency     string    `json:"currency"`
	Symbol       string    `json:"symbol"`
	Duration     int       `json:"duration"`
	DurationUnit string    `json:"duration_unit"`

	Pattern    string    `json:"pattern"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	RiskAmount float64   `json:"risk_amount"`
	CreatedAt  time.Time `json:"created_at"`
}

// JSON returns the JSON-encoded intent.
func (t *TradeIntent) JSON() []byte {
	b, _ := sonic.Marshal(t)
	return b
}
