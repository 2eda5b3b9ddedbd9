package execution

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// PaperDispatcher logs intents instead of submitting them. It is the default
// dispatcher: real order submission is opt-in.
type PaperDispatcher struct {
	log *zap.Logger

	mu      sync.RWMutex
	intents []model.TradeIntent
}

// NewPaperDispatcher creates a paper dispatcher.
func NewPaperDispatcher(log *zap.Logger) *PaperDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaperDispatcher{
		log:     log.Named("paper"),
		intents: make([]model.TradeIntent, 0, 16),
	}
}

// Dispatch records the intent.
func (p *PaperDispatcher) Dispatch(ctx context.Context, intent model.TradeIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.intents = append(p.intents, intent)
	p.mu.Unlock()

	p.log.Info("trade logged (real trading disabled)",
		zap.String("intent_id", intent.ID),
		zap.String("symbol", intent.Symbol),
		zap.String("contract_type", string(intent.TradeType)),
		zap.Float64("stake", intent.Stake),
		zap.String("currency", intent.Currency),
		zap.Int("duration", intent.Duration),
		zap.String("duration_unit", intent.DurationUnit),
		zap.Float64("entry", intent.Entry),
		zap.Float64("stop_loss", intent.StopLoss),
		zap.Float64("take_profit", intent.TakeProfit),
	)
	return nil
}

// Intents returns a snapshot of everything dispatched so far.
func (p *PaperDispatcher) Intents() []model.TradeIntent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.TradeIntent, len(p.intents))
	copy(cp, p.intents)
	return cp
}
