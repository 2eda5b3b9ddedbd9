package execution

import (
	"context"

	"github.com/pkg/errors"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// Fanout hands every intent to each dispatcher in order. All dispatchers are
// tried; the first failure is returned.
type Fanout []model.IntentDispatcher

func (f Fanout) Dispatch(ctx context.Context, intent model.TradeIntent) error {
	var first error
	for _, d := range f {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, intent); err != nil && first == nil {
			first = errors.Wrapf(err, "dispatcher %T", d)
		}
	}
	return first
}
