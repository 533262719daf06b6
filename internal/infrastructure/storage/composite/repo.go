package composite

import (
	"context"

	"github.com/shopspring/decimal"

	"quoteflow/internal/application/port"
)

// Positions fans a price change out to every store. All stores are called;
// the first error is returned.
type Positions struct {
	stores []port.PositionStore
}

func NewPositions(stores ...port.PositionStore) *Positions {
	// nil stores are allowed; filter in constructor for safety
	out := make([]port.PositionStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Positions{stores: out}
}

func (p *Positions) RecomputeForPrice(ctx context.Context, assetID int64, price decimal.Decimal) error {
	var firstErr error
	for _, s := range p.stores {
		if err := s.RecomputeForPrice(ctx, assetID, price); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.PositionStore = (*Positions)(nil)
