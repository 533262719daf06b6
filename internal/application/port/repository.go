package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/internal/domain/model"
)

// ErrAssetNotFound is returned when a ticker or id has no asset row.
var ErrAssetNotFound = errors.New("asset not found")

// ErrQuoteNotFound is returned when an asset has no stored quote yet.
var ErrQuoteNotFound = errors.New("quote not found")

// AssetLookup resolves feed tickers to internal asset ids.
type AssetLookup interface {
	ResolveTicker(ctx context.Context, ticker string) (int64, error)
}

// QuoteStore appends quote observations.
type QuoteStore interface {
	InsertQuote(ctx context.Context, q *model.Quote) error
}

// QuoteReader reads back stored quotes. The latest quote is the one with the
// newest quote time; ties go to the last inserted.
type QuoteReader interface {
	LatestQuote(ctx context.Context, assetID int64) (*model.Quote, error)
}

// DedupLedger records feed message ids that were already applied.
type DedupLedger interface {
	Exists(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string, at time.Time) error
}

// QuoteTx is the view of the store inside one atomic unit.
type QuoteTx interface {
	QuoteStore
	DedupLedger
}

// UnitOfWork runs fn inside a single transaction. Writes made through tx are
// committed together when fn returns nil and discarded otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx QuoteTx) error) error
}

// QuoteRepository is what the idempotent processor needs from storage.
type QuoteRepository interface {
	DedupLedger
	UnitOfWork
}

// PositionStore refreshes position P&L after a price change.
type PositionStore interface {
	RecomputeForPrice(ctx context.Context, assetID int64, price decimal.Decimal) error
}

// OperationStore lists a user's trade operations for one asset.
type OperationStore interface {
	ListOperations(ctx context.Context, userID, assetID int64) ([]model.Operation, error)
}

// PortfolioStore lists a user's holdings for valuation.
type PortfolioStore interface {
	PositionsByUser(ctx context.Context, userID int64) ([]model.Position, error)
	AssetByID(ctx context.Context, assetID int64) (*model.Asset, error)
}
